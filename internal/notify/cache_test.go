package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3loqt/unihealth-app-sub008/internal/store"
)

type fakeRemote struct {
	mu        sync.Mutex
	markReads []string
	deletes   []string
	fail      error
}

func (f *fakeRemote) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.markReads = append(f.markReads, id)
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeRemote) markReadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.markReads)
}

func feedValue() map[string]any {
	return map[string]any{
		"n1": map[string]any{"id": "n1", "type": "appointment", "message": "new appointment", "relatedId": "a1", "read": false, "timestamp": float64(3000)},
		"n2": map[string]any{"id": "n2", "type": "referral", "message": "new referral", "relatedId": "r1", "read": false, "timestamp": float64(2000)},
		"n3": map[string]any{"id": "n3", "type": "appointment", "message": "old", "relatedId": "a0", "read": true, "timestamp": float64(1000)},
	}
}

func newTestCache(remote Remote) *Cache {
	return NewCache("u1", remote, 2*time.Second, zerolog.Nop())
}

func TestStateTransitions(t *testing.T) {
	c := newTestCache(&fakeRemote{})
	assert.Equal(t, Uninitialized, c.State())
	c.ApplyAuthoritative(feedValue())
	assert.Equal(t, Synced, c.State())
}

func TestApplyAuthoritative_OrderAndCount(t *testing.T) {
	c := newTestCache(&fakeRemote{})
	c.ApplyAuthoritative(feedValue())

	snap := c.Snapshot()
	require.Len(t, snap.Notifications, 3)
	assert.Equal(t, 2, snap.Unread)
	assert.Equal(t, "n1", snap.Notifications[0].ID, "newest first")
	assert.Equal(t, "n3", snap.Notifications[2].ID)
}

func TestMarkAsRead_OptimisticAndIdempotent(t *testing.T) {
	remote := &fakeRemote{}
	c := newTestCache(remote)
	c.ApplyAuthoritative(feedValue())

	require.NoError(t, c.MarkAsRead(context.Background(), "n1"))
	assert.Equal(t, 1, c.Unread())
	assert.Equal(t, 1, remote.markReadCount())

	// Second call: local state already read, no second remote call.
	require.NoError(t, c.MarkAsRead(context.Background(), "n1"))
	assert.Equal(t, 1, remote.markReadCount())

	// Unknown ID is a no-op.
	require.NoError(t, c.MarkAsRead(context.Background(), "missing"))
}

func TestMarkAsRead_RemoteFailureKeepsLocalState(t *testing.T) {
	remote := &fakeRemote{fail: fmt.Errorf("transport down")}
	c := newTestCache(remote)
	c.ApplyAuthoritative(feedValue())

	err := c.MarkAsRead(context.Background(), "n1")
	require.Error(t, err, "failure surfaces for telemetry")

	n, ok := c.Get("n1")
	require.True(t, ok)
	assert.True(t, n.Read, "optimistic change retained, no rollback")
	assert.Equal(t, 1, c.Unread())
}

func TestMarkAllAsRead(t *testing.T) {
	remote := &fakeRemote{}
	c := newTestCache(remote)
	c.ApplyAuthoritative(feedValue())

	require.NoError(t, c.MarkAllAsRead(context.Background()))
	assert.Zero(t, c.Unread())
	assert.Equal(t, 2, remote.markReadCount(), "only previously-unread entries written")

	// Invoking again is a no-op.
	require.NoError(t, c.MarkAllAsRead(context.Background()))
	assert.Equal(t, 2, remote.markReadCount())
	assert.Zero(t, c.Unread())
}

func TestDelete_UnknownIDIsNoop(t *testing.T) {
	remote := &fakeRemote{}
	c := newTestCache(remote)
	c.ApplyAuthoritative(feedValue())

	require.NoError(t, c.Delete(context.Background(), "doesNotExist"))
	assert.Len(t, c.Snapshot().Notifications, 3)
	assert.Empty(t, remote.deletes)

	require.NoError(t, c.Delete(context.Background(), "n2"))
	assert.Len(t, c.Snapshot().Notifications, 2)
	assert.Equal(t, []string{"n2"}, remote.deletes)
	assert.Equal(t, 1, c.Unread())
}

func TestReconcile_PendingMutationWinsOverSnapshot(t *testing.T) {
	remote := &fakeRemote{}
	c := newTestCache(remote)
	c.ApplyAuthoritative(feedValue())

	require.NoError(t, c.MarkAsRead(context.Background(), "n1"))

	// A stale authoritative snapshot still claims n1 is unread.
	c.ApplyAuthoritative(feedValue())

	n, ok := c.Get("n1")
	require.True(t, ok)
	assert.True(t, n.Read, "unacknowledged local mutation shields the field")
	assert.Equal(t, 1, c.Unread())
}

func TestReconcile_AckedMutationShieldedWithinGrace(t *testing.T) {
	remote := &fakeRemote{}
	c := newTestCache(remote)
	c.ApplyAuthoritative(feedValue())

	require.NoError(t, c.MarkAsRead(context.Background(), "n1"))
	c.Ack("n1")

	c.ApplyAuthoritative(feedValue())
	n, _ := c.Get("n1")
	assert.True(t, n.Read, "grace window covers post-ack staleness")

	// Outside the grace window the snapshot wins again.
	c.now = func() time.Time { return time.Now().Add(time.Minute) }
	c.ApplyAuthoritative(feedValue())
	n, _ = c.Get("n1")
	assert.False(t, n.Read)
}

func TestReconcile_SnapshotWinsForOtherFields(t *testing.T) {
	remote := &fakeRemote{}
	c := newTestCache(remote)
	c.ApplyAuthoritative(feedValue())
	require.NoError(t, c.MarkAsRead(context.Background(), "n1"))

	v := feedValue()
	v["n1"].(map[string]any)["message"] = "rescheduled"
	c.ApplyAuthoritative(v)

	n, _ := c.Get("n1")
	assert.Equal(t, "rescheduled", n.Message, "non-mutated fields follow the snapshot")
	assert.True(t, n.Read)
}

func TestReconcile_PendingDeleteShieldsReappearance(t *testing.T) {
	remote := &fakeRemote{}
	c := newTestCache(remote)
	c.ApplyAuthoritative(feedValue())
	require.NoError(t, c.Delete(context.Background(), "n2"))

	c.ApplyAuthoritative(feedValue())
	_, ok := c.Get("n2")
	assert.False(t, ok, "deleted entry must not resurface from a stale snapshot")
}

func TestApplyEvent_InsertUpdateDelete(t *testing.T) {
	c := newTestCache(&fakeRemote{})
	c.ApplyAuthoritative(map[string]any{})

	c.ApplyEvent(store.Event{
		Type:  store.EventInsert,
		Path:  "notifications/u1/n9",
		Value: map[string]any{"id": "n9", "message": "hello", "read": false, "timestamp": float64(500)},
	})
	assert.Equal(t, 1, c.Unread())

	c.ApplyEvent(store.Event{Type: store.EventUpdate, Path: "notifications/u1/n9/read", Value: true})
	assert.Zero(t, c.Unread())

	c.ApplyEvent(store.Event{Type: store.EventDelete, Path: "notifications/u1/n9"})
	assert.Empty(t, c.Snapshot().Notifications)
}

func TestApplyEvent_ReadFieldDeleteResetsToUnread(t *testing.T) {
	c := newTestCache(&fakeRemote{})
	c.ApplyAuthoritative(feedValue())
	require.Equal(t, 2, c.Unread(), "n3 starts read")

	// Removing the flag remotely resets the notification to unread.
	c.ApplyEvent(store.Event{Type: store.EventDelete, Path: "notifications/u1/n3/read"})
	n, ok := c.Get("n3")
	require.True(t, ok)
	assert.False(t, n.Read)
	assert.Equal(t, 3, c.Unread())
}

func TestApplyEvent_ReadFieldDeleteShieldedByLocalMark(t *testing.T) {
	remote := &fakeRemote{}
	c := newTestCache(remote)
	c.ApplyAuthoritative(feedValue())
	require.NoError(t, c.MarkAsRead(context.Background(), "n1"))

	// The in-flight local mark must not be undone by a racing field delete.
	c.ApplyEvent(store.Event{Type: store.EventDelete, Path: "notifications/u1/n1/read"})
	n, ok := c.Get("n1")
	require.True(t, ok)
	assert.True(t, n.Read)
}

func TestApplyEvent_OtherUsersFeedIgnored(t *testing.T) {
	c := newTestCache(&fakeRemote{})
	c.ApplyAuthoritative(map[string]any{})
	c.ApplyEvent(store.Event{
		Type:  store.EventInsert,
		Path:  "notifications/u2/n1",
		Value: map[string]any{"id": "n1", "read": false},
	})
	assert.Empty(t, c.Snapshot().Notifications)
}

func TestApplyEvent_SnapshotReplacesWholesale(t *testing.T) {
	c := newTestCache(&fakeRemote{})
	c.ApplyEvent(store.Event{Type: store.EventSnapshot, Path: "notifications/u1", Value: feedValue()})
	assert.Equal(t, Synced, c.State())
	assert.Len(t, c.Snapshot().Notifications, 3)

	// Reconnect snapshot with fewer entries fully replaces local remote-origin state.
	c.ApplyEvent(store.Event{Type: store.EventSnapshot, Path: "notifications/u1", Value: map[string]any{
		"n1": map[string]any{"id": "n1", "read": true, "timestamp": float64(3000)},
	}})
	assert.Len(t, c.Snapshot().Notifications, 1)
	assert.Zero(t, c.Unread())
}

func TestDecoderDegenerateFeeds(t *testing.T) {
	c := newTestCache(&fakeRemote{})
	for _, v := range []any{nil, map[string]any{}, "junk", float64(1)} {
		c.ApplyAuthoritative(v)
		assert.Empty(t, c.Snapshot().Notifications)
		assert.Zero(t, c.Unread())
	}
}
