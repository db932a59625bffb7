package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3loqt/unihealth-app-sub008/internal/store"
)

func TestReadWriteDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Write(ctx, "messages/T1/m1/seenBy/u1", true))

	v, err := s.Read(ctx, "messages/T1/m1/seenBy/u1")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = s.Read(ctx, "messages/T1/m1/seenBy")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"u1": true}, v)

	v, err = s.Read(ctx, "messages/T1/m9")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.Delete(ctx, "messages/T1/m1/seenBy/u1"))
	v, err = s.Read(ctx, "messages/T1")
	require.NoError(t, err)
	assert.Nil(t, v, "emptied parents are pruned")

	// Deleting an absent path is not an error.
	require.NoError(t, s.Delete(ctx, "messages/T1/m1/seenBy/u1"))
}

func TestWriteNilDeletes(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Write(ctx, "users/u1", map[string]any{"name": "a"}))
	require.NoError(t, s.Write(ctx, "users/u1", nil))
	v, err := s.Read(ctx, "users/u1")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSnapshotIsDetached(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Write(ctx, "users/u1/name", "alice"))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, "users/u1/name", "bob"))

	users := snap["users"].(map[string]any)
	assert.Equal(t, "alice", users["u1"].(map[string]any)["name"])
}

func TestReadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Write(ctx, "users/u1", map[string]any{"name": "alice"}))

	v, err := s.Read(ctx, "users/u1")
	require.NoError(t, err)
	v.(map[string]any)["name"] = "mallory"

	again, err := s.Read(ctx, "users/u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.(map[string]any)["name"])
}

func TestPushAssignsKeys(t *testing.T) {
	ctx := context.Background()
	s := New()
	k1, err := s.Push(ctx, "messages/T1", map[string]any{"body": "a"})
	require.NoError(t, err)
	k2, err := s.Push(ctx, "messages/T1", map[string]any{"body": "b"})
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)

	v, err := s.Read(ctx, "messages/T1")
	require.NoError(t, err)
	assert.Len(t, v, 2)
}

func collect(t *testing.T, sub store.Subscription, n int) []store.Event {
	t.Helper()
	out := make([]store.Event, 0, n)
	for len(out) < n {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "subscription closed early: %v", sub.Err())
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestWatchSnapshotThenDeltas(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Write(ctx, "notifications/u1/n1", map[string]any{"read": false}))

	sub, err := s.Watch(ctx, "notifications/u1")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, s.Write(ctx, "notifications/u1/n1/read", true))
	require.NoError(t, s.Write(ctx, "notifications/u1/n2", map[string]any{"read": false}))
	require.NoError(t, s.Delete(ctx, "notifications/u1/n1"))

	evs := collect(t, sub, 4)
	assert.Equal(t, store.EventSnapshot, evs[0].Type)
	assert.Equal(t, "notifications/u1", evs[0].Path)

	assert.Equal(t, store.EventUpdate, evs[1].Type)
	assert.Equal(t, "notifications/u1/n1/read", evs[1].Path)
	assert.Equal(t, true, evs[1].Value)

	assert.Equal(t, store.EventInsert, evs[2].Type)
	assert.Equal(t, "notifications/u1/n2", evs[2].Path)

	assert.Equal(t, store.EventDelete, evs[3].Type)
	assert.Equal(t, "notifications/u1/n1", evs[3].Path)
}

func TestWatchIgnoresUnrelatedPaths(t *testing.T) {
	ctx := context.Background()
	s := New()
	sub, err := s.Watch(ctx, "notifications/u1")
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()

	require.NoError(t, s.Write(ctx, "notifications/u2/n1", map[string]any{"read": false}))
	require.NoError(t, s.Write(ctx, "notifications/u1/n1", map[string]any{"read": false}))

	evs := collect(t, sub, 2)
	assert.Equal(t, store.EventSnapshot, evs[0].Type)
	assert.Equal(t, "notifications/u1/n1", evs[1].Path, "u2 event must not be delivered")
}

func TestWatchClose(t *testing.T) {
	ctx := context.Background()
	s := New()
	sub, err := s.Watch(ctx, "messages")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	// Drain the snapshot event, then the channel must be closed.
	for range sub.Events() {
	}
	assert.NoError(t, sub.Err())

	// Mutations after close must not panic.
	require.NoError(t, s.Write(ctx, "messages/T1/m1", map[string]any{"body": "x"}))
}
