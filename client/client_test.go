package client_test

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3loqt/unihealth-app-sub008/client"
	"github.com/m3loqt/unihealth-app-sub008/internal/config"
	"github.com/m3loqt/unihealth-app-sub008/internal/model"
	"github.com/m3loqt/unihealth-app-sub008/internal/notify"
	"github.com/m3loqt/unihealth-app-sub008/internal/store"
	"github.com/m3loqt/unihealth-app-sub008/internal/store/memory"
	"github.com/m3loqt/unihealth-app-sub008/internal/syncerr"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		JournalPath: filepath.Join(t.TempDir(), "pending.db"),
		GraceWindow: 2 * time.Second,
	}
}

func openSession(t *testing.T, st store.Store, userID string) *client.Session {
	t.Helper()
	s, err := client.Open(context.Background(), testConfig(t), userID,
		client.WithStore(st), client.WithoutJournal())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_InvalidUserID(t *testing.T) {
	_, err := client.Open(context.Background(), testConfig(t), "bad/user",
		client.WithStore(memory.New()))
	require.ErrorIs(t, err, client.ErrInvalidIdentifier)

	_, err = client.Open(context.Background(), testConfig(t), "",
		client.WithStore(memory.New()))
	require.ErrorIs(t, err, client.ErrInvalidIdentifier)
}

func TestOpen_StoreURLOnlyRequiredForRESTBackend(t *testing.T) {
	ctx := context.Background()

	// No URL and no injected backend: nothing to talk to.
	_, err := client.Open(ctx, config.Config{}, "pat-1", client.WithoutJournal())
	require.Error(t, err)
	require.Contains(t, err.Error(), "store URL")

	// An injected backend needs no URL at all.
	s, err := client.Open(ctx, config.Config{}, "pat-1",
		client.WithStore(memory.New()), client.WithoutJournal())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestSendMessage_SenderSeen(t *testing.T) {
	st := memory.New()
	doctor := openSession(t, st, "doc-1")
	patient := openSession(t, st, "pat-1")
	ctx := context.Background()

	id, err := doctor.SendMessage(ctx, "thread-1", "results are in")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	thread, err := patient.Thread(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)
	require.True(t, thread.Messages[0].SeenBy["doc-1"], "sender must be seen already")
	require.False(t, thread.Messages[0].SeenBy["pat-1"])

	require.NoError(t, patient.MarkSeen(ctx, "thread-1", id))
	thread, err = patient.Thread(ctx, "thread-1")
	require.NoError(t, err)
	require.True(t, thread.Messages[0].SeenBy["pat-1"])
}

func TestMarkThreadSeen_AllMessages(t *testing.T) {
	st := memory.New()
	doctor := openSession(t, st, "doc-1")
	patient := openSession(t, st, "pat-1")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := doctor.SendMessage(ctx, "thread-1", "note")
		require.NoError(t, err)
	}

	require.NoError(t, patient.MarkThreadSeen(ctx, "thread-1"))

	thread, err := patient.Thread(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 5)
	for _, m := range thread.Messages {
		require.True(t, m.SeenBy["pat-1"], "message %s", m.MessageID)
	}
}

func seedFeed(t *testing.T, st *memory.Store, userID string) {
	t.Helper()
	err := st.Write(context.Background(), "notifications/"+userID, map[string]any{
		"n1": map[string]any{
			"type":      "appointment",
			"message":   "Appointment confirmed",
			"relatedId": "appt-9",
			"read":      false,
			"timestamp": float64(1_700_000_002_000),
		},
		"n2": map[string]any{
			"type":      "referral",
			"message":   "New referral",
			"relatedId": "ref-3",
			"read":      true,
			"timestamp": float64(1_700_000_001_000),
		},
	})
	require.NoError(t, err)
}

func waitSynced(t *testing.T, s *client.Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == notify.Synced
	}, 2*time.Second, 10*time.Millisecond, "session never received an authoritative feed")
}

func TestNotifications_FeedLifecycle(t *testing.T) {
	st := memory.New()
	seedFeed(t, st, "pat-1")
	s := openSession(t, st, "pat-1")
	ctx := context.Background()

	waitSynced(t, s)
	snap := s.Notifications()
	require.Len(t, snap.Notifications, 2)
	require.Equal(t, "n1", snap.Notifications[0].ID, "newest first")
	require.Equal(t, 1, snap.Unread)

	require.NoError(t, s.MarkNotificationRead(ctx, "n1"))
	require.Equal(t, 0, s.UnreadCount(), "optimistic flip is immediate")

	require.NoError(t, s.AwaitIdle(ctx))
	v, err := st.Read(ctx, "notifications/pat-1/n1/read")
	require.NoError(t, err)
	require.Equal(t, true, v)

	require.NoError(t, s.DeleteNotification(ctx, "n2"))
	require.NoError(t, s.AwaitIdle(ctx))
	v, err = st.Read(ctx, "notifications/pat-1/n2")
	require.NoError(t, err)
	require.Nil(t, v)
	require.Len(t, s.Notifications().Notifications, 1)
}

func TestActivateNotification(t *testing.T) {
	st := memory.New()
	seedFeed(t, st, "pat-1")
	s := openSession(t, st, "pat-1")
	ctx := context.Background()
	waitSynced(t, s)

	typ, relatedID, err := s.ActivateNotification(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, model.NotificationAppointment, typ)
	require.Equal(t, "appt-9", relatedID)
	require.Equal(t, 0, s.UnreadCount())

	_, _, err = s.ActivateNotification(ctx, "nope")
	require.ErrorIs(t, err, client.ErrNotFound)
}

func TestLiveEvents_ReachCache(t *testing.T) {
	st := memory.New()
	s := openSession(t, st, "pat-1")
	ctx := context.Background()
	waitSynced(t, s)
	require.Equal(t, 0, s.UnreadCount())

	err := st.Write(ctx, "notifications/pat-1/n9", map[string]any{
		"type":      "appointment",
		"message":   "Reminder",
		"relatedId": "appt-1",
		"read":      false,
		"timestamp": float64(1_700_000_000_000),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.UnreadCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// flakyStore fails writes and deletes while tripped, so background
// mutations land in the journal and stay there.
type flakyStore struct {
	store.Store
	broken atomic.Bool
}

func (f *flakyStore) Write(ctx context.Context, path string, value any) error {
	if f.broken.Load() {
		return syncerr.Transport("write", path, context.DeadlineExceeded)
	}
	return f.Store.Write(ctx, path, value)
}

func (f *flakyStore) Delete(ctx context.Context, path string) error {
	if f.broken.Load() {
		return syncerr.Transport("delete", path, context.DeadlineExceeded)
	}
	return f.Store.Delete(ctx, path)
}

func TestJournal_ReplayOnReopen(t *testing.T) {
	mem := memory.New()
	seedFeed(t, mem, "pat-1")
	flaky := &flakyStore{Store: mem}
	flaky.broken.Store(true)

	cfg := testConfig(t)
	ctx := context.Background()

	s, err := client.Open(ctx, cfg, "pat-1", client.WithStore(flaky))
	require.NoError(t, err)
	waitSynced(t, s)

	require.NoError(t, s.MarkNotificationRead(ctx, "n1"))
	require.Equal(t, 0, s.UnreadCount())
	require.NoError(t, s.Close())

	// Store still reflects the old value.
	v, err := mem.Read(ctx, "notifications/pat-1/n1/read")
	require.NoError(t, err)
	require.Equal(t, false, v)

	flaky.broken.Store(false)
	s2, err := client.Open(ctx, cfg, "pat-1", client.WithStore(flaky))
	require.NoError(t, err)
	defer s2.Close()

	require.Eventually(t, func() bool {
		v, err := mem.Read(ctx, "notifications/pat-1/n1/read")
		return err == nil && v == true
	}, 5*time.Second, 20*time.Millisecond, "journaled mutation never replayed")
}

func TestClose_Idempotent(t *testing.T) {
	s := openSession(t, memory.New(), "pat-1")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
