// Package client is the per-user-session SDK for the portal's read-receipt
// and notification consistency layer. A Session owns the store handle, the
// local notification cache, the receipt writer, the pending-mutation journal
// and the live subscription pump; the UI layer talks only to this package.
package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/m3loqt/unihealth-app-sub008/internal/config"
	"github.com/m3loqt/unihealth-app-sub008/internal/decode"
	"github.com/m3loqt/unihealth-app-sub008/internal/journal"
	"github.com/m3loqt/unihealth-app-sub008/internal/logger"
	"github.com/m3loqt/unihealth-app-sub008/internal/model"
	"github.com/m3loqt/unihealth-app-sub008/internal/notify"
	"github.com/m3loqt/unihealth-app-sub008/internal/opqueue"
	"github.com/m3loqt/unihealth-app-sub008/internal/receipt"
	"github.com/m3loqt/unihealth-app-sub008/internal/store"
	"github.com/m3loqt/unihealth-app-sub008/internal/store/rest"
	"github.com/m3loqt/unihealth-app-sub008/internal/syncerr"
	"github.com/m3loqt/unihealth-app-sub008/internal/treepath"
)

// Session is one user's live binding to the store. All operations take the
// user from the session; there is no ambient current-user state anywhere in
// the core.
type Session struct {
	userID   string
	feedPath string

	store   store.Store
	writer  *receipt.Writer
	cache   *notify.Cache
	exec    *opqueue.Executor
	journal *journal.Journal
	log     zerolog.Logger

	fanoutLimit int
	grace       time.Duration
	noJournal   bool

	sub        store.Subscription
	pumpCancel context.CancelFunc
	pumpWG     sync.WaitGroup
	closedOnce uint32
}

// Open builds a Session for userID, replays any journaled mutations from a
// previous run, and starts the live subscription to the user's feed. The
// ctx bounds Open itself, not the session's lifetime.
func Open(ctx context.Context, cfg config.Config, userID string, opts ...Option) (*Session, error) {
	if !treepath.ValidKey(userID) {
		return nil, fmt.Errorf("%w: user ID %q", syncerr.ErrInvalidIdentifier, userID)
	}
	cfg.ResolveTuning()
	feedPath, err := treepath.NotificationFeed(userID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		userID:      userID,
		feedPath:    feedPath,
		log:         logger.New("sync-client"),
		fanoutLimit: cfg.FanoutLimit,
		grace:       cfg.GraceWindow,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.store == nil {
		// The store URL matters only when no backend was injected.
		if cfg.StoreURL == "" {
			return nil, fmt.Errorf("client: store URL must not be empty")
		}
		s.store = rest.New(cfg.StoreURL, cfg.StoreToken, cfg.HTTPTimeout, s.log)
	}

	if !s.noJournal {
		path := cfg.JournalPath
		if path == "" {
			if path, err = journal.DefaultPath(); err != nil {
				return nil, err
			}
		}
		if s.journal, err = journal.Open(path); err != nil {
			return nil, err
		}
	}

	s.exec = opqueue.New(opqueue.Config{
		Shards:    cfg.QueueShards,
		QueueSize: cfg.QueueSize,
	}, s.log)
	s.writer = receipt.NewWriter(s.store, s.log, s.fanoutLimit)
	s.cache = notify.NewCache(userID, &sessionRemote{s: s}, s.grace, s.log)

	if err := s.replayJournal(ctx); err != nil {
		s.log.Warn().Err(err).Msg("journal replay incomplete; rows stay pending")
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.pumpCancel = cancel
	sub, err := s.store.Watch(pumpCtx, s.feedPath)
	if err != nil {
		cancel()
		_ = s.exec.Close()
		if s.journal != nil {
			_ = s.journal.Close()
		}
		return nil, err
	}
	s.sub = sub
	s.pumpWG.Add(1)
	go s.pump()

	return s, nil
}

func (s *Session) pump() {
	defer s.pumpWG.Done()
	for ev := range s.sub.Events() {
		s.cache.ApplyEvent(ev)
	}
	if err := s.sub.Err(); err != nil {
		s.log.Warn().Err(err).Msg("live subscription ended")
	}
}

// Close stops the subscription, drains queued background ops and releases
// the journal. Safe to call more than once.
func (s *Session) Close() error {
	if !atomic.CompareAndSwapUint32(&s.closedOnce, 0, 1) {
		return nil
	}
	s.pumpCancel()
	if s.sub != nil {
		_ = s.sub.Close()
	}
	s.pumpWG.Wait()
	err := s.exec.Close()
	if s.journal != nil {
		if cerr := s.journal.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// --------------------------------------------------------------------
// Receipt operations
// --------------------------------------------------------------------

// MarkSeen records that this session's user has seen one message.
// Idempotent; a repeated call after success issues no write.
func (s *Session) MarkSeen(ctx context.Context, threadID, messageID string) error {
	return s.writer.MarkSeen(ctx, threadID, messageID, s.userID)
}

// MarkThreadSeen marks every message in the thread not yet seen by this
// user, with bounded concurrency. On partial failure the returned error is a
// *syncerr.PartialFanoutError; calling again retries exactly the failed
// subset.
func (s *Session) MarkThreadSeen(ctx context.Context, threadID string) error {
	return s.writer.MarkThreadSeen(ctx, threadID, s.userID)
}

// SendMessage appends a message to the thread (created implicitly on first
// send, as the store does) and records the sender's own receipt in the same
// record so senders never count as unread readers of themselves.
func (s *Session) SendMessage(ctx context.Context, threadID, body string) (string, error) {
	path, err := treepath.ThreadMessages(threadID)
	if err != nil {
		return "", err
	}
	msg := map[string]any{
		"senderId": s.userID,
		"body":     body,
		"sentAt":   decode.Millis(time.Now()),
		"seenBy":   map[string]any{s.userID: true},
	}
	return s.store.Push(ctx, path, msg)
}

// Thread reads and decodes a whole thread, ordered by send time.
func (s *Session) Thread(ctx context.Context, threadID string) (model.Thread, error) {
	path, err := treepath.ThreadMessages(threadID)
	if err != nil {
		return model.Thread{}, err
	}
	raw, err := s.store.Read(ctx, path)
	if err != nil {
		return model.Thread{}, err
	}
	thread, dropped := decode.Thread(threadID, raw)
	if dropped > 0 {
		s.log.Debug().Str("thread", threadID).Int("dropped", dropped).Msg("malformed messages skipped")
	}
	return thread, nil
}

// WatchThread opens a live subscription to one thread's messages. The caller
// owns the returned subscription and must Close it.
func (s *Session) WatchThread(ctx context.Context, threadID string) (store.Subscription, error) {
	path, err := treepath.ThreadMessages(threadID)
	if err != nil {
		return nil, err
	}
	return s.store.Watch(ctx, path)
}

// --------------------------------------------------------------------
// Notification operations
// --------------------------------------------------------------------

// Notifications returns the local feed snapshot with its derived unread
// count.
func (s *Session) Notifications() model.FeedSnapshot {
	return s.cache.Snapshot()
}

// UnreadCount returns the derived unread count.
func (s *Session) UnreadCount() int {
	return s.cache.Unread()
}

// State reports whether the session has received an authoritative feed yet.
func (s *Session) State() notify.State {
	return s.cache.State()
}

// MarkNotificationRead flips one notification to read, locally first. The
// remote write runs in the background and is journaled until acknowledged.
func (s *Session) MarkNotificationRead(ctx context.Context, id string) error {
	mutationsTotal.WithLabelValues("mark_read").Inc()
	return s.cache.MarkAsRead(ctx, id)
}

// MarkAllNotificationsRead marks every currently-unread notification.
func (s *Session) MarkAllNotificationsRead(ctx context.Context) error {
	mutationsTotal.WithLabelValues("mark_all_read").Inc()
	return s.cache.MarkAllAsRead(ctx)
}

// DeleteNotification removes a notification. Unknown IDs are a no-op.
func (s *Session) DeleteNotification(ctx context.Context, id string) error {
	mutationsTotal.WithLabelValues("delete").Inc()
	return s.cache.Delete(ctx, id)
}

// ActivateNotification marks the notification read and returns what the
// caller needs to route: the type and the related entity ID. The core does
// no navigation itself. The returned type and ID are valid even when err is
// non-nil (a failed background write), so the caller can still navigate.
func (s *Session) ActivateNotification(ctx context.Context, id string) (model.NotificationType, string, error) {
	n, ok := s.cache.Get(id)
	if !ok {
		return "", "", fmt.Errorf("%w: notification %q", syncerr.ErrNotFound, id)
	}
	err := s.cache.MarkAsRead(ctx, id)
	return n.Type, n.RelatedID, err
}

// Refresh replaces the local feed with a fresh authoritative decode and
// replays any still-journaled mutations. Optimistic state survives only for
// entries whose remote call is pending or freshly acknowledged.
func (s *Session) Refresh(ctx context.Context) error {
	raw, err := s.store.Read(ctx, s.feedPath)
	if err != nil {
		return err
	}
	s.cache.ApplyAuthoritative(raw)
	if err := s.replayJournal(ctx); err != nil {
		s.log.Warn().Err(err).Msg("journal replay incomplete; rows stay pending")
	}
	return nil
}

// AwaitIdle blocks until every background feed mutation submitted so far
// has been attempted, by queuing a barrier behind them.
func (s *Session) AwaitIdle(ctx context.Context) error {
	return s.exec.Barrier(ctx, s.feedPath)
}

// --------------------------------------------------------------------
// Journal replay
// --------------------------------------------------------------------

// replayJournal resubmits every journaled mutation for this user. Rows are
// acknowledged (and removed) only after the store confirms the op; replays
// are idempotent because journaled ops are field-level writes and deletes.
func (s *Session) replayJournal(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	ops, err := s.journal.Pending(ctx, s.userID)
	if err != nil {
		return err
	}
	for _, op := range ops {
		op := op
		value, err := op.DecodedValue()
		if err != nil {
			// A row we cannot decode can never succeed; drop it.
			s.log.Error().Err(err).Int64("row", op.ID).Msg("discarding undecodable journal row")
			_ = s.journal.Ack(ctx, op.ID)
			continue
		}
		journalReplaysTotal.Inc()
		submitErr := s.exec.Submit(ctx, s.feedPath, opqueue.OpFunc(func(runCtx context.Context) error {
			var err error
			switch op.Kind {
			case journal.KindWrite:
				err = s.store.Write(runCtx, op.Path, value)
			case journal.KindDelete:
				err = s.store.Delete(runCtx, op.Path)
			}
			if err != nil {
				return err
			}
			if id, ok := notificationIDFromPath(s.feedPath, op.Path); ok {
				s.cache.Ack(id)
			}
			return s.journal.Ack(runCtx, op.ID)
		}))
		if submitErr != nil {
			return submitErr
		}
	}
	return nil
}

// notificationIDFromPath extracts the notification ID from a journaled path
// under the feed root, e.g. notifications/u1/n1/read -> n1.
func notificationIDFromPath(feedPath, path string) (string, bool) {
	feedSegs := treepath.Split(feedPath)
	segs := treepath.Split(path)
	if len(segs) <= len(feedSegs) {
		return "", false
	}
	for i, fs := range feedSegs {
		if segs[i] != fs {
			return "", false
		}
	}
	return segs[len(feedSegs)], true
}
