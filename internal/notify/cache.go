// Package notify maintains the client-local mirror of a user's notification
// feed. Mutations apply locally first and are pushed to the store in the
// background; incoming authoritative state is reconciled so it never undoes
// what the user just did.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/m3loqt/unihealth-app-sub008/internal/decode"
	"github.com/m3loqt/unihealth-app-sub008/internal/model"
	"github.com/m3loqt/unihealth-app-sub008/internal/store"
	"github.com/m3loqt/unihealth-app-sub008/internal/treepath"
)

// State is the cache lifecycle: Uninitialized until the first authoritative
// snapshot arrives, Synced from then on. Remote failures do not leave
// Synced; the optimistic local state is retained.
type State int

const (
	Uninitialized State = iota
	Synced
)

// Remote issues the store mutations behind local feed changes. The session
// backs this with the background op queue and the journal, so calls return
// once the mutation is durably queued, not once the store confirms it.
type Remote interface {
	MarkRead(ctx context.Context, notificationID string) error
	Delete(ctx context.Context, notificationID string) error
}

type mutationKind int

const (
	mutationMarkRead mutationKind = iota
	mutationDelete
)

type mutation struct {
	kind mutationKind
	at   time.Time
}

// Cache is the per-user feed mirror. Safe for concurrent use.
type Cache struct {
	userID string
	remote Remote
	grace  time.Duration
	log    zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	state  State
	items  []model.Notification // newest first
	unread int

	// pending holds mutations not yet acknowledged by the store; recent
	// holds acknowledged ones still inside the grace window. Both shield
	// the locally mutated field from incoming authoritative state.
	pending map[string]mutation
	recent  map[string]mutation
}

// NewCache constructs an empty cache for userID.
func NewCache(userID string, remote Remote, grace time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		userID:  userID,
		remote:  remote,
		grace:   grace,
		log:     log,
		now:     time.Now,
		pending: make(map[string]mutation),
		recent:  make(map[string]mutation),
	}
}

// State returns the lifecycle state.
func (c *Cache) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the feed with its derived unread count.
func (c *Cache) Snapshot() model.FeedSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Notification, len(c.items))
	copy(out, c.items)
	return model.FeedSnapshot{Notifications: out, Unread: c.unread}
}

// Unread returns the derived unread count.
func (c *Cache) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// Get returns the notification with the given ID, if present.
func (c *Cache) Get(id string) (model.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.items {
		if n.ID == id {
			return n, true
		}
	}
	return model.Notification{}, false
}

// ApplyAuthoritative replaces the feed with a freshly decoded remote value.
// Local optimistic state survives only for entries with an unacknowledged
// mutation or one acknowledged inside the grace window; everything else is
// whatever the store says.
func (c *Cache) ApplyAuthoritative(v any) {
	items, _, dropped := decode.Feed(v)
	if dropped > 0 {
		c.log.Debug().Int("dropped", dropped).Str("user", c.userID).
			Msg("malformed notification records skipped")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneRecent()

	kept := items[:0]
	for _, n := range items {
		m, ok := c.shielded(n.ID)
		if ok {
			switch m.kind {
			case mutationDelete:
				continue
			case mutationMarkRead:
				n.Read = true
			}
		}
		kept = append(kept, n)
	}
	c.items = kept
	c.recountLocked()
	c.state = Synced
}

// ApplyEvent patches the feed from one live change event scoped to the
// user's feed path. Snapshot events reconcile wholesale; inserts, updates
// and deletes patch incrementally.
func (c *Cache) ApplyEvent(ev store.Event) {
	feedPath, err := treepath.NotificationFeed(c.userID)
	if err != nil {
		return
	}
	if ev.Type == store.EventSnapshot {
		if ev.Path == feedPath {
			c.ApplyAuthoritative(ev.Value)
		}
		return
	}

	segs := treepath.Split(ev.Path)
	feedSegs := treepath.Split(feedPath)
	if len(segs) < len(feedSegs)+1 {
		// A write at or above the feed root; treat its value as
		// authoritative for the whole feed.
		if ev.Path == feedPath {
			c.ApplyAuthoritative(ev.Value)
		}
		return
	}
	for i, s := range feedSegs {
		if segs[i] != s {
			return
		}
	}
	id := segs[len(feedSegs)]

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneRecent()

	if len(segs) > len(feedSegs)+1 {
		// Field-level patch, e.g. .../{id}/read.
		c.patchField(id, segs[len(feedSegs)+1], ev)
		return
	}

	switch ev.Type {
	case store.EventDelete:
		c.removeLocked(id)
	case store.EventInsert, store.EventUpdate:
		n, ok := decode.Notification(id, ev.Value)
		if !ok {
			c.log.Debug().Str("id", id).Msg("malformed notification event skipped")
			return
		}
		if m, shieldedNow := c.shielded(id); shieldedNow {
			if m.kind == mutationDelete {
				return
			}
			n.Read = true
		}
		c.removeLocked(id)
		c.insertLocked(n)
	}
	c.recountLocked()
}

func (c *Cache) patchField(id, field string, ev store.Event) {
	if m, ok := c.shielded(id); ok {
		if m.kind == mutationDelete {
			return
		}
		if field == "read" {
			// The user's own mark-read is in flight; the echoed (or racing)
			// remote value must not flip it back.
			return
		}
	}
	for i := range c.items {
		if c.items[i].ID != id {
			continue
		}
		switch field {
		case "read":
			if ev.Type == store.EventDelete {
				// Removing the flag resets the notification to unread.
				c.items[i].Read = false
			} else if b, ok := ev.Value.(bool); ok {
				c.items[i].Read = b
			}
		case "message":
			if s, ok := ev.Value.(string); ok {
				c.items[i].Message = s
			}
		case "relatedId":
			if s, ok := ev.Value.(string); ok {
				c.items[i].RelatedID = s
			}
		}
		break
	}
	c.recountLocked()
}

// MarkAsRead flips the notification to read locally and issues the remote
// write. Idempotent: an already-read or unknown ID is a no-op with no remote
// call. A remote submission failure is returned for telemetry but the local
// change stays.
func (c *Cache) MarkAsRead(ctx context.Context, id string) error {
	c.mu.Lock()
	var found, wasUnread bool
	for i := range c.items {
		if c.items[i].ID == id {
			found = true
			wasUnread = !c.items[i].Read
			c.items[i].Read = true
			break
		}
	}
	if !found || !wasUnread {
		c.mu.Unlock()
		return nil
	}
	c.pending[id] = mutation{kind: mutationMarkRead, at: c.now()}
	c.recountLocked()
	c.mu.Unlock()

	if err := c.remote.MarkRead(ctx, id); err != nil {
		c.log.Warn().Err(err).Str("id", id).Msg("remote mark-read submission failed; keeping optimistic state")
		return err
	}
	return nil
}

// MarkAllAsRead applies mark-read to every currently-unread notification.
// The unread count afterwards is recomputed from the entries, never
// decremented by an assumed amount. Invoking it with nothing unread is a
// no-op.
func (c *Cache) MarkAllAsRead(ctx context.Context) error {
	c.mu.Lock()
	var ids []string
	for i := range c.items {
		if !c.items[i].Read {
			c.items[i].Read = true
			c.pending[c.items[i].ID] = mutation{kind: mutationMarkRead, at: c.now()}
			ids = append(ids, c.items[i].ID)
		}
	}
	c.recountLocked()
	c.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := c.remote.MarkRead(ctx, id); err != nil {
			c.log.Warn().Err(err).Str("id", id).Msg("remote mark-read submission failed; keeping optimistic state")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Delete removes the notification locally and requests remote deletion. An
// unknown ID is a no-op, not an error.
func (c *Cache) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	var found bool
	for _, n := range c.items {
		if n.ID == id {
			found = true
			break
		}
	}
	if !found {
		c.mu.Unlock()
		return nil
	}
	c.removeLocked(id)
	c.pending[id] = mutation{kind: mutationDelete, at: c.now()}
	c.recountLocked()
	c.mu.Unlock()

	if err := c.remote.Delete(ctx, id); err != nil {
		c.log.Warn().Err(err).Str("id", id).Msg("remote delete submission failed; keeping optimistic state")
		return err
	}
	return nil
}

// Ack records that the store confirmed the mutation for id. The entry moves
// from pending into the grace window so a marginally stale snapshot arriving
// right after the ack still cannot undo the change.
func (c *Cache) Ack(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.pending[id]
	if !ok {
		return
	}
	delete(c.pending, id)
	m.at = c.now()
	c.recent[id] = m
}

// ------------------------- internals (c.mu held) -------------------------

func (c *Cache) shielded(id string) (mutation, bool) {
	if m, ok := c.pending[id]; ok {
		return m, true
	}
	if m, ok := c.recent[id]; ok && c.now().Sub(m.at) <= c.grace {
		return m, true
	}
	return mutation{}, false
}

func (c *Cache) pruneRecent() {
	for id, m := range c.recent {
		if c.now().Sub(m.at) > c.grace {
			delete(c.recent, id)
		}
	}
}

func (c *Cache) removeLocked(id string) {
	for i := range c.items {
		if c.items[i].ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return
		}
	}
}

func (c *Cache) insertLocked(n model.Notification) {
	at := len(c.items)
	for i := range c.items {
		if n.Timestamp.After(c.items[i].Timestamp) ||
			(n.Timestamp.Equal(c.items[i].Timestamp) && n.ID < c.items[i].ID) {
			at = i
			break
		}
	}
	c.items = append(c.items, model.Notification{})
	copy(c.items[at+1:], c.items[at:])
	c.items[at] = n
}

func (c *Cache) recountLocked() {
	unread := 0
	for _, n := range c.items {
		if !n.Read {
			unread++
		}
	}
	c.unread = unread
}
