// Package store defines the boundary to the schema-less shared tree. Values
// crossing this boundary are untyped (maps, strings, bools, numbers as
// produced by JSON decoding); internal/decode turns them into records.
package store

import "context"

// Tree is a whole-tree materialization keyed by top-level namespace.
type Tree map[string]any

// EventType classifies a change event delivered on a subscription.
type EventType int

const (
	// EventSnapshot carries the full current value of a watched path. It is
	// delivered once per watched path on every (re)connect and replaces any
	// previously delivered state for that path wholesale.
	EventSnapshot EventType = iota
	EventInsert
	EventUpdate
	EventDelete
)

func (t EventType) String() string {
	switch t {
	case EventSnapshot:
		return "snapshot"
	case EventInsert:
		return "insert"
	case EventUpdate:
		return "update"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is one ordered change delivered on a subscription. Value is nil for
// deletes. Ordering is guaranteed per subscription only; no global order
// across paths is implied.
type Event struct {
	Type  EventType `json:"type"`
	Path  string    `json:"path"`
	Value any       `json:"value,omitempty"`
}

// Subscription is a live channel of ordered change events. Events is closed
// after Close or a terminal failure; Err reports the terminal failure, if
// any.
type Subscription interface {
	Events() <-chan Event
	Err() error
	Close() error
}

// Store is the remote tree boundary. An absent path reads as a nil value,
// mirroring the hosted store's null-for-missing semantics. Delete of an
// absent path succeeds.
type Store interface {
	Read(ctx context.Context, path string) (any, error)
	Write(ctx context.Context, path string, value any) error
	Delete(ctx context.Context, path string) error

	// Push stores value under a fresh store-assigned key below path and
	// returns the key, the way the hosted store mints message IDs.
	Push(ctx context.Context, path string, value any) (string, error)

	// Snapshot returns a single consistent materialization of the entire
	// tree, used by the consistency scanner.
	Snapshot(ctx context.Context) (Tree, error)

	// Watch subscribes to changes at or below the given paths. The first
	// events delivered are one EventSnapshot per watched path.
	Watch(ctx context.Context, paths ...string) (Subscription, error)
}
