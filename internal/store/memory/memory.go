// Package memory implements the store boundary with an in-process tree.
// It backs the dev emulator and the unit tests; subscription semantics
// (snapshot first, then ordered deltas) match the hosted store.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/m3loqt/unihealth-app-sub008/internal/store"
	"github.com/m3loqt/unihealth-app-sub008/internal/treepath"
)

// ErrSlowConsumer terminates a subscription whose event buffer overflowed.
var ErrSlowConsumer = errors.New("subscription event buffer overflow")

const subscriptionBuffer = 256

// Store is a concurrency-safe in-memory tree.
type Store struct {
	mu   sync.RWMutex
	root map[string]any
	subs map[*subscription]struct{}
}

var _ store.Store = (*Store)(nil)

// New returns an empty tree.
func New() *Store {
	return &Store{
		root: make(map[string]any),
		subs: make(map[*subscription]struct{}),
	}
}

// Read returns a deep copy of the value at path, or nil when absent.
func (s *Store) Read(_ context.Context, path string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := lookup(s.root, treepath.Split(path))
	if !ok {
		return nil, nil
	}
	return clone(v), nil
}

// Write stores a deep copy of value at path, creating intermediate nodes.
// Writing nil removes the node, mirroring the hosted store's null semantics.
func (s *Store) Write(_ context.Context, path string, value any) error {
	segs := treepath.Split(path)
	if len(segs) == 0 {
		return errors.New("empty path")
	}
	if value == nil {
		return s.deletePath(path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := lookup(s.root, segs)
	insert(s.root, segs, clone(value))
	typ := store.EventUpdate
	if !existed {
		typ = store.EventInsert
	}
	s.publish(store.Event{Type: typ, Path: treepath.Join(segs...), Value: clone(value)})
	return nil
}

// Push stores value under a fresh store-assigned key below path and returns
// the key.
func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	key := uuid.NewString()
	if err := s.Write(ctx, treepath.Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// Delete removes the node at path. Deleting an absent path succeeds.
func (s *Store) Delete(_ context.Context, path string) error {
	return s.deletePath(path)
}

func (s *Store) deletePath(path string) error {
	segs := treepath.Split(path)
	if len(segs) == 0 {
		return errors.New("empty path")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if removed := remove(s.root, segs); removed {
		s.publish(store.Event{Type: store.EventDelete, Path: treepath.Join(segs...)})
	}
	return nil
}

// Snapshot returns a deep copy of the whole tree.
func (s *Store) Snapshot(_ context.Context) (store.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(store.Tree, len(s.root))
	for k, v := range s.root {
		out[k] = clone(v)
	}
	return out, nil
}

// Watch subscribes to changes at or below paths. The current value of each
// watched path is delivered first as an EventSnapshot; live deltas follow in
// mutation order with no gap between the two.
func (s *Store) Watch(_ context.Context, paths ...string) (store.Subscription, error) {
	sub := &subscription{
		store: s,
		paths: make([][]string, 0, len(paths)),
		ch:    make(chan store.Event, subscriptionBuffer),
	}
	for _, p := range paths {
		sub.paths = append(sub.paths, treepath.Split(p))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, segs := range sub.paths {
		v, _ := lookup(s.root, segs)
		sub.ch <- store.Event{Type: store.EventSnapshot, Path: treepath.Join(segs...), Value: clone(v)}
	}
	s.subs[sub] = struct{}{}
	return sub, nil
}

// publish is called with s.mu held, which serializes delivery order across
// all mutations.
func (s *Store) publish(ev store.Event) {
	evSegs := treepath.Split(ev.Path)
	for sub := range s.subs {
		if !sub.wants(evSegs) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.fail(ErrSlowConsumer)
			delete(s.subs, sub)
		}
	}
}

type subscription struct {
	store *Store
	paths [][]string
	ch    chan store.Event

	mu     sync.Mutex
	err    error
	closed bool
}

func (sub *subscription) Events() <-chan store.Event { return sub.ch }

func (sub *subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

func (sub *subscription) Close() error {
	sub.store.mu.Lock()
	delete(sub.store.subs, sub)
	sub.store.mu.Unlock()
	sub.finish(nil)
	return nil
}

// fail is called with the store mutex held.
func (sub *subscription) fail(err error) { sub.finish(err) }

func (sub *subscription) finish(err error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	sub.err = err
	close(sub.ch)
}

func (sub *subscription) wants(evSegs []string) bool {
	for _, w := range sub.paths {
		if prefixed(evSegs, w) || prefixed(w, evSegs) {
			return true
		}
	}
	return false
}

// prefixed reports whether prefix covers segs segment-wise.
func prefixed(segs, prefix []string) bool {
	if len(prefix) > len(segs) {
		return false
	}
	for i, p := range prefix {
		if segs[i] != p {
			return false
		}
	}
	return true
}

// ------------------------- tree helpers -------------------------

func lookup(node map[string]any, segs []string) (any, bool) {
	if len(segs) == 0 {
		return node, true
	}
	cur, ok := node[segs[0]]
	if !ok {
		return nil, false
	}
	if len(segs) == 1 {
		return cur, true
	}
	child, ok := cur.(map[string]any)
	if !ok {
		return nil, false
	}
	return lookup(child, segs[1:])
}

func insert(node map[string]any, segs []string, value any) {
	if len(segs) == 1 {
		node[segs[0]] = value
		return
	}
	child, ok := node[segs[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		node[segs[0]] = child
	}
	insert(child, segs[1:], value)
}

// remove deletes the node at segs and prunes emptied parents. It reports
// whether anything was removed.
func remove(node map[string]any, segs []string) bool {
	if len(segs) == 1 {
		if _, ok := node[segs[0]]; !ok {
			return false
		}
		delete(node, segs[0])
		return true
	}
	child, ok := node[segs[0]].(map[string]any)
	if !ok {
		return false
	}
	if !remove(child, segs[1:]) {
		return false
	}
	if len(child) == 0 {
		delete(node, segs[0])
	}
	return true
}

func clone(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = clone(val)
	}
	return out
}
