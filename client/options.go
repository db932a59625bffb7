package client

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/m3loqt/unihealth-app-sub008/internal/store"
)

// Option customizes a Session at Open time.
type Option func(*Session) error

// WithStore swaps in a custom store backend, bypassing the REST client. Used
// by tests and by hosts that embed the in-memory store.
func WithStore(st store.Store) Option {
	return func(s *Session) error {
		if st == nil {
			return fmt.Errorf("client: nil store")
		}
		s.store = st
		return nil
	}
}

// WithLogger replaces the session's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Session) error {
		s.log = log
		return nil
	}
}

// WithFanoutLimit bounds concurrent receipt writes during MarkThreadSeen.
func WithFanoutLimit(n int) Option {
	return func(s *Session) error {
		if n < 1 {
			return fmt.Errorf("client: fanout limit must be >= 1, got %d", n)
		}
		s.fanoutLimit = n
		return nil
	}
}

// WithGraceWindow sets how long an acknowledged optimistic mutation keeps
// shielding its field from authoritative snapshots.
func WithGraceWindow(d time.Duration) Option {
	return func(s *Session) error {
		if d < 0 {
			return fmt.Errorf("client: grace window must be >= 0, got %v", d)
		}
		s.grace = d
		return nil
	}
}

// WithoutJournal disables the on-disk pending-mutation journal. Failed
// background writes are then retried only within the process lifetime.
func WithoutJournal() Option {
	return func(s *Session) error {
		s.noJournal = true
		return nil
	}
}
