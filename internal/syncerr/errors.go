// Package syncerr carries the error taxonomy shared by the receipt and
// notification layers, with classification for retry policies.
package syncerr

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInvalidIdentifier reports a path component rejected by local
	// validation. Never retried and never sent to the store.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrNotFound reports an absent record. Benign for deletes and repair,
	// a hard failure for reads that require the record to exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized reports a request the store rejected outright.
	// Retrying without operator intervention cannot help.
	ErrUnauthorized = errors.New("unauthorized")
)

// TransportError wraps a network, timeout or server-side failure. Always
// retryable.
type TransportError struct {
	Op   string // store operation: "read", "write", "delete", "snapshot", "watch"
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a TransportError unless it already is one.
func Transport(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Path: path, Err: err}
}

// PartialFanoutError reports that a subset of a batched fan-out failed.
// Failed maps message ID to its failure so the caller can retry exactly
// that subset.
type PartialFanoutError struct {
	ThreadID string
	Failed   map[string]error
}

func (e *PartialFanoutError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("thread %s: %d of fan-out writes failed: %v", e.ThreadID, len(e.Failed), ids)
}

// FailedIDs returns the message IDs that failed, sorted for stable output.
func (e *PartialFanoutError) FailedIDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Retryable reports whether err is worth retrying. Validation failures and
// absent records are final; transport failures are not. Unclassified errors
// are treated as retryable so transient conditions we did not anticipate
// still get a second chance.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidIdentifier) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) {
		return false
	}
	return true
}
