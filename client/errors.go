package client

import "github.com/m3loqt/unihealth-app-sub008/internal/syncerr"

// Sentinel errors re-exported so callers match with errors.Is without
// importing internal packages.
var (
	ErrInvalidIdentifier = syncerr.ErrInvalidIdentifier
	ErrNotFound          = syncerr.ErrNotFound
	ErrUnauthorized      = syncerr.ErrUnauthorized
)

// PartialFanoutError is returned by MarkThreadSeen when some receipts could
// not be written. The operation is safe to retry as-is.
type PartialFanoutError = syncerr.PartialFanoutError

// Retryable reports whether an error from a Session operation is worth
// retrying.
func Retryable(err error) bool { return syncerr.Retryable(err) }
