// Package treepath defines the path grammar of the shared tree and the
// canonical locations of receipt and notification records. It is the single
// source of truth for "where does a receipt live" and for the leaked-receipt
// predicate; nothing else in the repository re-implements either.
package treepath

import (
	"fmt"
	"strings"

	"github.com/m3loqt/unihealth-app-sub008/internal/syncerr"
)

// Reserved top-level namespaces. Membership is exact string equality; the
// scanner checks this before any shape heuristics so legitimate data under
// these keys is never classified as leaked.
var reserved = map[string]struct{}{
	"messages":      {},
	"threads":       {},
	"users":         {},
	"appointments":  {},
	"activity-logs": {},
	"agreements":    {},
}

// Reserved reports whether key is a reserved top-level namespace.
func Reserved(key string) bool {
	_, ok := reserved[key]
	return ok
}

// ReservedNamespaces returns the reserved top-level keys. The returned slice
// is a copy.
func ReservedNamespaces() []string {
	out := make([]string, 0, len(reserved))
	for k := range reserved {
		out = append(out, k)
	}
	return out
}

// ValidKey reports whether s can be used as a single path segment. The store
// forbids the Firebase-style control characters plus the separator itself.
func ValidKey(s string) bool {
	if s == "" {
		return false
	}
	if strings.ContainsAny(s, "./$#[]") {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// Receipt resolves the canonical path of the seen-by mark for one
// (thread, message, user) triple: messages/{threadID}/{messageID}/seenBy/{userID}.
func Receipt(threadID, messageID, userID string) (string, error) {
	for _, part := range []struct{ name, v string }{
		{"thread ID", threadID},
		{"message ID", messageID},
		{"user ID", userID},
	} {
		if !ValidKey(part.v) {
			return "", fmt.Errorf("%w: %s %q", syncerr.ErrInvalidIdentifier, part.name, part.v)
		}
	}
	return Join("messages", threadID, messageID, "seenBy", userID), nil
}

// ThreadMessages resolves the path holding every message of a thread.
func ThreadMessages(threadID string) (string, error) {
	if !ValidKey(threadID) {
		return "", fmt.Errorf("%w: thread ID %q", syncerr.ErrInvalidIdentifier, threadID)
	}
	return Join("messages", threadID), nil
}

// NotificationFeed resolves the path of a user's whole notification feed.
func NotificationFeed(userID string) (string, error) {
	if !ValidKey(userID) {
		return "", fmt.Errorf("%w: user ID %q", syncerr.ErrInvalidIdentifier, userID)
	}
	return Join("notifications", userID), nil
}

// Notification resolves the path of one notification in a user's feed.
func Notification(userID, notificationID string) (string, error) {
	if !ValidKey(userID) {
		return "", fmt.Errorf("%w: user ID %q", syncerr.ErrInvalidIdentifier, userID)
	}
	if !ValidKey(notificationID) {
		return "", fmt.Errorf("%w: notification ID %q", syncerr.ErrInvalidIdentifier, notificationID)
	}
	return Join("notifications", userID, notificationID), nil
}

// IsLeaked reports whether a top-level key holds a receipt fragment written
// outside its canonical location: the key is not reserved and the value is an
// object whose only field is "seenBy". This predicate is the formal
// definition of a leaked receipt; the scanner, the repairer's re-check and
// ad-hoc diagnostics all call it.
func IsLeaked(topLevelKey string, value any) bool {
	if Reserved(topLevelKey) {
		return false
	}
	obj, ok := value.(map[string]any)
	if !ok || len(obj) != 1 {
		return false
	}
	_, ok = obj["seenBy"]
	return ok
}

// Join assembles path segments with the tree separator.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split breaks a path into its segments. Empty segments produced by leading
// or trailing separators are removed.
func Split(path string) []string {
	raw := strings.Split(path, "/")
	out := raw[:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
