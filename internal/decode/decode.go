// Package decode normalizes arbitrary tree fragments into typed records.
// Nothing here returns an error: absent or malformed data decodes to zero
// values, and individually malformed records are dropped and counted so the
// caller can log the anomaly without blocking the rest of the data.
package decode

import (
	"sort"
	"time"

	"github.com/m3loqt/unihealth-app-sub008/internal/model"
)

// Feed decodes a user's notification collection. It accepts whatever shape
// the tree holds at notifications/{userID}: nil, a map keyed by notification
// ID, or garbage. The unread count is always recomputed from the decoded
// records; a stored counter is never trusted. dropped reports how many
// malformed records were skipped.
func Feed(v any) (notifications []model.Notification, unread int, dropped int) {
	obj, ok := v.(map[string]any)
	if !ok {
		if v != nil {
			dropped = 1
		}
		return nil, 0, dropped
	}
	notifications = make([]model.Notification, 0, len(obj))
	for key, raw := range obj {
		n, ok := Notification(key, raw)
		if !ok {
			dropped++
			continue
		}
		notifications = append(notifications, n)
		if !n.Read {
			unread++
		}
	}
	// Newest first; ties broken by ID so the order is stable.
	sort.Slice(notifications, func(i, j int) bool {
		if !notifications[i].Timestamp.Equal(notifications[j].Timestamp) {
			return notifications[i].Timestamp.After(notifications[j].Timestamp)
		}
		return notifications[i].ID < notifications[j].ID
	})
	return notifications, unread, dropped
}

// Notification decodes one feed record stored under key. The stored id field
// wins over the tree key when both are present; a record with neither is
// malformed.
func Notification(key string, v any) (model.Notification, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return model.Notification{}, false
	}
	n := model.Notification{ID: key}
	if id := str(obj["id"]); id != "" {
		n.ID = id
	}
	if n.ID == "" {
		return model.Notification{}, false
	}
	n.Type = model.NotificationType(str(obj["type"]))
	n.Message = str(obj["message"])
	n.RelatedID = str(obj["relatedId"])
	n.Read = boolean(obj["read"])
	n.Timestamp = Timestamp(obj["timestamp"])
	return n, true
}

// SeenBy decodes a seen-by map. Entries whose value is not a true boolean
// are ignored; a user present with false is equivalent to absent.
func SeenBy(v any) map[string]bool {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]bool, len(obj))
	for user, raw := range obj {
		if boolean(raw) {
			out[user] = true
		}
	}
	return out
}

// Message decodes one message stored under id within a thread.
func Message(id string, v any) (model.Message, bool) {
	obj, ok := v.(map[string]any)
	if !ok || id == "" {
		return model.Message{}, false
	}
	return model.Message{
		MessageID: id,
		SenderID:  str(obj["senderId"]),
		Body:      str(obj["body"]),
		SentAt:    Timestamp(obj["sentAt"]),
		SeenBy:    SeenBy(obj["seenBy"]),
	}, true
}

// Thread decodes the whole message collection of a thread, ordered by send
// time with ties broken by message ID. dropped reports skipped records.
func Thread(threadID string, v any) (thread model.Thread, dropped int) {
	thread.ThreadID = threadID
	obj, ok := v.(map[string]any)
	if !ok {
		if v != nil {
			dropped = 1
		}
		return thread, dropped
	}
	thread.Messages = make([]model.Message, 0, len(obj))
	for id, raw := range obj {
		m, ok := Message(id, raw)
		if !ok {
			dropped++
			continue
		}
		thread.Messages = append(thread.Messages, m)
	}
	sort.Slice(thread.Messages, func(i, j int) bool {
		a, b := thread.Messages[i], thread.Messages[j]
		if !a.SentAt.Equal(b.SentAt) {
			return a.SentAt.Before(b.SentAt)
		}
		return a.MessageID < b.MessageID
	})
	return thread, dropped
}

// Timestamp accepts the wire encodings seen in the tree: epoch milliseconds
// as a JSON number, or an RFC 3339 string. Anything else decodes to the zero
// time.
func Timestamp(v any) time.Time {
	switch t := v.(type) {
	case float64:
		return time.UnixMilli(int64(t)).UTC()
	case int64:
		return time.UnixMilli(t).UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

// Millis encodes a timestamp the way the tree stores it.
func Millis(t time.Time) int64 { return t.UnixMilli() }

func str(v any) string {
	s, _ := v.(string)
	return s
}

func boolean(v any) bool {
	b, _ := v.(bool)
	return b
}
