package model

import "time"

// Message is one chat message inside a thread. SeenBy records which users
// have observed the message, keyed by user ID.
type Message struct {
	MessageID string          `json:"messageId"`
	SenderID  string          `json:"senderId"`
	Body      string          `json:"body"`
	SentAt    time.Time       `json:"sentAt"`
	SeenBy    map[string]bool `json:"seenBy,omitempty"`
}

// Thread is a conversation grouping messages ordered by send time,
// ties broken by message ID.
type Thread struct {
	ThreadID string    `json:"threadId"`
	Messages []Message `json:"messages"`
}

// NotificationType enumerates known notification kinds. The set is open:
// backend triggers may introduce new kinds, which decode preserves verbatim.
type NotificationType string

const (
	NotificationAppointment NotificationType = "appointment"
	NotificationReferral    NotificationType = "referral"
)

// Notification is one entry in a user's feed. Created by backend triggers,
// mutated only through mark-read and delete.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	RelatedID string           `json:"relatedId,omitempty"`
	Read      bool             `json:"read"`
	Timestamp time.Time        `json:"timestamp"`
}

// FeedSnapshot is a point-in-time copy of a user's notification feed with
// the unread count derived from the entries, never stored independently.
type FeedSnapshot struct {
	Notifications []Notification `json:"notifications"`
	Unread        int            `json:"unread"`
}

// LeakedReceiptRecord is a receipt-shaped fragment found at a top-level key
// outside the reserved namespaces. Value carries the full prior value so a
// repair run can be audited.
type LeakedReceiptRecord struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}
