package store

import (
	"time"
)

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	UserID      string     `json:"user_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication. The
// WhatsApp platforms redeliver webhooks; a message id is processed once.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if the
	// message was already recorded (duplicate).
	RecordInbound(messageID, userID string) (bool, error)

	// ForgetInbound deletes the record for a message that was recorded but
	// never queued, so a redelivery is accepted. Unknown ids are ignored.
	ForgetInbound(messageID string) error

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(messageID string) error

	// PruneDedupBefore deletes records received before the given time.
	PruneDedupBefore(before time.Time) (int, error)
}
