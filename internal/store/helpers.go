package store

import (
	"database/sql"
	"fmt"
	"time"
)

// outboxColumns lists outbox_messages columns in scanOutboxMessage order.
const outboxColumns = `id, recipient, kind, payload_json, status, attempts, next_attempt_at, dedupe_key, locked_at, last_error, created_at, updated_at`

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanOutboxMessage scans an OutboxMessage from sql.Rows.
func scanOutboxMessage(rows *sql.Rows) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := rows.Scan(
		&m.ID, &m.Recipient, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, fmt.Errorf("scan outbox message failed: %w", err)
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}

// scanSessionSnapshot scans a SessionSnapshot from sql.Rows.
func scanSessionSnapshot(rows *sql.Rows) (SessionSnapshot, error) {
	var snap SessionSnapshot
	var data string
	var lastActivity time.Time
	if err := rows.Scan(&snap.UserID, &snap.State, &data, &lastActivity); err != nil {
		return snap, fmt.Errorf("scan session snapshot failed: %w", err)
	}
	snap.Data = []byte(data)
	snap.LastActivity = lastActivity
	return snap, nil
}

// scanStatusCounts consumes rows of (status, count) and closes them.
func scanStatusCounts(rows *sql.Rows) (map[OutboxStatus]int, error) {
	defer rows.Close()
	out := make(map[OutboxStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan outbox count failed: %w", err)
		}
		out[OutboxStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox count iteration failed: %w", err)
	}
	return out, nil
}
