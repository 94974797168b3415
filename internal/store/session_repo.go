package store

import "time"

// SessionSnapshot is one persisted session. Data is the session's serialized
// JSON record; State and LastActivity are duplicated as columns for queries.
type SessionSnapshot struct {
	UserID       string    `json:"user_id"`
	State        string    `json:"state"`
	Data         []byte    `json:"data"`
	LastActivity time.Time `json:"last_activity"`
}

// SessionRepo persists the whole session table.
type SessionRepo interface {
	// LoadSessions returns every stored snapshot.
	LoadSessions() ([]SessionSnapshot, error)

	// ReplaceSessions atomically replaces the stored table with snaps.
	ReplaceSessions(snaps []SessionSnapshot) error
}
