// Package store provides durable storage backends for TicketPipe.
//
// A store keeps session snapshots, the inbound message deduplication log and
// the outbound retry outbox. SQLite and PostgreSQL backends share one set of
// repository interfaces; InMemoryStore covers sessions and deduplication for
// deployments without a database.
package store

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Supported database driver names as returned by DetectDSNType.
const (
	DSNTypeSQLite   = "sqlite3"
	DSNTypePostgres = "postgres"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns the database driver for dsn. URLs with a postgres
// scheme and key/value strings naming a host are PostgreSQL; anything else is
// treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DSNTypePostgres
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// Store is a durable backend implementing every repository.
type Store interface {
	SessionRepo
	DedupRepo
	OutboxRepo
	Close() error
}

// Open connects to the backend selected by DetectDSNType.
func Open(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	switch DetectDSNType(dsn) {
	case DSNTypePostgres:
		slog.Info("store.Open: using PostgreSQL backend")
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		slog.Info("store.Open: using SQLite backend", "path", dsn)
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

// InMemoryStore keeps session snapshots and the dedup log in process memory.
// It does not implement OutboxRepo.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]SessionSnapshot
	dedup    map[string]DedupRecord
}

// Compile-time checks that InMemoryStore implements its repositories.
var (
	_ SessionRepo = (*InMemoryStore)(nil)
	_ DedupRepo   = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]SessionSnapshot),
		dedup:    make(map[string]DedupRecord),
	}
}

func (s *InMemoryStore) LoadSessions() ([]SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionSnapshot, 0, len(s.sessions))
	for _, snap := range s.sessions {
		snap.Data = append([]byte(nil), snap.Data...)
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *InMemoryStore) ReplaceSessions(snaps []SessionSnapshot) error {
	table := make(map[string]SessionSnapshot, len(snaps))
	for _, snap := range snaps {
		snap.Data = append([]byte(nil), snap.Data...)
		table[snap.UserID] = snap
	}
	s.mu.Lock()
	s.sessions = table
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) RecordInbound(messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, UserID: userID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) ForgetInbound(messageID string) error {
	s.mu.Lock()
	delete(s.dedup, messageID)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

func (s *InMemoryStore) PruneDedupBefore(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rec := range s.dedup {
		if rec.ReceivedAt.Before(before) {
			delete(s.dedup, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
