package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/store"
)

// Persister loads and saves the whole session table.
type Persister interface {
	// Load returns every persisted session keyed by user id. A missing store
	// is not an error and yields an empty map.
	Load() (map[string]Session, error)
	// Save replaces the persisted table with sessions.
	Save(sessions map[string]Session) error
}

// localTimeLayout accepts ISO-8601 timestamps written without a zone offset.
const localTimeLayout = "2006-01-02T15:04:05.999999999"

// timestamp serializes as ISO-8601 and tolerates zone-less input.
type timestamp struct {
	time.Time
}

func (t timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err := time.ParseInLocation(localTimeLayout, s, time.Local)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

type historyRecord struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp timestamp `json:"timestamp"`
}

// record is the persisted layout of one session.
type record struct {
	CreatedAt             timestamp          `json:"created_at"`
	LastActivity          timestamp          `json:"last_activity"`
	State                 State              `json:"state"`
	Context               json.RawMessage    `json:"context"`
	ThreadID              string             `json:"thread_id"`
	MessageHistory        []historyRecord    `json:"message_history"`
	InactivityWarningSent bool               `json:"inactivity_warning_sent"`
	ClosingNoticeSent     bool               `json:"closing_notice_sent"`
	LastMessageType       models.MessageType `json:"last_message_type,omitempty"`
	LastSelectionID       string             `json:"last_selection_id,omitempty"`
}

func encodeSession(s Session) ([]byte, error) {
	ctx := json.RawMessage("{}")
	if s.Draft != nil {
		raw, err := json.Marshal(s.Draft)
		if err != nil {
			return nil, fmt.Errorf("failed to encode context for %s: %w", s.UserID, err)
		}
		ctx = raw
	}
	rec := record{
		CreatedAt:             timestamp{s.CreatedAt},
		LastActivity:          timestamp{s.LastActivity},
		State:                 s.State,
		Context:               ctx,
		ThreadID:              s.ThreadID,
		MessageHistory:        make([]historyRecord, 0, len(s.History)),
		InactivityWarningSent: s.InactivityWarningSent,
		ClosingNoticeSent:     s.ClosingNoticeSent,
		LastMessageType:       s.LastMessageType,
		LastSelectionID:       s.LastSelectionID,
	}
	for _, h := range s.History {
		rec.MessageHistory = append(rec.MessageHistory, historyRecord{Role: h.Role, Content: h.Content, Timestamp: timestamp{h.Timestamp}})
	}
	return json.Marshal(rec)
}

// decodeSession parses a persisted record. Missing or invalid fields are
// defaulted rather than rejected.
func decodeSession(userID string, data []byte, now time.Time) (Session, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Session{}, fmt.Errorf("failed to decode session %s: %w", userID, err)
	}
	s := Session{
		UserID:                userID,
		CreatedAt:             rec.CreatedAt.Time,
		LastActivity:          rec.LastActivity.Time,
		State:                 rec.State,
		ThreadID:              rec.ThreadID,
		InactivityWarningSent: rec.InactivityWarningSent,
		ClosingNoticeSent:     rec.ClosingNoticeSent,
		LastMessageType:       rec.LastMessageType,
		LastSelectionID:       rec.LastSelectionID,
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastActivity.IsZero() {
		s.LastActivity = s.CreatedAt
	}
	if !s.State.Valid() {
		s.State = StateInitial
	}
	if len(rec.Context) > 0 && !bytes.Equal(rec.Context, []byte("null")) {
		var d TicketDraft
		if err := json.Unmarshal(rec.Context, &d); err != nil {
			slog.Warn("session.decodeSession: dropping unreadable context", "userID", userID, "error", err)
		} else if d != (TicketDraft{}) {
			s.Draft = &d
		}
	}
	if s.State == StateTicketCreation {
		if s.Draft == nil {
			s.Draft = &TicketDraft{}
		}
		if s.Draft.Step == "" {
			s.Draft.Step = StepInitial
		}
	} else {
		s.Draft = nil
	}
	for _, h := range rec.MessageHistory {
		ts := h.Timestamp.Time
		if ts.IsZero() {
			ts = s.LastActivity
		}
		s.History = append(s.History, HistoryEntry{Role: h.Role, Content: h.Content, Timestamp: ts})
	}
	return s, nil
}

// FilePersister stores the session table as one JSON object keyed by user id.
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Path returns the backing file path.
func (p *FilePersister) Path() string {
	return p.path
}

// Load reads the session file. A missing file yields an empty table.
func (p *FilePersister) Load() (map[string]Session, error) {
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		slog.Debug("FilePersister.Load: no session file yet", "path", p.path)
		return map[string]Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file %s: %w", p.path, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse session file %s: %w", p.path, err)
	}
	now := time.Now()
	out := make(map[string]Session, len(raw))
	for userID, rec := range raw {
		s, err := decodeSession(userID, rec, now)
		if err != nil {
			slog.Warn("FilePersister.Load: skipping unreadable session", "userID", userID, "error", err)
			continue
		}
		out[userID] = s
	}
	slog.Debug("FilePersister.Load: sessions loaded", "path", p.path, "count", len(out))
	return out, nil
}

// Save writes the table atomically through a temp file and rename.
func (p *FilePersister) Save(sessions map[string]Session) error {
	raw := make(map[string]json.RawMessage, len(sessions))
	for userID, s := range sessions {
		data, err := encodeSession(s)
		if err != nil {
			return err
		}
		raw[userID] = data
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session table: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace session file %s: %w", p.path, err)
	}
	return nil
}

// StorePersister keeps session snapshots in a SQL store.
type StorePersister struct {
	repo store.SessionRepo
}

// NewStorePersister wraps a session repository.
func NewStorePersister(repo store.SessionRepo) *StorePersister {
	return &StorePersister{repo: repo}
}

// Load reads every stored snapshot.
func (p *StorePersister) Load() (map[string]Session, error) {
	snaps, err := p.repo.LoadSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to load session snapshots: %w", err)
	}
	now := time.Now()
	out := make(map[string]Session, len(snaps))
	for _, snap := range snaps {
		s, err := decodeSession(snap.UserID, snap.Data, now)
		if err != nil {
			slog.Warn("StorePersister.Load: skipping unreadable session", "userID", snap.UserID, "error", err)
			continue
		}
		out[snap.UserID] = s
	}
	return out, nil
}

// Save replaces the stored snapshots with sessions.
func (p *StorePersister) Save(sessions map[string]Session) error {
	snaps := make([]store.SessionSnapshot, 0, len(sessions))
	for userID, s := range sessions {
		data, err := encodeSession(s)
		if err != nil {
			return err
		}
		snaps = append(snaps, store.SessionSnapshot{
			UserID:       userID,
			State:        string(s.State),
			Data:         data,
			LastActivity: s.LastActivity,
		})
	}
	return p.repo.ReplaceSessions(snaps)
}
