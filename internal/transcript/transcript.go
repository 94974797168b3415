// Package transcript keeps an append-only JSONL log of finished conversations.
package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BTreeMap/TicketPipe/internal/session"
	"github.com/BTreeMap/TicketPipe/internal/util"
)

// DefaultFileName is the transcript file inside the state directory.
const DefaultFileName = "conversations.jsonl"

// maxLineSize bounds a single transcript line when reading.
const maxLineSize = 4 * 1024 * 1024

// Record is one finished conversation.
type Record struct {
	ID       string                 `json:"id"`
	UserID   string                 `json:"user_id"`
	EndedAt  time.Time              `json:"ended_at"`
	Reason   session.EndReason      `json:"reason"`
	State    session.State          `json:"state"`
	Messages []session.HistoryEntry `json:"messages"`
}

// Log appends records to a JSONL file.
type Log struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewLog creates a Log writing to path. The file is created on first append.
func NewLog(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Path returns the file the log writes to.
func (l *Log) Path() string {
	return l.path
}

// Append writes one record as a single line.
func (l *Log) Append(rec Record) error {
	if rec.ID == "" {
		rec.ID = util.NewID("conv_")
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = l.now()
	}
	if rec.Messages == nil {
		rec.Messages = []session.HistoryEntry{}
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create transcript dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

// Tail returns up to limit of the most recent records, newest first.
// A missing file yields an empty result; unreadable lines are skipped.
func (l *Log) Tail(limit int) ([]Record, error) {
	out := []Record{}
	if limit <= 0 {
		return out, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer f.Close()

	ring := make([]Record, 0, limit)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			slog.Warn("Log.Tail: skipping malformed transcript line", "error", err)
			continue
		}
		if len(ring) == limit {
			ring = append(ring[1:], rec)
		} else {
			ring = append(ring, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript file: %w", err)
	}

	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[i])
	}
	return out, nil
}

// EndHook returns a session.EndHook that records every ended session.
// Admin removals are not recorded.
func (l *Log) EndHook() session.EndHook {
	return func(s session.Session, reason session.EndReason) {
		if reason == session.EndReasonAdmin {
			return
		}
		err := l.Append(Record{
			UserID:   s.UserID,
			Reason:   reason,
			State:    s.State,
			Messages: s.History,
		})
		if err != nil {
			slog.Error("Log.EndHook: failed to record conversation", "userID", s.UserID, "error", err)
			return
		}
		slog.Debug("Log.EndHook: conversation recorded", "userID", s.UserID, "messages", len(s.History), "reason", reason)
	}
}
