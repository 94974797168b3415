package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFilePersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "sessions.json")
	p := NewFilePersister(path)

	got, err := p.Load()
	if err != nil || len(got) != 0 {
		t.Fatalf("missing file should load empty: %v %v", got, err)
	}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in := map[string]Session{
		"u1": {
			UserID:       "u1",
			CreatedAt:    now,
			LastActivity: now.Add(time.Minute),
			State:        StateTicketCreation,
			Draft:        &TicketDraft{Step: StepEmail, CountryID: 90, CountryName: "Guatemala", Description: "inversor apagado"},
			History:      []HistoryEntry{{Role: RoleUser, Content: "hola", Timestamp: now}},
		},
		"u2": {UserID: "u2", CreatedAt: now, LastActivity: now, State: StateAwaitingQuery},
	}
	if err := p.Save(in); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	for _, key := range []string{`"last_activity": "2024-05-01T12:01:00Z"`, `"ticket_step": "email"`, `"context": {}`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("persisted file missing %s:\n%s", key, data)
		}
	}

	out, err := p.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	u1 := out["u1"]
	if u1.State != StateTicketCreation || u1.Draft == nil || u1.Draft.CountryID != 90 || u1.Draft.Step != StepEmail {
		t.Errorf("unexpected u1: %+v", u1)
	}
	if !u1.LastActivity.Equal(now.Add(time.Minute)) || len(u1.History) != 1 {
		t.Errorf("timestamps or history lost: %+v", u1)
	}
	if out["u2"].Draft != nil {
		t.Error("non-wizard session should have no draft")
	}
}

func TestDecodeSessionDefaults(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw := `{"last_activity":"2024-05-01T11:30:00.123456","state":"BOGUS","context":{"ticket_step":"country"}}`
	s, err := decodeSession("u1", []byte(raw), now)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if s.State != StateInitial {
		t.Errorf("invalid state should default to INITIAL, got %s", s.State)
	}
	if s.Draft != nil {
		t.Error("draft must be dropped outside TICKET_CREATION")
	}
	if !s.CreatedAt.Equal(now) {
		t.Errorf("missing created_at should default to now: %v", s.CreatedAt)
	}
	if s.LastActivity.Minute() != 30 {
		t.Errorf("zone-less timestamp not parsed: %v", s.LastActivity)
	}

	s, err = decodeSession("u2", []byte(`{"state":"TICKET_CREATION","context":{}}`), now)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if s.Draft == nil || s.Draft.Step != StepInitial {
		t.Errorf("wizard without context should start at initial: %+v", s.Draft)
	}
	if !s.LastActivity.Equal(now) {
		t.Error("missing last_activity should default to created_at")
	}
}

func TestFilePersisterSkipsBadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	content := `{"good":{"state":"AWAITING_QUERY"},"bad":"not an object"}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	out, err := NewFilePersister(path).Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(out) != 1 || out["good"].State != StateAwaitingQuery {
		t.Errorf("unexpected table: %+v", out)
	}
}

func TestFilePersisterCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFilePersister(path).Load(); err == nil {
		t.Error("expected parse error")
	}
	m := NewManager(WithPersister(NewFilePersister(path)))
	if n := m.Load(); n != 0 {
		t.Errorf("corrupt file should start empty, got %d", n)
	}
}
