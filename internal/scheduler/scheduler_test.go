package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/TicketPipe/internal/store"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("not a spec", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
}

func TestMaintenanceSchedule(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	m := &Maintenance{}
	if err := m.Schedule(s, ""); err != nil {
		t.Errorf("default spec should be valid: %v", err)
	}
	if err := m.Schedule(s, "61 * * * *"); err == nil {
		t.Error("expected invalid spec error")
	}
}

func TestMaintenanceRun_Dedup(t *testing.T) {
	mem := store.NewInMemoryStore()
	if _, err := mem.RecordInbound("old", "1"); err != nil {
		t.Fatal(err)
	}
	m := &Maintenance{Dedup: mem, now: func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }}
	rep := m.Run()
	if rep.DedupPruned != 1 {
		t.Errorf("expected 1 pruned record, got %d", rep.DedupPruned)
	}
	if isNew, _ := mem.RecordInbound("old", "1"); !isNew {
		t.Error("record should be gone after pruning")
	}
}

func TestMaintenanceRun_Outbox(t *testing.T) {
	st, err := store.NewSQLiteStore(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	defer st.Close()

	if _, err := st.EnqueueOutboxMessage("111", store.OutboxKindText, `{"body":"hola"}`, ""); err != nil {
		t.Fatal(err)
	}
	claimed, err := st.ClaimDueOutboxMessages(time.Now(), 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("expected one claimed message, got %d (%v)", len(claimed), err)
	}

	m := &Maintenance{Dedup: st, Outbox: st, now: func() time.Time { return time.Now().Add(time.Hour) }}
	rep := m.Run()
	if rep.OutboxRequeued != 1 {
		t.Errorf("expected 1 requeued message, got %d", rep.OutboxRequeued)
	}
	counts, err := st.CountOutboxByStatus()
	if err != nil {
		t.Fatal(err)
	}
	if counts[store.OutboxStatusQueued] != 1 {
		t.Errorf("expected message back in queued, got %v", counts)
	}
}
