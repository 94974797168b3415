// Package scheduler runs TicketPipe's periodic maintenance on cron
// expressions.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/TicketPipe/internal/store"
)

// Maintenance defaults.
const (
	DefaultMaintenanceSpec = "0 3 * * *"
	DefaultDedupRetention  = 7 * 24 * time.Hour
	DefaultOutboxStale     = 5 * time.Minute
	DefaultOutboxRetention = 30 * 24 * time.Hour
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Maintenance prunes the dedup log and recovers the outbox. Either repo may
// be nil.
type Maintenance struct {
	Dedup  store.DedupRepo
	Outbox store.OutboxRepo

	DedupRetention  time.Duration
	OutboxStale     time.Duration
	OutboxRetention time.Duration

	now func() time.Time
}

// MaintenanceReport summarizes one run.
type MaintenanceReport struct {
	DedupPruned    int
	OutboxRequeued int
	OutboxPurged   int
}

// Run performs one maintenance pass. Failures of one step are logged and do
// not stop the others.
func (m *Maintenance) Run() MaintenanceReport {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	t := now()
	var rep MaintenanceReport

	if m.Dedup != nil {
		n, err := m.Dedup.PruneDedupBefore(t.Add(-orDefault(m.DedupRetention, DefaultDedupRetention)))
		if err != nil {
			slog.Error("Maintenance.Run: dedup prune failed", "error", err)
		}
		rep.DedupPruned = n
	}
	if m.Outbox != nil {
		n, err := m.Outbox.RequeueStaleSendingMessages(t.Add(-orDefault(m.OutboxStale, DefaultOutboxStale)))
		if err != nil {
			slog.Error("Maintenance.Run: outbox requeue failed", "error", err)
		}
		rep.OutboxRequeued = n

		n, err = m.Outbox.PurgeOutboxBefore(t.Add(-orDefault(m.OutboxRetention, DefaultOutboxRetention)))
		if err != nil {
			slog.Error("Maintenance.Run: outbox purge failed", "error", err)
		}
		rep.OutboxPurged = n
	}
	slog.Info("Maintenance.Run: completed", "dedupPruned", rep.DedupPruned, "outboxRequeued", rep.OutboxRequeued, "outboxPurged", rep.OutboxPurged)
	return rep
}

// Schedule registers the maintenance pass on s. An empty spec uses
// DefaultMaintenanceSpec.
func (m *Maintenance) Schedule(s *Scheduler, spec string) error {
	if spec == "" {
		spec = DefaultMaintenanceSpec
	}
	if err := s.AddJob(spec, func() { m.Run() }); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", spec, err)
	}
	slog.Info("Maintenance.Schedule: maintenance scheduled", "spec", spec)
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
