package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Default session lifecycle settings.
const (
	DefaultTimeout       = 10 * time.Minute
	DefaultSweepInterval = 30 * time.Second
	// DefaultHistoryWindow is the number of entries RecentHistory callers usually want.
	DefaultHistoryWindow = 10
)

// Notifier delivers an inactivity notice to a user.
type Notifier func(ctx context.Context, userID, text string) error

// Opts holds configuration options for the Manager.
type Opts struct {
	Timeout       time.Duration
	SweepInterval time.Duration
	HistoryCap    int
	Persister     Persister
	Now           func() time.Time
	Notices       Notices
	OnEnd         EndHook
}

// Option defines a configuration option for the Manager.
type Option func(*Opts)

// WithTimeout sets the inactivity timeout; the warning fires at half of it.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithSweepInterval sets how often idle sessions are checked.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Opts) { o.SweepInterval = d }
}

// WithHistoryCap bounds the history retained per session.
func WithHistoryCap(n int) Option {
	return func(o *Opts) { o.HistoryCap = n }
}

// WithPersister sets the durable store for the session table.
func WithPersister(p Persister) Option {
	return func(o *Opts) { o.Persister = p }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithNotices overrides the inactivity warning and closing texts.
func WithNotices(n Notices) Option {
	return func(o *Opts) { o.Notices = n }
}

// WithEndHook registers a callback for every removed session.
func WithEndHook(h EndHook) Option {
	return func(o *Opts) { o.OnEnd = h }
}

// entry is the mutable table row. The embedded Session never holds History;
// the ring does.
type entry struct {
	sess Session
	hist *History
}

func (e *entry) snapshot() Session {
	s := e.sess
	s.Draft = e.sess.Draft.Clone()
	s.History = e.hist.Entries()
	return s
}

// Manager is the authoritative, concurrency-safe session table.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	notifier Notifier

	saveMu sync.Mutex

	timeout       time.Duration
	sweepInterval time.Duration
	historyCap    int
	persister     Persister
	now           func() time.Time
	notices       Notices
	onEnd         EndHook
}

// NewManager creates an empty Manager. Call Load to restore persisted sessions.
func NewManager(opts ...Option) *Manager {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = DefaultHistoryCap
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notices.Warning == "" || cfg.Notices.Closing == "" {
		defaults := DefaultNotices(cfg.Timeout)
		if cfg.Notices.Warning == "" {
			cfg.Notices.Warning = defaults.Warning
		}
		if cfg.Notices.Closing == "" {
			cfg.Notices.Closing = defaults.Closing
		}
	}
	slog.Debug("session.NewManager: configured", "timeout", cfg.Timeout, "sweepInterval", cfg.SweepInterval, "historyCap", cfg.HistoryCap, "persister", cfg.Persister != nil)
	return &Manager{
		sessions:      make(map[string]*entry),
		timeout:       cfg.Timeout,
		sweepInterval: cfg.SweepInterval,
		historyCap:    cfg.HistoryCap,
		persister:     cfg.Persister,
		now:           cfg.Now,
		notices:       cfg.Notices,
		onEnd:         cfg.OnEnd,
	}
}

// Timeout returns the configured inactivity timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// SetNotifier installs the callback used to deliver inactivity notices.
func (m *Manager) SetNotifier(fn Notifier) {
	m.mu.Lock()
	m.notifier = fn
	m.mu.Unlock()
}

// Load replaces the table with the persisted sessions. A failing persister
// leaves the table empty and is only logged.
func (m *Manager) Load() int {
	if m.persister == nil {
		return 0
	}
	loaded, err := m.persister.Load()
	if err != nil {
		slog.Error("Manager.Load: failed to load sessions, starting empty", "error", err)
		loaded = nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*entry, len(loaded))
	for userID, s := range loaded {
		s.UserID = userID
		e := m.newEntry(s)
		for _, h := range s.History {
			e.hist.Append(h)
		}
		m.sessions[userID] = e
	}
	slog.Info("Manager.Load: sessions restored", "count", len(m.sessions))
	return len(m.sessions)
}

func (m *Manager) newEntry(s Session) *entry {
	s.History = nil
	return &entry{sess: s, hist: NewHistory(m.historyCap)}
}

// touch marks user activity on e. Caller holds m.mu.
func (m *Manager) touch(e *entry) {
	e.sess.LastActivity = m.now()
	e.sess.InactivityWarningSent = false
	e.sess.ClosingNoticeSent = false
}

// GetOrCreate returns the user's session, refreshing its activity, or creates
// a new INITIAL session.
func (m *Manager) GetOrCreate(userID string) Session {
	m.mu.Lock()
	e, ok := m.sessions[userID]
	if ok {
		m.touch(e)
		snap := e.snapshot()
		m.mu.Unlock()
		return snap
	}
	now := m.now()
	e = m.newEntry(Session{
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		State:        StateInitial,
	})
	m.sessions[userID] = e
	snap := e.snapshot()
	m.mu.Unlock()

	slog.Debug("Manager.GetOrCreate: session created", "userID", userID)
	m.persist()
	return snap
}

// Get returns a copy of the user's session without touching it.
func (m *Manager) Get(userID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[userID]
	if !ok {
		return Session{}, false
	}
	return e.snapshot(), true
}

// Update applies fields to an existing session and refreshes its activity.
// It reports false, and does nothing, when the session does not exist.
// Leaving TICKET_CREATION always clears the wizard draft.
func (m *Manager) Update(userID string, fields ...Field) bool {
	m.mu.Lock()
	e, ok := m.sessions[userID]
	if !ok {
		m.mu.Unlock()
		slog.Debug("Manager.Update: unknown session ignored", "userID", userID)
		return false
	}
	changed := false
	for _, f := range fields {
		if f(&e.sess) {
			changed = true
		}
	}
	if e.sess.State != StateTicketCreation && e.sess.Draft != nil {
		e.sess.Draft = nil
		changed = true
	}
	m.touch(e)
	state := e.sess.State
	m.mu.Unlock()

	if changed {
		slog.Debug("Manager.Update: flow changed, persisting", "userID", userID, "state", state)
		m.persist()
	}
	return true
}

// End removes a session at the user's request. Ending an absent session is a no-op.
func (m *Manager) End(userID string) {
	m.Close(userID, EndReasonFarewell)
}

// Close removes a session for the given reason and persists the removal.
// It reports whether a session was removed.
func (m *Manager) Close(userID string, reason EndReason) bool {
	m.mu.Lock()
	e, ok := m.sessions[userID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	snap := e.snapshot()
	delete(m.sessions, userID)
	m.mu.Unlock()

	slog.Info("Manager.Close: session ended", "userID", userID, "reason", reason, "messages", len(snap.History))
	if m.onEnd != nil {
		m.onEnd(snap, reason)
	}
	m.persist()
	return true
}

// AppendHistory records a message and refreshes the session's activity.
// It reports false when the session does not exist.
func (m *Manager) AppendHistory(userID string, role Role, content string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[userID]
	if !ok {
		return false
	}
	m.touch(e)
	e.hist.Append(HistoryEntry{Role: role, Content: content, Timestamp: e.sess.LastActivity})
	return true
}

// RecentHistory returns up to limit of the newest entries, oldest first.
// A limit of zero or less returns no entries.
func (m *Manager) RecentHistory(userID string, limit int) []HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[userID]
	if !ok || limit <= 0 {
		return []HistoryEntry{}
	}
	return e.hist.Last(limit)
}

// IsActive reports whether the session exists and has not timed out.
func (m *Manager) IsActive(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[userID]
	if !ok {
		return false
	}
	return m.now().Sub(e.sess.LastActivity) < m.timeout
}

// List returns copies of all sessions ordered by most recent activity.
func (m *Manager) List() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.snapshot())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

// Count returns the number of sessions in the table.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CountByState returns the number of sessions in each state.
func (m *Manager) CountByState() map[State]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[State]int)
	for _, e := range m.sessions {
		out[e.sess.State]++
	}
	return out
}

// Flush persists the current table immediately.
func (m *Manager) Flush() {
	m.persist()
}

// persist writes the table through to the persister. Saves are serialized
// and each takes its snapshot under saveMu so writes land in order.
// Failures are logged and swallowed.
func (m *Manager) persist() {
	if m.persister == nil {
		return
	}
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.mu.Lock()
	table := make(map[string]Session, len(m.sessions))
	for userID, e := range m.sessions {
		table[userID] = e.snapshot()
	}
	m.mu.Unlock()

	if err := m.persister.Save(table); err != nil {
		slog.Error("Manager.persist: failed to save sessions", "error", err, "count", len(table))
		return
	}
	slog.Debug("Manager.persist: sessions saved", "count", len(table))
}
