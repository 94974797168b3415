package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// noticeTimeout bounds a single notice delivery.
const noticeTimeout = 10 * time.Second

// Notices are the texts sent by the sweep.
type Notices struct {
	Warning string
	Closing string
}

// DefaultNotices returns the Spanish notices for a given timeout.
func DefaultNotices(timeout time.Duration) Notices {
	remaining := timeout - timeout/2
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	unit := "minutos"
	if minutes == 1 {
		unit = "minuto"
	}
	return Notices{
		Warning: fmt.Sprintf("¿Sigues ahí? Esta conversación se cerrará por inactividad en %d %s. "+
			"Si ya no necesitas asistencia, puedes responder 'finalizar' para cerrar la conversación.", minutes, unit),
		Closing: "La conversación ha sido finalizada debido a inactividad. " +
			"Puedes iniciar una nueva conversación cuando lo necesites.",
	}
}

// SweepResult counts the notices issued by one sweep.
type SweepResult struct {
	Warned int
	Closed int
}

// Run sweeps idle sessions on every tick until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	slog.Info("Manager.Run: starting session sweep", "interval", m.sweepInterval, "timeout", m.timeout)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Manager.Run: stopping session sweep")
			return
		case <-ticker.C:
			if res := m.Sweep(ctx); res.Warned > 0 || res.Closed > 0 {
				slog.Info("Manager.Run: sweep issued notices", "warned", res.Warned, "closed", res.Closed)
			}
		}
	}
}

// Sweep runs one inactivity pass. Sessions are marked under the lock so a
// notice is issued at most once; delivery happens after the lock is released.
func (m *Manager) Sweep(ctx context.Context) SweepResult {
	now := m.now()
	warnAfter := m.timeout / 2

	var toWarn, toClose []string
	m.mu.Lock()
	notifier := m.notifier
	for userID, e := range m.sessions {
		idle := now.Sub(e.sess.LastActivity)
		switch {
		case idle >= m.timeout && !e.sess.ClosingNoticeSent:
			e.sess.ClosingNoticeSent = true
			toClose = append(toClose, userID)
		case idle >= warnAfter && !e.sess.InactivityWarningSent && !e.sess.ClosingNoticeSent:
			e.sess.InactivityWarningSent = true
			toWarn = append(toWarn, userID)
		}
	}
	m.mu.Unlock()

	var res SweepResult
	for _, userID := range toWarn {
		m.deliverNotice(ctx, notifier, userID, m.notices.Warning)
		res.Warned++
	}
	for _, userID := range toClose {
		if !m.stillMarkedForClose(userID) {
			slog.Debug("Manager.Sweep: session resumed before close", "userID", userID)
			continue
		}
		m.deliverNotice(ctx, notifier, userID, m.notices.Closing)
		if m.closeIfMarked(userID) {
			res.Closed++
		}
	}

	if len(toWarn) > 0 {
		m.persist()
	}
	return res
}

func (m *Manager) stillMarkedForClose(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[userID]
	return ok && e.sess.ClosingNoticeSent
}

// closeIfMarked removes the session unless the user became active after it
// was marked for closing.
func (m *Manager) closeIfMarked(userID string) bool {
	m.mu.Lock()
	e, ok := m.sessions[userID]
	if !ok || !e.sess.ClosingNoticeSent {
		m.mu.Unlock()
		return false
	}
	snap := e.snapshot()
	delete(m.sessions, userID)
	m.mu.Unlock()

	slog.Info("Manager.Sweep: session closed for inactivity", "userID", userID, "messages", len(snap.History))
	if m.onEnd != nil {
		m.onEnd(snap, EndReasonInactivity)
	}
	m.persist()
	return true
}

// deliverNotice sends text and records it in history without counting it as
// user activity.
func (m *Manager) deliverNotice(ctx context.Context, notifier Notifier, userID, text string) {
	if notifier == nil {
		slog.Warn("Manager.deliverNotice: no notifier installed, notice not sent", "userID", userID)
	} else {
		sendCtx, cancel := context.WithTimeout(ctx, noticeTimeout)
		err := notifier(sendCtx, userID, text)
		cancel()
		if err != nil {
			slog.Error("Manager.deliverNotice: failed to send notice", "userID", userID, "error", err)
		}
	}

	m.mu.Lock()
	if e, ok := m.sessions[userID]; ok {
		e.hist.Append(HistoryEntry{Role: RoleAssistant, Content: text, Timestamp: m.now()})
	}
	m.mu.Unlock()
}
