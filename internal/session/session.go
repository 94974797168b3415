// Package session owns per-user conversation state for TicketPipe.
//
// A Manager keeps the authoritative in-memory session table, applies
// concurrency-safe mutations, sweeps idle sessions (warning at half the
// timeout, closing at the full timeout) and writes the table through to a
// Persister whenever a session changes state.
package session

import (
	"time"

	"github.com/BTreeMap/TicketPipe/internal/models"
)

// State is the top-level conversation state of a session.
type State string

const (
	// StateInitial is a freshly created session that has not been greeted yet.
	StateInitial State = "INITIAL"
	// StateAwaitingQuery waits for a free-form question from the user.
	StateAwaitingQuery State = "AWAITING_QUERY"
	// StateTicketCreation runs the ticket wizard; the session carries a TicketDraft.
	StateTicketCreation State = "TICKET_CREATION"
	// StateAwaitingPostTicket waits for the answer to "anything else?" after a ticket.
	StateAwaitingPostTicket State = "AWAITING_RESPONSE_POST_TICKET"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateInitial, StateAwaitingQuery, StateTicketCreation, StateAwaitingPostTicket:
		return true
	}
	return false
}

// TicketStep addresses the current step of the ticket wizard.
type TicketStep string

const (
	StepInitial      TicketStep = "initial"
	StepCountry      TicketStep = "country"
	StepDescription  TicketStep = "description"
	StepEmail        TicketStep = "email"
	StepSerialNo     TicketStep = "serial_no"
	StepSegment      TicketStep = "segment"
	StepConfirmation TicketStep = "confirmation"
)

// TicketDraft is the wizard context. Step tags which of the collected fields
// are already confirmed: every field belonging to an earlier step is final.
type TicketDraft struct {
	Step        TicketStep `json:"ticket_step"`
	CountryID   int        `json:"ticket_country_id,omitempty"`
	CountryName string     `json:"ticket_country_name,omitempty"`
	Description string     `json:"ticket_description,omitempty"`
	Subject     string     `json:"ticket_subject,omitempty"`
	Email       string     `json:"ticket_email,omitempty"`
	SerialNo    string     `json:"ticket_serial_no,omitempty"`
	SegmentID   int        `json:"ticket_segment_id,omitempty"`
	SegmentName string     `json:"ticket_segment_name,omitempty"`
}

// Clone returns a copy of d, or nil for a nil draft.
func (d *TicketDraft) Clone() *TicketDraft {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Role identifies the author of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one message in a session's conversation history.
type HistoryEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a snapshot of one user's conversation state. Values returned by
// the Manager are copies; mutating them has no effect on the table.
type Session struct {
	UserID                string             `json:"user_id"`
	CreatedAt             time.Time          `json:"created_at"`
	LastActivity          time.Time          `json:"last_activity"`
	State                 State              `json:"state"`
	Draft                 *TicketDraft       `json:"context,omitempty"`
	ThreadID              string             `json:"thread_id,omitempty"`
	History               []HistoryEntry     `json:"message_history"`
	InactivityWarningSent bool               `json:"inactivity_warning_sent"`
	ClosingNoticeSent     bool               `json:"closing_notice_sent"`
	LastMessageType       models.MessageType `json:"last_message_type,omitempty"`
	LastSelectionID       string             `json:"last_selection_id,omitempty"`
}

// Field is a recognized mutation applied by Manager.Update. It reports whether
// it changed a flow-identifying value (state, wizard draft, thread id), which
// is what triggers a write-through to the persister.
type Field func(s *Session) bool

// SetState moves the session to a new top-level state.
func SetState(state State) Field {
	return func(s *Session) bool {
		if s.State == state {
			return false
		}
		s.State = state
		return true
	}
}

// SetDraft replaces the wizard context. A nil draft clears it.
func SetDraft(d *TicketDraft) Field {
	return func(s *Session) bool {
		if s.Draft == nil && d == nil {
			return false
		}
		if s.Draft != nil && d != nil && *s.Draft == *d {
			return false
		}
		s.Draft = d.Clone()
		return true
	}
}

// SetThreadID records the assistant thread bound to this session.
func SetThreadID(id string) Field {
	return func(s *Session) bool {
		if s.ThreadID == id {
			return false
		}
		s.ThreadID = id
		return true
	}
}

// SetLastMessage records the type and selection id of the latest inbound message.
func SetLastMessage(t models.MessageType, selectionID string) Field {
	return func(s *Session) bool {
		s.LastMessageType = t
		s.LastSelectionID = selectionID
		return false
	}
}

// EndReason explains why a session was removed.
type EndReason string

const (
	// EndReasonFarewell is an explicit user-requested termination.
	EndReasonFarewell EndReason = "farewell"
	// EndReasonInactivity is a close by the background sweep.
	EndReasonInactivity EndReason = "inactivity"
	// EndReasonAdmin is a removal requested through the admin API.
	EndReasonAdmin EndReason = "admin"
)

// EndHook observes session removals. It receives the final snapshot,
// including the full retained history, and runs outside the table lock.
type EndHook func(s Session, reason EndReason)
