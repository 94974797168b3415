// Package conversation routes inbound WhatsApp messages through the support
// bot's state machine and runs the ticket wizard.
//
// The router never talks to a network directly: message delivery, the AI
// assistant, subject summarisation and ticket submission are injected as the
// small interfaces declared here.
package conversation

import (
	"context"

	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/session"
)

// Sender delivers outbound messages to a user.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	SendList(ctx context.Context, to string, list models.ListMessage) error
}

// Assistant answers free-form questions.
type Assistant interface {
	GenerateReply(ctx context.Context, history []session.HistoryEntry, message, userName string) (string, error)
}

// Summarizer derives a short ticket subject from a problem description.
type Summarizer interface {
	Summarize(ctx context.Context, description string) (string, error)
}

// TicketSubmitter files a support ticket and returns its id.
type TicketSubmitter interface {
	SubmitTicket(ctx context.Context, req models.TicketRequest) (string, error)
}

// Sessions is the part of the session manager the router uses.
type Sessions interface {
	GetOrCreate(userID string) session.Session
	Update(userID string, fields ...session.Field) bool
	Close(userID string, reason session.EndReason) bool
	AppendHistory(userID string, role session.Role, content string) bool
	RecentHistory(userID string, limit int) []session.HistoryEntry
}

var _ Sessions = (*session.Manager)(nil)
