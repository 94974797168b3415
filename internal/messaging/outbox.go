package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/TicketPipe/internal/conversation"
	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/store"
)

// SendObserver is told the outcome of every send: kind is "text" or "list".
type SendObserver func(kind string, status models.MessageStatus)

type textPayload struct {
	Body string `json:"body"`
}

// ReliableSender sends through a transport and queues failed text messages
// in the outbox for retry. List failures are not queued; the router already
// falls back to text for them.
type ReliableSender struct {
	sender  conversation.Sender
	outbox  store.OutboxRepo
	observe SendObserver
}

var _ conversation.Sender = (*ReliableSender)(nil)

// NewReliableSender wraps sender. A nil outbox disables queuing.
func NewReliableSender(sender conversation.Sender, outbox store.OutboxRepo, observe SendObserver) *ReliableSender {
	return &ReliableSender{sender: sender, outbox: outbox, observe: observe}
}

func (r *ReliableSender) report(kind string, status models.MessageStatus) {
	if r.observe != nil {
		r.observe(kind, status)
	}
}

// SendText delivers body, queueing it on failure. The delivery error is
// returned even when the message was queued.
func (r *ReliableSender) SendText(ctx context.Context, to, body string) error {
	err := r.sender.SendText(ctx, to, body)
	if err == nil {
		r.report(store.OutboxKindText, models.MessageStatusSent)
		return nil
	}
	if r.outbox == nil {
		r.report(store.OutboxKindText, models.MessageStatusFailed)
		return err
	}

	payload, merr := json.Marshal(textPayload{Body: body})
	if merr != nil {
		r.report(store.OutboxKindText, models.MessageStatusFailed)
		return err
	}
	id, qerr := r.outbox.EnqueueOutboxMessage(to, store.OutboxKindText, string(payload), "")
	if qerr != nil {
		slog.Error("ReliableSender.SendText: failed to queue message", "to", to, "error", qerr)
		r.report(store.OutboxKindText, models.MessageStatusFailed)
		return err
	}
	slog.Warn("ReliableSender.SendText: delivery failed, queued for retry", "to", to, "outboxID", id, "error", err)
	r.report(store.OutboxKindText, models.MessageStatusQueued)
	return fmt.Errorf("queued for retry: %w", err)
}

// SendList delivers list without queueing.
func (r *ReliableSender) SendList(ctx context.Context, to string, list models.ListMessage) error {
	err := r.sender.SendList(ctx, to, list)
	if err != nil {
		r.report(store.OutboxKindList, models.MessageStatusFailed)
		return err
	}
	r.report(store.OutboxKindList, models.MessageStatusSent)
	return nil
}

// Redeliver is the store.OutboxSendFunc replaying a queued message through
// the transport.
func (r *ReliableSender) Redeliver(ctx context.Context, msg store.OutboxMessage) error {
	switch msg.Kind {
	case store.OutboxKindText:
		var p textPayload
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
			return fmt.Errorf("invalid outbox payload: %w", err)
		}
		return r.sender.SendText(ctx, msg.Recipient, p.Body)
	case store.OutboxKindList:
		var list models.ListMessage
		if err := json.Unmarshal([]byte(msg.PayloadJSON), &list); err != nil {
			return fmt.Errorf("invalid outbox payload: %w", err)
		}
		return r.sender.SendList(ctx, msg.Recipient, list)
	}
	return fmt.Errorf("unknown outbox message kind %q", msg.Kind)
}
