package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/TicketPipe/internal/conversation"
	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/store"
	"github.com/BTreeMap/TicketPipe/internal/testutil"
)

// recordingHandler records handled messages in order.
type recordingHandler struct {
	mu   sync.Mutex
	seen []models.InboundMessage
	done chan struct{}
	want int
}

func newRecordingHandler(want int) *recordingHandler {
	return &recordingHandler{done: make(chan struct{}), want: want}
}

func (h *recordingHandler) Handle(_ context.Context, msg models.InboundMessage) conversation.Reply {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, msg)
	if len(h.seen) == h.want {
		close(h.done)
	}
	return conversation.Reply{}
}

func (h *recordingHandler) wait(t *testing.T) []models.InboundMessage {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for messages")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.InboundMessage(nil), h.seen...)
}

func TestDispatcher_PerUserOrder(t *testing.T) {
	handler := newRecordingHandler(20)
	d := NewDispatcher(handler, nil, 4, DispatchObserver{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	for i := 0; i < 10; i++ {
		for _, user := range []string{"111", "222"} {
			body := string(rune('a' + i))
			if res := d.Submit(models.InboundMessage{From: user, Type: models.MessageTypeText, Body: body}); res != SubmitAccepted {
				t.Fatalf("submit %d for %s: %s", i, user, res)
			}
		}
	}
	seen := handler.wait(t)
	last := map[string]string{}
	for _, msg := range seen {
		if prev, ok := last[msg.From]; ok && msg.Body <= prev {
			t.Fatalf("messages for %s out of order: %q after %q", msg.From, msg.Body, prev)
		}
		last[msg.From] = msg.Body
	}
}

func TestDispatcher_Dedup(t *testing.T) {
	handler := newRecordingHandler(1)
	repo := store.NewInMemoryStore()
	var received int
	d := NewDispatcher(handler, repo, 1, DispatchObserver{Received: func(models.InboundMessage) { received++ }})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	msg := models.InboundMessage{ID: "wamid.1", From: "111", Type: models.MessageTypeText, Body: "hola"}
	if res := d.Submit(msg); res != SubmitAccepted {
		t.Fatalf("first submit: %s", res)
	}
	if res := d.Submit(msg); res != SubmitDuplicate {
		t.Fatalf("replay should be a duplicate, got %s", res)
	}
	handler.wait(t)
	if received != 1 {
		t.Errorf("expected 1 received observation, got %d", received)
	}
}

func TestDispatcher_RejectsInvalidSender(t *testing.T) {
	d := NewDispatcher(newRecordingHandler(1), nil, 1, DispatchObserver{})
	if res := d.Submit(models.InboundMessage{From: "+abc"}); res != SubmitInvalid {
		t.Errorf("expected invalid, got %s", res)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(newRecordingHandler(1), nil, 1, DispatchObserver{})
	d.timeout = 10 * time.Millisecond
	for i := 0; i < DefaultShardQueue; i++ {
		d.Submit(models.InboundMessage{From: "111"})
	}
	if res := d.Submit(models.InboundMessage{From: "111"}); res != SubmitDropped {
		t.Errorf("expected dropped when shard is full and not running, got %s", res)
	}
}

func TestDispatcher_DroppedMessageCanBeRedelivered(t *testing.T) {
	dedup := store.NewInMemoryStore()
	d := NewDispatcher(newRecordingHandler(1), dedup, 1, DispatchObserver{})
	d.timeout = 10 * time.Millisecond
	for i := 0; i < DefaultShardQueue; i++ {
		d.Submit(models.InboundMessage{ID: fmt.Sprintf("wamid.fill%d", i), From: "111"})
	}

	lost := models.InboundMessage{ID: "wamid.lost", From: "111", Type: models.MessageTypeText, Body: "hola"}
	if res := d.Submit(lost); res != SubmitDropped {
		t.Fatalf("expected dropped, got %s", res)
	}
	<-d.shards[0]
	if res := d.Submit(lost); res != SubmitAccepted {
		t.Errorf("redelivery of a dropped message should be accepted, got %s", res)
	}
	if res := d.Submit(lost); res != SubmitDuplicate {
		t.Errorf("a queued message should still be deduplicated, got %s", res)
	}
}

func TestDispatcher_Consume(t *testing.T) {
	handler := newRecordingHandler(2)
	d := NewDispatcher(handler, nil, 2, DispatchObserver{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	in := make(chan models.InboundMessage, 2)
	in <- models.InboundMessage{From: "1"}
	in <- models.InboundMessage{From: "2"}
	close(in)
	d.Consume(ctx, in)
	if got := handler.wait(t); len(got) != 2 {
		t.Errorf("expected 2 handled messages, got %d", len(got))
	}
}

// memOutbox records enqueued messages.
type memOutbox struct {
	store.OutboxRepo
	queued []store.OutboxMessage
	err    error
}

func (m *memOutbox) EnqueueOutboxMessage(recipient, kind, payloadJSON, dedupeKey string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.queued = append(m.queued, store.OutboxMessage{Recipient: recipient, Kind: kind, PayloadJSON: payloadJSON})
	return "ob_1", nil
}

func TestReliableSender_QueuesFailedText(t *testing.T) {
	transport := &testutil.RecordingSender{TextErr: errors.New("503")}
	outbox := &memOutbox{}
	var statuses []models.MessageStatus
	rs := NewReliableSender(transport, outbox, func(kind string, s models.MessageStatus) { statuses = append(statuses, s) })

	if err := rs.SendText(context.Background(), "111", "hola"); err == nil {
		t.Fatal("expected the delivery error to be returned")
	}
	if len(outbox.queued) != 1 || outbox.queued[0].Recipient != "111" {
		t.Fatalf("expected one queued message, got %+v", outbox.queued)
	}
	var p textPayload
	if err := json.Unmarshal([]byte(outbox.queued[0].PayloadJSON), &p); err != nil || p.Body != "hola" {
		t.Errorf("unexpected payload %q", outbox.queued[0].PayloadJSON)
	}
	if len(statuses) != 1 || statuses[0] != models.MessageStatusQueued {
		t.Errorf("expected queued status, got %v", statuses)
	}
}

func TestReliableSender_NoOutbox(t *testing.T) {
	transport := &testutil.RecordingSender{TextErr: errors.New("503"), ListErr: errors.New("400")}
	var statuses []models.MessageStatus
	rs := NewReliableSender(transport, nil, func(kind string, s models.MessageStatus) { statuses = append(statuses, s) })
	_ = rs.SendText(context.Background(), "111", "hola")
	_ = rs.SendList(context.Background(), "111", models.ListMessage{Body: "x"})
	if len(statuses) != 2 || statuses[0] != models.MessageStatusFailed || statuses[1] != models.MessageStatusFailed {
		t.Errorf("expected two failures, got %v", statuses)
	}
}

func TestReliableSender_Redeliver(t *testing.T) {
	transport := &testutil.RecordingSender{}
	rs := NewReliableSender(transport, nil, nil)
	err := rs.Redeliver(context.Background(), store.OutboxMessage{Recipient: "111", Kind: store.OutboxKindText, PayloadJSON: `{"body":"hola"}`})
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if texts := transport.Texts(); len(texts) != 1 || texts[0] != "hola" {
		t.Errorf("unexpected redelivery %v", texts)
	}
	if err := rs.Redeliver(context.Background(), store.OutboxMessage{Kind: "poll"}); err == nil {
		t.Error("unknown kind should fail")
	}
	if err := rs.Redeliver(context.Background(), store.OutboxMessage{Kind: store.OutboxKindText, PayloadJSON: "{"}); err == nil {
		t.Error("corrupt payload should fail")
	}
}

func TestWebhookService_Stop(t *testing.T) {
	transport := &testutil.RecordingSender{}
	svc := NewWebhookService(TransportCloud, transport)
	if svc.Name() != TransportCloud || svc.Inbound() != nil {
		t.Fatal("unexpected webhook service identity")
	}
	if err := svc.SendText(context.Background(), "1", "x"); err != nil {
		t.Fatal(err)
	}
	_ = svc.Stop()
	if err := svc.SendText(context.Background(), "1", "x"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}
