package messaging

import (
	"context"
	"errors"
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/testutil"
	"github.com/BTreeMap/TicketPipe/internal/whatsapp"
)

// fakeWhatsmeow records sends and exposes the registered event handler.
type fakeWhatsmeow struct {
	testutil.RecordingSender
	handler      func(evt interface{})
	disconnected bool
}

func (f *fakeWhatsmeow) AddEventHandler(fn func(evt interface{})) { f.handler = fn }
func (f *fakeWhatsmeow) Disconnect()                              { f.disconnected = true }

func textEvent(from, body string) *events.Message {
	evt := &events.Message{Message: &waE2E.Message{Conversation: proto.String(body)}}
	evt.Info.ID = "ID1"
	evt.Info.Sender = types.NewJID(from, whatsapp.JIDSuffix)
	return evt
}

func TestWhatsAppService_ForwardsInbound(t *testing.T) {
	fake := &fakeWhatsmeow{}
	svc := NewWhatsAppService(fake)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if fake.handler == nil {
		t.Fatal("expected an event handler to be registered")
	}
	fake.handler(textEvent("50688887777", "hola"))
	fake.handler(&events.Connected{})

	select {
	case msg := <-svc.Inbound():
		if msg.From != "50688887777" || msg.Body != "hola" || msg.Name != models.DefaultDisplayName {
			t.Errorf("unexpected inbound message %+v", msg)
		}
	default:
		t.Fatal("expected an inbound message")
	}
	select {
	case msg := <-svc.Inbound():
		t.Errorf("non-message events should be ignored, got %+v", msg)
	default:
	}
}

func TestWhatsAppService_SendAndStop(t *testing.T) {
	fake := &fakeWhatsmeow{}
	svc := NewWhatsAppService(fake)
	if err := svc.SendText(context.Background(), "1", "hola"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := svc.SendList(context.Background(), "1", models.ListMessage{Body: "x"}); err != nil {
		t.Fatalf("SendList: %v", err)
	}
	if n := len(fake.Sent()); n != 2 {
		t.Errorf("expected 2 sends, got %d", n)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if !fake.disconnected {
		t.Error("Stop should disconnect the client")
	}
	if _, ok := <-svc.Inbound(); ok {
		t.Error("expected inbound channel closed")
	}
	if err := svc.SendText(context.Background(), "1", "x"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}
