package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/whatsapp"
)

// whatsmeowClient is the part of whatsapp.Client the service uses.
type whatsmeowClient interface {
	SendText(ctx context.Context, to, body string) error
	SendList(ctx context.Context, to string, list models.ListMessage) error
	AddEventHandler(fn func(evt interface{}))
	Disconnect()
}

var _ whatsmeowClient = (*whatsapp.Client)(nil)

// WhatsAppService implements Service using the whatsmeow linked-device client.
type WhatsAppService struct {
	client  whatsmeowClient
	inbound chan models.InboundMessage

	mu      sync.RWMutex
	stopped bool
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping client.
func NewWhatsAppService(client whatsmeowClient) *WhatsAppService {
	return &WhatsAppService{
		client:  client,
		inbound: make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

func (s *WhatsAppService) Name() string { return TransportWhatsmeow }

// Start registers the event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	s.client.AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	slog.Debug("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop disconnects and closes the inbound channel.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.client.Disconnect()
	close(s.inbound)
	slog.Info("WhatsAppService.Stop: stopped and channels closed")
	return nil
}

// Inbound returns received messages.
func (s *WhatsAppService) Inbound() <-chan models.InboundMessage {
	return s.inbound
}

func (s *WhatsAppService) SendText(ctx context.Context, to, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.client.SendText(ctx, to, body)
}

func (s *WhatsAppService) SendList(ctx context.Context, to string, list models.ListMessage) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.client.SendList(ctx, to, list)
}

func (s *WhatsAppService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// handleIncomingMessage forwards a converted message, dropping it if the
// channel stays full for DefaultChannelTimeout.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	msg, ok := whatsapp.ToInbound(evt)
	if !ok {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService.handleIncomingMessage: dropping message after stop", "from", msg.From)
		return
	}
	select {
	case s.inbound <- msg:
		slog.Debug("WhatsAppService.handleIncomingMessage: message forwarded", "from", msg.From, "type", msg.Type)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService.handleIncomingMessage: inbound channel blocked, dropping message", "from", msg.From, "timeout", DefaultChannelTimeout)
	}
}
