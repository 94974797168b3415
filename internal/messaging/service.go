// Package messaging connects TicketPipe to its WhatsApp transports: a common
// Service abstraction, the inbound dispatcher and outbox-backed delivery.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TicketPipe/internal/conversation"
	"github.com/BTreeMap/TicketPipe/internal/models"
)

// Transport names.
const (
	TransportCloud     = "cloud"
	TransportTwilio    = "twilio"
	TransportWhatsmeow = "whatsmeow"
)

const (
	// DefaultChannelBufferSize is the buffer of inbound channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds a blocked channel send before the item is dropped.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned by sends after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service is a WhatsApp transport. Transports that receive through
// long-lived connections publish on Inbound; webhook transports leave it nil
// and are fed by the HTTP layer.
type Service interface {
	conversation.Sender

	// Name identifies the transport ("cloud", "twilio", "whatsmeow").
	Name() string

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Inbound returns received messages, or nil for webhook transports.
	Inbound() <-chan models.InboundMessage
}

// WebhookService adapts a sender whose inbound traffic arrives over HTTP
// webhooks (Cloud API, Twilio).
type WebhookService struct {
	name   string
	sender conversation.Sender

	mu      sync.RWMutex
	stopped bool
}

var _ Service = (*WebhookService)(nil)

// NewWebhookService wraps sender as the named transport.
func NewWebhookService(name string, sender conversation.Sender) *WebhookService {
	return &WebhookService{name: name, sender: sender}
}

func (s *WebhookService) Name() string { return s.name }

// Start is a no-op; webhooks are served by the API server.
func (s *WebhookService) Start(ctx context.Context) error {
	slog.Debug("WebhookService.Start: ready", "transport", s.name)
	return nil
}

// Stop rejects further sends.
func (s *WebhookService) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	slog.Info("WebhookService.Stop: stopped", "transport", s.name)
	return nil
}

func (s *WebhookService) Inbound() <-chan models.InboundMessage { return nil }

func (s *WebhookService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// SendText sends a text message through the wrapped sender.
func (s *WebhookService) SendText(ctx context.Context, to, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.sender.SendText(ctx, to, body)
}

// SendList sends an interactive list through the wrapped sender.
func (s *WebhookService) SendList(ctx context.Context, to string, list models.ListMessage) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.sender.SendList(ctx, to, list)
}
