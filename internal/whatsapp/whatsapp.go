// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in TicketPipe.
//
// It links TicketPipe as a WhatsApp device (QR or numeric code login), sends
// messages and converts incoming events into inbound messages.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/store"
)

// Constants for WhatsApp client configuration
const (
	// DefaultDBFileName is the whatsmeow device store inside the state directory.
	DefaultDBFileName = "whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

var (
	ErrNotConnected = errors.New("whatsapp client not initialized")
	ErrEmptyBody    = errors.New("message body cannot be empty")
)

// messageSender is the part of *whatsmeow.Client used for outbound messages.
type messageSender interface {
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // WhatsApp/whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode prints the raw login code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client wraps the Whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
	sender   messageSender
}

// NewClient opens the device store, logs in if needed and connects.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("whatsapp.NewClient: options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("whatsapp database DSN not set")
	}

	dbDriver := store.DetectDSNType(cfg.DBDSN)
	if dbDriver == store.DSNTypeSQLite && !strings.Contains(cfg.DBDSN, "foreign_keys") {
		slog.Warn("whatsapp.NewClient: SQLite device store without foreign keys; whatsmeow recommends '?_foreign_keys=on'",
			"dsn_example", "file:"+cfg.DBDSN+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, dbDriver, cfg.DBDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))
	if waClient.Store.ID == nil {
		if err := login(ctx, waClient, cfg); err != nil {
			return nil, err
		}
	} else if err := waClient.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}
	slog.Info("whatsapp.NewClient: connected", "driver", dbDriver)
	return &Client{waClient: waClient, sender: waClient}, nil
}

func login(ctx context.Context, waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("whatsapp.login: login required; starting QR code flow")
	qrChan, _ := waClient.GetQRChannel(ctx)
	if err := waClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("whatsapp.login: login event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(writer, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
		}
	}
	return nil
}

// SendText sends a plain WhatsApp message to a bare-digit user id.
func (c *Client) SendText(ctx context.Context, to string, body string) error {
	if c == nil || c.sender == nil {
		return ErrNotConnected
	}
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if body == "" {
		return ErrEmptyBody
	}
	jid := types.NewJID(strings.TrimPrefix(to, "+"), JIDSuffix)
	if _, err := c.sender.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Client.SendText: message sent", "to", to, "body_length", len(body))
	return nil
}

// SendList sends list as numbered text. Linked devices cannot send
// interactive lists.
func (c *Client) SendList(ctx context.Context, to string, list models.ListMessage) error {
	return c.SendText(ctx, to, list.PlainText())
}

// AddEventHandler registers fn for whatsmeow events.
func (c *Client) AddEventHandler(fn func(evt interface{})) {
	if c != nil && c.waClient != nil {
		c.waClient.AddEventHandler(fn)
	}
}

// Disconnect closes the websocket.
func (c *Client) Disconnect() {
	if c != nil && c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// ToInbound converts a whatsmeow message event. ok is false for events the
// bot ignores: its own messages, group chats and empty payloads.
func ToInbound(evt *events.Message) (models.InboundMessage, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return models.InboundMessage{}, false
	}
	m := evt.Message
	msg := models.InboundMessage{
		ID:        string(evt.Info.ID),
		From:      evt.Info.Sender.User,
		Name:      evt.Info.PushName,
		Timestamp: evt.Info.Timestamp,
	}
	switch {
	case m.GetConversation() != "":
		msg.Type = models.MessageTypeText
		msg.Body = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		msg.Type = models.MessageTypeText
		msg.Body = m.GetExtendedTextMessage().GetText()
	case m.GetListResponseMessage() != nil:
		lr := m.GetListResponseMessage()
		msg.Type = models.MessageTypeInteractiveList
		msg.Body = lr.GetTitle()
		msg.SelectionID = lr.GetSingleSelectReply().GetSelectedRowID()
	case m.GetButtonsResponseMessage() != nil:
		br := m.GetButtonsResponseMessage()
		msg.Type = models.MessageTypeInteractiveButton
		msg.Body = br.GetSelectedDisplayText()
		msg.SelectionID = br.GetSelectedButtonID()
	case m.GetImageMessage() != nil:
		msg.Type = models.MessageTypeImage
	case m.GetAudioMessage() != nil:
		msg.Type = models.MessageTypeAudio
	case m.GetDocumentMessage() != nil:
		msg.Type = models.MessageTypeDocument
	case m.GetVideoMessage() != nil:
		msg.Type = models.MessageTypeVideo
	case m.GetLocationMessage() != nil:
		msg.Type = models.MessageTypeLocation
	default:
		msg.Type = models.MessageTypeUnknown
	}
	if models.ValidateUserID(msg.From) != nil {
		return models.InboundMessage{}, false
	}
	msg.Normalize()
	return msg, true
}
