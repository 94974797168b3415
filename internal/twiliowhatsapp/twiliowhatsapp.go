// Package twiliowhatsapp wraps the Twilio API for WhatsApp integration in TicketPipe.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/TicketPipe/internal/models"
)

// SignatureHeader carries Twilio's request signature.
const SignatureHeader = "X-Twilio-Signature"

var (
	ErrMissingCredentials = errors.New("account SID and auth token must be provided")
	ErrMissingFrom        = errors.New("from number must be provided")
	ErrInvalidSignature   = errors.New("invalid twilio signature")
	ErrEmptyWebhook       = errors.New("twilio webhook missing sender")
)

// messageCreator is the slice of the Twilio REST API the client uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token, also used for signature validation.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, with or without the "whatsapp:" prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	api       messageCreator
	fromWhats string // WhatsApp number in "whatsapp:+1234567890" format
	validator client.RequestValidator
}

// NewClient creates a Twilio client, falling back to TWILIO_* environment
// variables for anything not set through options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("twiliowhatsapp.NewClient: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.FromWhats == "" {
		return nil, ErrMissingFrom
	}
	from := cfg.FromWhats
	if !strings.HasPrefix(from, "whatsapp:") {
		from = "whatsapp:" + from
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Client{
		api:       rest.Api,
		fromWhats: from,
		validator: client.NewRequestValidator(cfg.AuthToken),
	}, nil
}

// SendText sends a WhatsApp message. to is a bare digit string.
func (c *Client) SendText(ctx context.Context, to string, body string) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + strings.TrimPrefix(to, "+"))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("Client.SendText: twilio send failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("Client.SendText: message sent", "to", to, "sid", sid)
	return nil
}

// SendList sends list as numbered text; Twilio's API does not carry
// WhatsApp interactive lists without pre-approved content templates.
func (c *Client) SendList(ctx context.Context, to string, list models.ListMessage) error {
	return c.SendText(ctx, to, list.PlainText())
}

// ValidateSignature checks X-Twilio-Signature for a form POST received at
// fullURL.
func (c *Client) ValidateSignature(fullURL string, form url.Values, signature string) error {
	params := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	if signature == "" || !c.validator.Validate(fullURL, params, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseWebhook converts a Twilio inbound form post into a normalized message.
func ParseWebhook(form url.Values) (models.InboundMessage, error) {
	from := strings.TrimPrefix(strings.TrimPrefix(form.Get("From"), "whatsapp:"), "+")
	if from == "" {
		return models.InboundMessage{}, ErrEmptyWebhook
	}
	if err := models.ValidateUserID(from); err != nil {
		return models.InboundMessage{}, fmt.Errorf("invalid sender %q: %w", from, err)
	}

	msg := models.InboundMessage{
		ID:        form.Get("MessageSid"),
		From:      from,
		Name:      form.Get("ProfileName"),
		Type:      models.MessageTypeText,
		Body:      form.Get("Body"),
		Timestamp: time.Now(),
	}
	switch {
	case form.Get("ListId") != "":
		msg.Type = models.MessageTypeInteractiveList
		msg.SelectionID = form.Get("ListId")
		if title := form.Get("ListTitle"); title != "" {
			msg.Body = title
		}
	case form.Get("ButtonPayload") != "":
		msg.Type = models.MessageTypeInteractiveButton
		msg.SelectionID = form.Get("ButtonPayload")
		if text := form.Get("ButtonText"); text != "" {
			msg.Body = text
		}
	case form.Get("Latitude") != "":
		msg.Type = models.MessageTypeLocation
		msg.Body = ""
	case mediaCount(form) > 0:
		msg.Type = mediaType(form.Get("MediaContentType0"))
		msg.Body = ""
	}
	msg.Normalize()
	return msg, nil
}

func mediaCount(form url.Values) int {
	n, _ := strconv.Atoi(form.Get("NumMedia"))
	return n
}

func mediaType(contentType string) models.MessageType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return models.MessageTypeImage
	case strings.HasPrefix(contentType, "audio/"):
		return models.MessageTypeAudio
	case strings.HasPrefix(contentType, "video/"):
		return models.MessageTypeVideo
	case contentType == "":
		return models.MessageTypeUnknown
	}
	return models.MessageTypeDocument
}
