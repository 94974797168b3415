// Package cloudapi talks to the WhatsApp Business Cloud API: it sends text and
// interactive list messages through the Graph API and parses and verifies the
// webhook callbacks Meta delivers.
package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/TicketPipe/internal/models"
)

// Defaults for the Graph API.
const (
	DefaultBaseURL = "https://graph.facebook.com"
	DefaultVersion = "v18.0"
	DefaultTimeout = 10 * time.Second
)

var (
	// ErrNotConfigured is returned when the access token or phone number id is missing.
	ErrNotConfigured = errors.New("cloud api access token and phone number id must be provided")
	// ErrSendFailed wraps non-2xx Graph API answers.
	ErrSendFailed = errors.New("graph api rejected the message")
)

// Opts holds configuration options for the Cloud API client.
type Opts struct {
	AccessToken   string
	PhoneNumberID string
	Version       string
	BaseURL       string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

// Option defines a configuration option for the Cloud API client.
type Option func(*Opts)

// WithAccessToken sets the Graph API bearer token.
func WithAccessToken(token string) Option {
	return func(o *Opts) { o.AccessToken = token }
}

// WithPhoneNumberID sets the sending business phone number id.
func WithPhoneNumberID(id string) Option {
	return func(o *Opts) { o.PhoneNumberID = id }
}

// WithVersion sets the Graph API version, e.g. "v18.0".
func WithVersion(v string) Option {
	return func(o *Opts) { o.Version = v }
}

// WithBaseURL points the client at another Graph host.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithTimeout bounds each send.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client sends messages through the Graph API.
type Client struct {
	token    string
	endpoint string
	http     *http.Client
}

// NewClient creates a Cloud API client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Version: DefaultVersion, BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("cloudapi.NewClient: options set", "token_set", cfg.AccessToken != "", "phone_id_set", cfg.PhoneNumberID != "", "version", cfg.Version)
	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil, ErrNotConfigured
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	endpoint := fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(cfg.BaseURL, "/"), cfg.Version, cfg.PhoneNumberID)
	return &Client{token: cfg.AccessToken, endpoint: endpoint, http: cfg.HTTPClient}, nil
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type textContent struct {
	Text string `json:"text"`
}

type listHeader struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type listAction struct {
	Button   string               `json:"button"`
	Sections []models.ListSection `json:"sections"`
}

type interactive struct {
	Type   string       `json:"type"`
	Header *listHeader  `json:"header,omitempty"`
	Body   textContent  `json:"body"`
	Footer *textContent `json:"footer,omitempty"`
	Action listAction   `json:"action"`
}

type outbound struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textBody    `json:"text,omitempty"`
	Interactive      *interactive `json:"interactive,omitempty"`
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	return c.send(ctx, outbound{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &textBody{Body: body},
	})
}

// SendList sends an interactive list message.
func (c *Client) SendList(ctx context.Context, to string, list models.ListMessage) error {
	if to == "" {
		return models.ErrEmptyRecipient
	}
	in := &interactive{
		Type:   "list",
		Body:   textContent{Text: list.Body},
		Action: listAction{Button: list.Button, Sections: list.Sections},
	}
	if list.Header != "" {
		in.Header = &listHeader{Type: "text", Text: list.Header}
	}
	if list.Footer != "" {
		in.Footer = &textContent{Text: list.Footer}
	}
	return c.send(ctx, outbound{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive:      in,
	})
}

func (c *Client) send(ctx context.Context, msg outbound) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s message: %w", msg.Type, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("Client.send: graph api error", "status", resp.StatusCode, "type", msg.Type, "body", string(detail))
		return fmt.Errorf("%w: status %d", ErrSendFailed, resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	slog.Debug("Client.send: message sent", "to", msg.To, "type", msg.Type)
	return nil
}
