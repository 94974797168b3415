// Package crm submits support tickets and sales leads to Odoo through its
// inbound webhooks.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/TicketPipe/internal/breaker"
	"github.com/BTreeMap/TicketPipe/internal/models"
)

// Defaults for the Odoo webhooks.
const (
	DefaultTimeout = 15 * time.Second
	DefaultTeamID  = 1

	// BreakerName identifies the Odoo breaker in logs, metrics and health.
	BreakerName     = "odoo"
	BreakerFailures = 3
	BreakerOpenFor  = 60 * time.Second

	// maxErrorBody bounds how much of an error response is logged.
	maxErrorBody = 512
)

var (
	// ErrNotConfigured means the webhook URL for the operation is missing.
	ErrNotConfigured = errors.New("odoo webhook URL not configured")
	// ErrMissingDescription rejects tickets without a description.
	ErrMissingDescription = errors.New("ticket description is required")
	// ErrTimeout is returned when Odoo does not answer in time.
	ErrTimeout = errors.New("odoo request timeout")
	// ErrRejected is returned for non-2xx answers; the status code follows.
	ErrRejected = errors.New("odoo rejected the request")
)

// Opts holds configuration options for the CRM client.
type Opts struct {
	TicketsURL string
	LeadsURL   string
	TeamID     int
	Timeout    time.Duration
	HTTPClient *http.Client
	Observer   breaker.StateObserver
}

// Option defines a configuration option for the CRM client.
type Option func(*Opts)

// WithTicketsURL sets the ticket webhook.
func WithTicketsURL(u string) Option {
	return func(o *Opts) { o.TicketsURL = u }
}

// WithLeadsURL sets the lead webhook.
func WithLeadsURL(u string) Option {
	return func(o *Opts) { o.LeadsURL = u }
}

// WithTimeout bounds each webhook call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithBreakerObserver reports breaker state changes.
func WithBreakerObserver(obs breaker.StateObserver) Option {
	return func(o *Opts) { o.Observer = obs }
}

// Client posts JSON payloads to the Odoo webhooks.
type Client struct {
	ticketsURL string
	leadsURL   string
	teamID     int
	http       *http.Client
	breaker    *breaker.Breaker
}

// NewClient creates a client. Unset URLs make the matching operation return
// ErrNotConfigured.
func NewClient(opts ...Option) *Client {
	cfg := Opts{TeamID: DefaultTeamID, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		ticketsURL: strings.TrimSpace(cfg.TicketsURL),
		leadsURL:   strings.TrimSpace(cfg.LeadsURL),
		teamID:     cfg.TeamID,
		http:       cfg.HTTPClient,
		breaker:    breaker.New(BreakerName, BreakerFailures, BreakerOpenFor, cfg.Observer),
	}
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() *breaker.Breaker {
	return c.breaker
}

// TicketsConfigured reports whether tickets can be submitted.
func (c *Client) TicketsConfigured() bool {
	return c.ticketsURL != ""
}

// LeadsConfigured reports whether leads can be submitted.
func (c *Client) LeadsConfigured() bool {
	return c.leadsURL != ""
}

// SubmitTicket creates a helpdesk ticket and returns its id.
func (c *Client) SubmitTicket(ctx context.Context, req models.TicketRequest) (string, error) {
	if c.ticketsURL == "" {
		return "", ErrNotConfigured
	}
	if strings.TrimSpace(req.Description) == "" {
		return "", ErrMissingDescription
	}

	payload := map[string]interface{}{
		"team_id":       c.teamID,
		"name":          req.Subject,
		"partner_name":  req.CustomerName,
		"partner_phone": req.CustomerPhone,
		"partner_email": req.CustomerEmail,
		"description":   req.Description,
	}
	if req.CountryID != 0 {
		payload["country_id"] = req.CountryID
	}
	if req.SerialNo != "" {
		payload["serial_no"] = req.SerialNo
	}
	if req.SegmentID != 0 {
		payload["segment_id"] = req.SegmentID
	}

	slog.Info("Client.SubmitTicket: sending ticket", "phone", req.CustomerPhone, "countryID", req.CountryID, "segmentID", req.SegmentID)
	id, err := c.post(ctx, c.ticketsURL, payload)
	if err != nil {
		return "", fmt.Errorf("ticket submission failed: %w", err)
	}
	slog.Info("Client.SubmitTicket: ticket created", "ticketID", id)
	return id, nil
}

// LeadName builds the lead title "<contact> - <country>[ - <mw> MW]".
func LeadName(req models.LeadRequest) string {
	name := req.ContactName + " - " + req.CountryName
	if req.SizeMW > 0 {
		name += " - " + strconv.FormatFloat(req.SizeMW, 'f', -1, 64) + " MW"
	}
	return name
}

// SubmitLead creates a sales lead and returns its id.
func (c *Client) SubmitLead(ctx context.Context, req models.LeadRequest) (string, error) {
	if c.leadsURL == "" {
		return "", ErrNotConfigured
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	payload := map[string]interface{}{
		"type":         "lead",
		"name":         LeadName(req),
		"contact_name": req.ContactName,
		"mobile":       req.Phone,
		"email_from":   req.Email,
	}
	if req.CountryID != 0 {
		payload["country_id"] = req.CountryID
	}
	if req.SegmentID != 0 {
		payload["market_segment_ids"] = []int{req.SegmentID}
	}
	if req.SizeMW > 0 {
		payload["opportunity_mw"] = req.SizeMW
	}

	slog.Info("Client.SubmitLead: sending lead", "countryID", req.CountryID, "segmentID", req.SegmentID)
	id, err := c.post(ctx, c.leadsURL, payload)
	if err != nil {
		return "", fmt.Errorf("lead submission failed: %w", err)
	}
	slog.Info("Client.SubmitLead: lead created", "leadID", id)
	return id, nil
}

// post sends payload through the breaker and extracts the record id.
func (c *Client) post(ctx context.Context, endpoint string, payload interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	var id string
	err = c.breaker.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("invalid webhook URL: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if isTimeout(err) {
				return ErrTimeout
			}
			return fmt.Errorf("odoo webhook unreachable: %w", unwrapURLError(err))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read odoo response: %w", err)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			snippet := string(data)
			if len(snippet) > maxErrorBody {
				snippet = snippet[:maxErrorBody]
			}
			slog.Error("Client.post: odoo returned an error", "status", resp.StatusCode, "body", snippet)
			return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
		}
		id = extractID(data)
		return nil
	})
	return id, err
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// unwrapURLError drops the request URL from transport errors so the webhook
// address does not leak into user-facing text.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}

// extractID reads data.id, falling back to id, then "N/A".
func extractID(body []byte) string {
	var parsed struct {
		Data struct {
			ID json.RawMessage `json:"id"`
		} `json:"data"`
		ID json.RawMessage `json:"id"`
	}
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &parsed) != nil {
		return "N/A"
	}
	for _, raw := range []json.RawMessage{parsed.Data.ID, parsed.ID} {
		if id := rawID(raw); id != "" {
			return id
		}
	}
	return "N/A"
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}
