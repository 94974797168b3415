package crm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/TicketPipe/internal/breaker"
	"github.com/BTreeMap/TicketPipe/internal/models"
)

func sampleTicket() models.TicketRequest {
	return models.TicketRequest{
		CustomerName:  "Ana",
		CustomerPhone: "50688887777",
		CustomerEmail: "ana@example.com",
		Subject:       "Inversor sin energía",
		Description:   "El inversor no enciende desde ayer",
		CountryID:     50,
		SegmentID:     1,
	}
}

// captureServer records the last decoded JSON body and answers with status/body.
func captureServer(t *testing.T, status int, body string, got *map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("failed to decode payload: %v", err)
			}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSubmitTicket_Success(t *testing.T) {
	var payload map[string]interface{}
	srv := captureServer(t, http.StatusCreated, `{"data":{"id":4711}}`, &payload)
	c := NewClient(WithTicketsURL(srv.URL))

	id, err := c.SubmitTicket(context.Background(), sampleTicket())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if id != "4711" {
		t.Errorf("expected id 4711, got %q", id)
	}
	if payload["team_id"] != float64(DefaultTeamID) || payload["name"] != "Inversor sin energía" {
		t.Errorf("unexpected payload: %v", payload)
	}
	if payload["partner_phone"] != "50688887777" || payload["country_id"] != float64(50) || payload["segment_id"] != float64(1) {
		t.Errorf("unexpected payload: %v", payload)
	}
	if _, ok := payload["serial_no"]; ok {
		t.Error("empty serial number should be omitted")
	}
}

func TestSubmitTicket_IDFallbacks(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"id":"T-9"}`, "T-9"},
		{`{"data":{}}`, "N/A"},
		{``, "N/A"},
		{`not json`, "N/A"},
	}
	for _, tt := range tests {
		srv := captureServer(t, http.StatusOK, tt.body, nil)
		id, err := NewClient(WithTicketsURL(srv.URL)).SubmitTicket(context.Background(), sampleTicket())
		if err != nil {
			t.Fatalf("body %q: unexpected error %v", tt.body, err)
		}
		if id != tt.want {
			t.Errorf("body %q: expected %q, got %q", tt.body, tt.want, id)
		}
	}
}

func TestSubmitTicket_NotConfigured(t *testing.T) {
	c := NewClient()
	if c.TicketsConfigured() {
		t.Error("client without URL should not report tickets configured")
	}
	if _, err := c.SubmitTicket(context.Background(), sampleTicket()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSubmitTicket_MissingDescription(t *testing.T) {
	req := sampleTicket()
	req.Description = "  "
	c := NewClient(WithTicketsURL("http://127.0.0.1:1"))
	if _, err := c.SubmitTicket(context.Background(), req); !errors.Is(err, ErrMissingDescription) {
		t.Errorf("expected ErrMissingDescription, got %v", err)
	}
}

func TestSubmitTicket_Rejected(t *testing.T) {
	srv := captureServer(t, http.StatusInternalServerError, "boom", nil)
	_, err := NewClient(WithTicketsURL(srv.URL)).SubmitTicket(context.Background(), sampleTicket())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error should carry the status code: %v", err)
	}
}

func TestSubmitTicket_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(WithTicketsURL(srv.URL), WithTimeout(20*time.Millisecond))
	_, err := c.SubmitTicket(context.Background(), sampleTicket())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if strings.Contains(err.Error(), srv.URL) {
		t.Errorf("timeout error should not include the webhook URL: %v", err)
	}
}

func TestSubmitTicket_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewClient(WithTicketsURL(addr)).SubmitTicket(context.Background(), sampleTicket())
	if err == nil || !strings.Contains(err.Error(), "webhook unreachable") {
		t.Fatalf("expected unreachable error, got %v", err)
	}
	if strings.Contains(err.Error(), addr) {
		t.Errorf("error should not include the webhook URL: %v", err)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(WithTicketsURL(srv.URL))
	for i := 0; i < BreakerFailures+1; i++ {
		_, _ = c.SubmitTicket(context.Background(), sampleTicket())
	}
	if calls != BreakerFailures {
		t.Errorf("expected %d upstream calls, got %d", BreakerFailures, calls)
	}
	if c.Breaker().State() != "open" {
		t.Errorf("expected open breaker, got %s", c.Breaker().State())
	}
	if _, err := c.SubmitTicket(context.Background(), sampleTicket()); !errors.Is(err, breaker.ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
}

func TestSubmitLead(t *testing.T) {
	var payload map[string]interface{}
	srv := captureServer(t, http.StatusOK, `{"data":{"id":"L-1"}}`, &payload)
	c := NewClient(WithLeadsURL(srv.URL))

	id, err := c.SubmitLead(context.Background(), models.LeadRequest{
		ContactName: "Luis",
		Phone:       "50255554444",
		Email:       "luis@example.com",
		CountryID:   90,
		CountryName: "Guatemala",
		SegmentID:   3,
		SizeMW:      2.5,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if id != "L-1" {
		t.Errorf("unexpected id %q", id)
	}
	if payload["type"] != "lead" || payload["name"] != "Luis - Guatemala - 2.5 MW" {
		t.Errorf("unexpected payload: %v", payload)
	}
	segs, ok := payload["market_segment_ids"].([]interface{})
	if !ok || len(segs) != 1 || segs[0] != float64(3) {
		t.Errorf("unexpected segments: %v", payload["market_segment_ids"])
	}
	if payload["opportunity_mw"] != 2.5 {
		t.Errorf("unexpected size: %v", payload["opportunity_mw"])
	}
}

func TestSubmitLead_Validation(t *testing.T) {
	c := NewClient(WithLeadsURL("http://127.0.0.1:1"))
	_, err := c.SubmitLead(context.Background(), models.LeadRequest{ContactName: "Luis", Phone: "502"})
	if !errors.Is(err, models.ErrEmptyContactEmail) {
		t.Errorf("expected missing email error, got %v", err)
	}
	if _, err := NewClient().SubmitLead(context.Background(), models.LeadRequest{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestLeadName(t *testing.T) {
	if got := LeadName(models.LeadRequest{ContactName: "Ana", CountryName: "Panamá"}); got != "Ana - Panamá" {
		t.Errorf("unexpected name %q", got)
	}
	if got := LeadName(models.LeadRequest{ContactName: "Ana", CountryName: "Panamá", SizeMW: 10}); got != "Ana - Panamá - 10 MW" {
		t.Errorf("unexpected name %q", got)
	}
}
