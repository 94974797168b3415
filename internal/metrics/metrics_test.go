package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"

	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/session"
	"github.com/BTreeMap/TicketPipe/internal/store"
)

type stubTickets struct{ err error }

func (s stubTickets) SubmitTicket(context.Context, models.TicketRequest) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "1", nil
}

type stubLeads struct{}

func (stubLeads) SubmitLead(context.Context, models.LeadRequest) (string, error) { return "L", nil }

func TestInstrumentTickets(t *testing.T) {
	m := New(nil)
	ok := m.InstrumentTickets(stubTickets{})
	bad := m.InstrumentTickets(stubTickets{err: errors.New("down")})
	_, _ = ok.SubmitTicket(context.Background(), models.TicketRequest{})
	_, _ = ok.SubmitTicket(context.Background(), models.TicketRequest{})
	_, _ = bad.SubmitTicket(context.Background(), models.TicketRequest{})

	if got := promtest.ToFloat64(m.ticketsCreated.WithLabelValues(StatusSuccess)); got != 2 {
		t.Errorf("expected 2 successes, got %v", got)
	}
	if got := promtest.ToFloat64(m.ticketsCreated.WithLabelValues(StatusFailure)); got != 1 {
		t.Errorf("expected 1 failure, got %v", got)
	}
	if created, failed := m.TicketStats(); created != 2 || failed != 1 {
		t.Errorf("unexpected stats %d/%d", created, failed)
	}
}

func TestInstrumentLeads(t *testing.T) {
	m := New(nil)
	_, _ = m.InstrumentLeads(stubLeads{}).SubmitLead(context.Background(), models.LeadRequest{})
	if got := promtest.ToFloat64(m.leadsCreated.WithLabelValues(StatusSuccess)); got != 1 {
		t.Errorf("expected 1 lead, got %v", got)
	}
}

func TestInstrumentNotifier(t *testing.T) {
	m := New(nil)
	notices := session.DefaultNotices(10 * time.Minute)
	var forwarded []string
	notify := m.InstrumentNotifier(func(_ context.Context, _, text string) error {
		forwarded = append(forwarded, text)
		return nil
	}, notices)

	_ = notify(context.Background(), "1", notices.Warning)
	_ = notify(context.Background(), "1", notices.Closing)
	_ = notify(context.Background(), "1", "otro")

	if len(forwarded) != 3 {
		t.Errorf("all notices should be forwarded, got %d", len(forwarded))
	}
	if promtest.ToFloat64(m.sessionNotices.WithLabelValues(NoticeWarning)) != 1 ||
		promtest.ToFloat64(m.sessionNotices.WithLabelValues(NoticeClosing)) != 1 {
		t.Error("expected one warning and one closing notice")
	}
}

func TestObservers(t *testing.T) {
	m := New(func() int { return 3 })
	m.ObserveReceived(models.InboundMessage{Type: models.MessageTypeText})
	m.ObserveSend("text", models.MessageStatusQueued)
	m.ObserveOutbox(store.OutboxMessage{}, store.OutboxResultSent)
	m.ObserveHandled(models.InboundMessage{}, 200*time.Millisecond)
	m.TrackBreaker("odoo")
	m.ObserveBreaker("openai", gobreaker.StateOpen)

	if promtest.ToFloat64(m.messagesReceived.WithLabelValues("text")) != 1 {
		t.Error("expected a received text message")
	}
	if promtest.ToFloat64(m.messagesSent.WithLabelValues("queued")) != 1 || promtest.ToFloat64(m.messagesSent.WithLabelValues("sent")) != 1 {
		t.Error("expected one queued and one sent message")
	}
	if promtest.ToFloat64(m.breakerState.WithLabelValues("openai")) != 2 || promtest.ToFloat64(m.breakerState.WithLabelValues("odoo")) != 0 {
		t.Error("unexpected breaker gauges")
	}
}

func TestHandler(t *testing.T) {
	m := New(func() int { return 4 })
	m.ObserveReceived(models.InboundMessage{Type: models.MessageTypeImage})

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"ticketpipe_active_sessions 4",
		`ticketpipe_messages_received_total{type="image"} 1`,
		"ticketpipe_response_seconds_bucket",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
