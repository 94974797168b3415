// Package metrics defines TicketPipe's Prometheus collectors and the small
// adapters that feed them from the rest of the system.
package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"github.com/BTreeMap/TicketPipe/internal/breaker"
	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/session"
	"github.com/BTreeMap/TicketPipe/internal/store"
)

const namespace = "ticketpipe"

// Label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"

	NoticeWarning = "warning"
	NoticeClosing = "closing"
)

// Metrics owns a private registry with every TicketPipe collector.
type Metrics struct {
	registry *prometheus.Registry

	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	ticketsCreated   *prometheus.CounterVec
	leadsCreated     *prometheus.CounterVec
	responseSeconds  prometheus.Histogram
	breakerState     *prometheus.GaugeVec
	sessionNotices   *prometheus.CounterVec
	outboxAttempts   *prometheus.CounterVec

	ticketsOK     atomic.Int64
	ticketsFailed atomic.Int64
}

// New registers all collectors. activeSessions is sampled on every scrape.
func New(activeSessions func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_received_total",
			Help: "Inbound WhatsApp messages accepted for routing, by message type.",
		}, []string{"type"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_sent_total",
			Help: "Outbound WhatsApp messages, by delivery status.",
		}, []string{"status"}),
		ticketsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tickets_created_total",
			Help: "Odoo ticket submissions, by outcome.",
		}, []string{"status"}),
		leadsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "leads_created_total",
			Help: "Odoo lead submissions, by outcome.",
		}, []string{"status"}),
		responseSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "response_seconds",
			Help:    "Time to route and answer one inbound message.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state",
			Help: "Circuit breaker state per service: 0 closed, 1 half-open, 2 open.",
		}, []string{"service"}),
		sessionNotices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_notices_total",
			Help: "Inactivity notices sent, by kind.",
		}, []string{"kind"}),
		outboxAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbox_attempts_total",
			Help: "Outbox redelivery attempts, by result.",
		}, []string{"result"}),
	}
	active := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "active_sessions",
		Help: "Sessions currently held in memory.",
	}, func() float64 {
		if activeSessions == nil {
			return 0
		}
		return float64(activeSessions())
	})

	reg.MustRegister(
		m.messagesReceived, m.messagesSent, m.ticketsCreated, m.leadsCreated,
		m.responseSeconds, m.breakerState, m.sessionNotices, m.outboxAttempts, active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveReceived counts an inbound message.
func (m *Metrics) ObserveReceived(msg models.InboundMessage) {
	m.messagesReceived.WithLabelValues(string(msg.Type)).Inc()
}

// ObserveHandled records routing latency.
func (m *Metrics) ObserveHandled(_ models.InboundMessage, elapsed time.Duration) {
	m.responseSeconds.Observe(elapsed.Seconds())
}

// ObserveSend counts an outbound message by status.
func (m *Metrics) ObserveSend(_ string, status models.MessageStatus) {
	m.messagesSent.WithLabelValues(string(status)).Inc()
}

// ObserveOutbox counts an outbox redelivery attempt.
func (m *Metrics) ObserveOutbox(_ store.OutboxMessage, result store.OutboxResult) {
	m.outboxAttempts.WithLabelValues(string(result)).Inc()
	if result == store.OutboxResultSent {
		m.messagesSent.WithLabelValues(string(models.MessageStatusSent)).Inc()
	}
}

// TrackBreaker initializes the gauge for a breaker at closed.
func (m *Metrics) TrackBreaker(name string) {
	m.breakerState.WithLabelValues(name).Set(breaker.StateValue(gobreaker.StateClosed))
}

// ObserveBreaker is a breaker.StateObserver.
func (m *Metrics) ObserveBreaker(name string, state gobreaker.State) {
	m.breakerState.WithLabelValues(name).Set(breaker.StateValue(state))
}

// ObserveNotice counts an inactivity notice.
func (m *Metrics) ObserveNotice(kind string) {
	m.sessionNotices.WithLabelValues(kind).Inc()
}

// TicketStats returns tickets created and failed since start.
func (m *Metrics) TicketStats() (created, failed int64) {
	return m.ticketsOK.Load(), m.ticketsFailed.Load()
}

func outcome(err error) string {
	if err != nil {
		return StatusFailure
	}
	return StatusSuccess
}

// TicketSubmitter matches conversation.TicketSubmitter.
type TicketSubmitter interface {
	SubmitTicket(ctx context.Context, req models.TicketRequest) (string, error)
}

// LeadSubmitter matches the admin API's lead collaborator.
type LeadSubmitter interface {
	SubmitLead(ctx context.Context, req models.LeadRequest) (string, error)
}

type instrumentedTickets struct {
	next TicketSubmitter
	m    *Metrics
}

func (t instrumentedTickets) SubmitTicket(ctx context.Context, req models.TicketRequest) (string, error) {
	id, err := t.next.SubmitTicket(ctx, req)
	t.m.ticketsCreated.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		t.m.ticketsFailed.Add(1)
	} else {
		t.m.ticketsOK.Add(1)
	}
	return id, err
}

// InstrumentTickets counts every ticket submission made through next.
func (m *Metrics) InstrumentTickets(next TicketSubmitter) TicketSubmitter {
	return instrumentedTickets{next: next, m: m}
}

type instrumentedLeads struct {
	next LeadSubmitter
	m    *Metrics
}

func (l instrumentedLeads) SubmitLead(ctx context.Context, req models.LeadRequest) (string, error) {
	id, err := l.next.SubmitLead(ctx, req)
	l.m.leadsCreated.WithLabelValues(outcome(err)).Inc()
	return id, err
}

// InstrumentLeads counts every lead submission made through next.
func (m *Metrics) InstrumentLeads(next LeadSubmitter) LeadSubmitter {
	return instrumentedLeads{next: next, m: m}
}

// InstrumentNotifier counts sweep notices by comparing the text against the
// configured notices, then forwards to next.
func (m *Metrics) InstrumentNotifier(next session.Notifier, notices session.Notices) session.Notifier {
	return func(ctx context.Context, userID, text string) error {
		switch text {
		case notices.Warning:
			m.ObserveNotice(NoticeWarning)
		case notices.Closing:
			m.ObserveNotice(NoticeClosing)
		}
		return next(ctx, userID, text)
	}
}
