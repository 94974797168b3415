// Package api provides the HTTP surface and server lifecycle for TicketPipe.
//
// It receives WhatsApp webhooks (Cloud API and Twilio), hands inbound
// messages to the dispatcher, and exposes health, metrics and the admin
// endpoints used by operators.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/TicketPipe/internal/breaker"
	"github.com/BTreeMap/TicketPipe/internal/messaging"
	"github.com/BTreeMap/TicketPipe/internal/metrics"
	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/session"
	"github.com/BTreeMap/TicketPipe/internal/transcript"
)

// Server defaults.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultReadTimeout     = 30 * time.Second
	// maxBodyBytes bounds webhook and admin request bodies.
	maxBodyBytes = 1 << 20
)

// Submitter queues inbound messages for routing. *messaging.Dispatcher
// implements it.
type Submitter interface {
	Submit(msg models.InboundMessage) messaging.SubmitResult
}

var _ Submitter = (*messaging.Dispatcher)(nil)

// TwilioVerifier validates X-Twilio-Signature on form posts.
type TwilioVerifier interface {
	ValidateSignature(fullURL string, form url.Values, signature string) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	ShutdownTimeout time.Duration

	// Reported by /health.
	Transport  string
	StoreKind  string
	StateDir   string
	Configured map[string]bool

	VerifyToken string
	AppSecret   string
	AdminToken  string

	Twilio           TwilioVerifier
	TwilioWebhookURL string

	Metrics    *metrics.Metrics
	Transcript *transcript.Log
	Leads      metrics.LeadSubmitter
	Breakers   []*breaker.Breaker
}

// Option defines a functional option for configuring the server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithShutdownTimeout bounds the HTTP drain on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTimeout = d }
}

// WithTransport names the active messaging transport.
func WithTransport(name string) Option {
	return func(o *Opts) { o.Transport = name }
}

// WithStoreKind names the storage backend ("sqlite3", "postgres", "file").
func WithStoreKind(kind string) Option {
	return func(o *Opts) { o.StoreKind = kind }
}

// WithStateDir sets the directory whose writability /health reports.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithConfigured records whether a configuration item is present. Only the
// boolean is ever exposed.
func WithConfigured(name string, present bool) Option {
	return func(o *Opts) {
		if o.Configured == nil {
			o.Configured = make(map[string]bool)
		}
		o.Configured[name] = present
	}
}

// WithVerifyToken sets the Cloud API webhook verification token.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithAppSecret enables X-Hub-Signature-256 verification.
func WithAppSecret(secret string) Option {
	return func(o *Opts) { o.AppSecret = secret }
}

// WithAdminToken mounts the /api admin routes behind a bearer token.
func WithAdminToken(token string) Option {
	return func(o *Opts) { o.AdminToken = token }
}

// WithTwilio mounts POST /twilio/webhook. webhookURL is the public URL Twilio
// signs; when empty, signatures are not checked.
func WithTwilio(v TwilioVerifier, webhookURL string) Option {
	return func(o *Opts) {
		o.Twilio = v
		o.TwilioWebhookURL = webhookURL
	}
}

// WithMetrics mounts /metrics and feeds ticket counts into /api/stats.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithTranscript serves /api/conversations from the given log.
func WithTranscript(l *transcript.Log) Option {
	return func(o *Opts) { o.Transcript = l }
}

// WithLeads enables POST /api/leads.
func WithLeads(l metrics.LeadSubmitter) Option {
	return func(o *Opts) { o.Leads = l }
}

// WithBreakers lists circuit breakers reported by /health.
func WithBreakers(b ...*breaker.Breaker) Option {
	return func(o *Opts) { o.Breakers = append(o.Breakers, b...) }
}

// Server serves the TicketPipe HTTP API.
type Server struct {
	opts     Opts
	sessions *session.Manager
	inbound  Submitter
	handler  http.Handler

	statusCallbacks atomic.Int64
}

// NewServer builds the router. sessions and inbound are required.
func NewServer(sessions *session.Manager, inbound Submitter, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.AppSecret == "" {
		slog.Warn("Server: APP_SECRET not set, webhook signatures will not be verified")
	}
	if o.Twilio != nil && o.TwilioWebhookURL == "" {
		slog.Warn("Server: TWILIO_WEBHOOK_URL not set, Twilio signatures will not be verified")
	}
	s := &Server{opts: o, sessions: sessions, inbound: inbound}
	s.handler = s.routes()
	return s
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	r.Get("/health", s.healthHandler)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}

	r.Get("/webhook", s.verifyWebhookHandler)
	r.Post("/webhook", s.cloudWebhookHandler)
	if s.opts.Twilio != nil {
		r.Post("/twilio/webhook", s.twilioWebhookHandler)
	}

	if s.opts.AdminToken != "" {
		r.Route("/api", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/stats", s.statsHandler)
			r.Get("/sessions", s.listSessionsHandler)
			r.Get("/sessions/{userID}", s.getSessionHandler)
			r.Delete("/sessions/{userID}", s.deleteSessionHandler)
			r.Get("/conversations", s.conversationsHandler)
			r.Post("/leads", s.createLeadHandler)
		})
	} else {
		slog.Info("Server: ADMIN_TOKEN not set, admin routes disabled")
	}
	return r
}

// Loop is a background task run alongside the HTTP server. It must return
// when ctx is cancelled.
type Loop func(ctx context.Context) error

// Run serves HTTP and runs loops until ctx is cancelled or any of them fails.
// On shutdown the server drains for at most ShutdownTimeout and the session
// table is persisted one last time.
func (s *Server) Run(ctx context.Context, loops ...Loop) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: DefaultReadTimeout,
		ReadTimeout:       DefaultReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server.Run: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})
	for _, loop := range loops {
		g.Go(func() error { return loop(gctx) })
	}

	err := g.Wait()
	s.sessions.Flush()
	slog.Info("Server.Run: stopped")
	return err
}
