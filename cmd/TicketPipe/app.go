package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/BTreeMap/TicketPipe/internal/api"
	"github.com/BTreeMap/TicketPipe/internal/breaker"
	"github.com/BTreeMap/TicketPipe/internal/catalog"
	"github.com/BTreeMap/TicketPipe/internal/cloudapi"
	"github.com/BTreeMap/TicketPipe/internal/conversation"
	"github.com/BTreeMap/TicketPipe/internal/crm"
	"github.com/BTreeMap/TicketPipe/internal/genai"
	"github.com/BTreeMap/TicketPipe/internal/intent"
	"github.com/BTreeMap/TicketPipe/internal/lockfile"
	"github.com/BTreeMap/TicketPipe/internal/messaging"
	"github.com/BTreeMap/TicketPipe/internal/metrics"
	"github.com/BTreeMap/TicketPipe/internal/scheduler"
	"github.com/BTreeMap/TicketPipe/internal/session"
	"github.com/BTreeMap/TicketPipe/internal/store"
	"github.com/BTreeMap/TicketPipe/internal/transcript"
	"github.com/BTreeMap/TicketPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/TicketPipe/internal/whatsapp"
)

// StoreKindFile marks the JSON file persister with in-memory dedup.
const StoreKindFile = "file"

// storage bundles the repositories chosen from the configuration. outbox is
// nil without a database.
type storage struct {
	kind      string
	persister session.Persister
	dedup     store.DedupRepo
	outbox    store.OutboxRepo
	close     func() error
}

// openStorage picks SQL storage when a DSN is configured and falls back to
// sessions.json plus in-memory dedup otherwise.
func openStorage(config Config) (*storage, error) {
	if config.DatabaseDSN == "" {
		path := filepath.Join(config.StateDir, DefaultSessionsFileName)
		slog.Info("No database DSN provided, persisting sessions to file", "path", path)
		return &storage{
			kind:      StoreKindFile,
			persister: session.NewFilePersister(path),
			dedup:     store.NewInMemoryStore(),
			close:     func() error { return nil },
		}, nil
	}
	st, err := store.Open(config.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &storage{
		kind:      store.DetectDSNType(config.DatabaseDSN),
		persister: session.NewStorePersister(st),
		dedup:     st,
		outbox:    st,
		close:     st.Close,
	}, nil
}

// buildTransport creates the configured messaging service and the API
// options it needs.
func buildTransport(ctx context.Context, config Config) (messaging.Service, []api.Option, error) {
	switch config.Transport {
	case messaging.TransportCloud:
		client, err := cloudapi.NewClient(
			cloudapi.WithAccessToken(config.AccessToken),
			cloudapi.WithPhoneNumberID(config.PhoneNumberID),
			cloudapi.WithVersion(config.GraphVersion),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("cloud API transport: %w", err)
		}
		return messaging.NewWebhookService(messaging.TransportCloud, client), nil, nil

	case messaging.TransportTwilio:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioAccountSID),
			twiliowhatsapp.WithAuthToken(config.TwilioAuthToken),
			twiliowhatsapp.WithFromWhats(config.TwilioFrom),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("twilio transport: %w", err)
		}
		opts := []api.Option{api.WithTwilio(client, config.TwilioWebhookURL)}
		return messaging.NewWebhookService(messaging.TransportTwilio, client), opts, nil

	case messaging.TransportWhatsmeow:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(config.WhatsAppDSN)}
		if config.QRPath != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(config.QRPath))
		}
		if config.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("whatsmeow transport: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown messaging transport %q", config.Transport)
}

// buildGenAI returns nil when no API key is configured.
func buildGenAI(config Config, m *metrics.Metrics) (*genai.Client, error) {
	if config.OpenAIKey == "" {
		slog.Warn("OPENAI_API_KEY not set, open questions get the fallback reply")
		return nil, nil
	}
	opts := []genai.Option{
		genai.WithAPIKey(config.OpenAIKey),
		genai.WithModel(config.OpenAIModel),
		genai.WithBreakerObserver(m.ObserveBreaker),
	}
	if config.GenAIDebug {
		opts = append(opts, genai.WithDebugMode(true, config.StateDir))
	}
	client, err := genai.NewClient(opts...)
	if errors.Is(err, genai.ErrNoAPIKey) {
		return nil, nil
	}
	return client, err
}

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, config Config) error {
	lock, err := lockfile.AcquireLock(config.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := openStorage(config)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()

	cat, err := catalog.Load(config.CatalogFile)
	if err != nil {
		return err
	}

	log := transcript.NewLog(filepath.Join(config.StateDir, transcript.DefaultFileName))
	notices := session.DefaultNotices(config.SessionTimeout)
	sessions := session.NewManager(
		session.WithTimeout(config.SessionTimeout),
		session.WithSweepInterval(config.SweepInterval),
		session.WithHistoryCap(config.HistoryCap),
		session.WithPersister(st.persister),
		session.WithNotices(notices),
		session.WithEndHook(log.EndHook()),
	)
	restored := sessions.Load()
	slog.Info("Sessions restored", "count", restored, "store", st.kind)

	m := metrics.New(sessions.Count)

	odoo := crm.NewClient(
		crm.WithTicketsURL(config.OdooTicketsURL),
		crm.WithLeadsURL(config.OdooLeadsURL),
		crm.WithBreakerObserver(m.ObserveBreaker),
	)
	m.TrackBreaker(crm.BreakerName)
	breakers := []*breaker.Breaker{odoo.Breaker()}

	ga, err := buildGenAI(config, m)
	if err != nil {
		return fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	svc, transportOpts, err := buildTransport(ctx, config)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s transport: %w", svc.Name(), err)
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			slog.Error("Failed to stop transport", "transport", svc.Name(), "error", err)
		}
	}()

	sender := messaging.NewReliableSender(svc, st.outbox, m.ObserveSend)
	sessions.SetNotifier(m.InstrumentNotifier(func(ctx context.Context, userID, text string) error {
		return sender.SendText(ctx, userID, text)
	}, notices))

	keywords := intent.NewKeywordClassifier()
	var classifier intent.Classifier = keywords
	routerOpts := []conversation.Option{
		conversation.WithKeywords(keywords),
		conversation.WithCatalog(cat),
		conversation.WithEmailRequired(config.EmailRequired),
		conversation.WithSubmitter(m.InstrumentTickets(odoo)),
	}
	if ga != nil {
		m.TrackBreaker(ga.Breaker().Name())
		breakers = append(breakers, ga.Breaker())
		routerOpts = append(routerOpts, conversation.WithAssistant(ga), conversation.WithSummarizer(ga))
		if config.IntentMode == IntentAI {
			classifier = intent.NewChain(keywords, ga)
		}
	} else if config.IntentMode == IntentAI {
		slog.Warn("INTENT_CLASSIFIER=ai requires OPENAI_API_KEY, using keyword classifier")
	}
	routerOpts = append(routerOpts, conversation.WithClassifier(classifier))

	router, err := conversation.NewRouter(sessions, sender, routerOpts...)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}

	dispatcher := messaging.NewDispatcher(router, st.dedup, config.DispatchWorkers, messaging.DispatchObserver{
		Received: m.ObserveReceived,
		Handled:  m.ObserveHandled,
	})

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	maintenance := &scheduler.Maintenance{Dedup: st.dedup, Outbox: st.outbox}
	if err := maintenance.Schedule(sched, config.MaintenanceCron); err != nil {
		return err
	}

	loops := []api.Loop{
		func(ctx context.Context) error { sessions.Run(ctx); return nil },
		dispatcher.Run,
		func(ctx context.Context) error { dispatcher.Consume(ctx, svc.Inbound()); return nil },
	}
	if st.outbox != nil {
		outbox := store.NewOutboxSender(st.outbox, sender.Redeliver, 0, 0)
		outbox.SetObserver(m.ObserveOutbox)
		if err := outbox.RecoverStaleMessages(); err != nil {
			slog.Warn("Failed to recover stale outbox messages", "error", err)
		}
		loops = append(loops, func(ctx context.Context) error { outbox.Run(ctx); return nil })
	}

	apiOpts := []api.Option{
		api.WithAddr(config.APIAddr),
		api.WithTransport(svc.Name()),
		api.WithStoreKind(st.kind),
		api.WithStateDir(config.StateDir),
		api.WithConfigured("access_token", config.AccessToken != ""),
		api.WithConfigured("verify_token", config.VerifyToken != ""),
		api.WithConfigured("app_secret", config.AppSecret != ""),
		api.WithConfigured("openai", ga != nil),
		api.WithConfigured("odoo_tickets", odoo.TicketsConfigured()),
		api.WithConfigured("odoo_leads", odoo.LeadsConfigured()),
		api.WithConfigured("database", config.DatabaseDSN != ""),
		api.WithVerifyToken(config.VerifyToken),
		api.WithAppSecret(config.AppSecret),
		api.WithAdminToken(config.AdminToken),
		api.WithMetrics(m),
		api.WithTranscript(log),
		api.WithLeads(m.InstrumentLeads(odoo)),
		api.WithBreakers(breakers...),
	}
	apiOpts = append(apiOpts, transportOpts...)

	server := api.NewServer(sessions, dispatcher, apiOpts...)
	return server.Run(ctx, loops...)
}
