// Command TicketPipe runs the WhatsApp support bot: webhook server, session
// sweep, inbound dispatcher and outbox retry in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/TicketPipe/internal/genai"
	"github.com/BTreeMap/TicketPipe/internal/messaging"
	"github.com/BTreeMap/TicketPipe/internal/scheduler"
	"github.com/BTreeMap/TicketPipe/internal/session"
	"github.com/BTreeMap/TicketPipe/internal/util"
	"github.com/BTreeMap/TicketPipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TicketPipe state data
	DefaultStateDir = "/var/lib/ticketpipe"
	// DefaultSessionsFileName holds the session table when no database is configured
	DefaultSessionsFileName = "sessions.json"
	DefaultAPIAddr          = ":8080"
	DefaultGraphVersion     = "v18.0"

	IntentKeyword = "keyword"
	IntentAI      = "ai"
)

// Config holds environment configuration
type Config struct {
	StateDir    string
	DatabaseDSN string
	APIAddr     string
	Transport   string

	AccessToken   string
	PhoneNumberID string
	GraphVersion  string
	VerifyToken   string
	AppSecret     string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string
	TwilioWebhookURL string

	WhatsAppDSN string
	QRPath      string
	NumericCode bool

	OpenAIKey   string
	OpenAIModel string
	GenAIDebug  bool
	IntentMode  string

	OdooTicketsURL string
	OdooLeadsURL   string

	SessionTimeout  time.Duration
	SweepInterval   time.Duration
	HistoryCap      int
	EmailRequired   bool
	CatalogFile     string
	AdminToken      string
	DispatchWorkers int
	MaintenanceCron string

	LogFormat string
	LogLevel  string
}

func main() {
	envErr := godotenv.Load()
	initializeLogger(os.Stdout, os.Getenv("LOG_FORMAT"), os.Getenv("LOG_LEVEL"))
	if envErr != nil {
		slog.Debug("failed to load .env file", "error", envErr)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := loadEnvironmentConfig()
	if err := parseCommandLineFlags(&config, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}
	if err := config.validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping TicketPipe", "transport", config.Transport, "state_dir", config.StateDir, "dsn_set", config.DatabaseDSN != "", "api_addr", config.APIAddr)
	if err := run(ctx, config); err != nil {
		slog.Error("TicketPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("TicketPipe exited successfully")
}

// initializeLogger installs the default slog logger. format is "text" or
// "json"; level is debug, info, warn or error.
func initializeLogger(w io.Writer, format, level string) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig reads configuration from the environment
func loadEnvironmentConfig() Config {
	databaseDSN := util.GetenvDefault("DATABASE_DSN", os.Getenv("DATABASE_URL"))
	config := Config{
		StateDir:    util.GetenvDefault("TICKETPIPE_STATE_DIR", DefaultStateDir),
		DatabaseDSN: strings.TrimSpace(databaseDSN),
		APIAddr:     util.GetenvDefault("API_ADDR", DefaultAPIAddr),
		Transport:   strings.ToLower(util.GetenvDefault("MESSAGING_TRANSPORT", messaging.TransportCloud)),

		AccessToken:   os.Getenv("ACCESS_TOKEN"),
		PhoneNumberID: os.Getenv("PHONE_NUMBER_ID"),
		GraphVersion:  util.GetenvDefault("VERSION", DefaultGraphVersion),
		VerifyToken:   os.Getenv("VERIFY_TOKEN"),
		AppSecret:     os.Getenv("APP_SECRET"),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),

		WhatsAppDSN: os.Getenv("WHATSAPP_DB_DSN"),

		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel: util.GetenvDefault("OPENAI_MODEL", genai.DefaultModel),
		GenAIDebug:  util.ParseBoolEnv("GENAI_DEBUG", false),
		IntentMode:  strings.ToLower(util.GetenvDefault("INTENT_CLASSIFIER", IntentKeyword)),

		OdooTicketsURL: os.Getenv("ODOO_WEBHOOK_URL_TICKETS"),
		OdooLeadsURL:   os.Getenv("ODOO_WEBHOOK_URL_LEADS"),

		SessionTimeout:  util.ParseDurationEnv("SESSION_TIMEOUT", session.DefaultTimeout),
		SweepInterval:   util.ParseDurationEnv("SESSION_SWEEP_INTERVAL", session.DefaultSweepInterval),
		HistoryCap:      util.ParseIntEnv("SESSION_HISTORY_CAP", session.DefaultHistoryCap),
		EmailRequired:   util.ParseBoolEnv("TICKET_EMAIL_REQUIRED", true),
		CatalogFile:     os.Getenv("CATALOG_FILE"),
		AdminToken:      os.Getenv("ADMIN_TOKEN"),
		DispatchWorkers: util.ParseIntEnv("DISPATCH_WORKERS", messaging.DefaultWorkers),
		MaintenanceCron: util.GetenvDefault("MAINTENANCE_CRON", scheduler.DefaultMaintenanceSpec),

		LogFormat: os.Getenv("LOG_FORMAT"),
		LogLevel:  os.Getenv("LOG_LEVEL"),
	}

	slog.Debug("environment variables loaded",
		"TICKETPIPE_STATE_DIR", config.StateDir,
		"DATABASE_DSN_SET", config.DatabaseDSN != "",
		"MESSAGING_TRANSPORT", config.Transport,
		"ACCESS_TOKEN_SET", config.AccessToken != "",
		"APP_SECRET_SET", config.AppSecret != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"INTENT_CLASSIFIER", config.IntentMode,
		"ODOO_TICKETS_SET", config.OdooTicketsURL != "",
		"ADMIN_TOKEN_SET", config.AdminToken != "",
		"SESSION_TIMEOUT", config.SessionTimeout)
	return config
}

// parseCommandLineFlags applies command line overrides to config.
func parseCommandLineFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("TicketPipe", flag.ContinueOnError)
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for TicketPipe data (overrides $TICKETPIPE_STATE_DIR)")
	fs.StringVar(&config.DatabaseDSN, "db-dsn", config.DatabaseDSN, "SQLite path or Postgres DSN for sessions, dedup and outbox (overrides $DATABASE_DSN or $DATABASE_URL)")
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.StringVar(&config.Transport, "transport", config.Transport, "messaging transport: cloud, twilio or whatsmeow (overrides $MESSAGING_TRANSPORT)")
	fs.StringVar(&config.GraphVersion, "graph-version", config.GraphVersion, "Graph API version (overrides $VERSION)")
	fs.StringVar(&config.WhatsAppDSN, "whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&config.QRPath, "qr-output", "", "path to write the whatsmeow login QR code")
	fs.BoolVar(&config.NumericCode, "numeric-code", false, "print the raw whatsmeow login code instead of a QR code")
	fs.StringVar(&config.OpenAIKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&config.IntentMode, "intent", config.IntentMode, "intent classifier: keyword or ai (overrides $INTENT_CLASSIFIER)")
	fs.DurationVar(&config.SessionTimeout, "session-timeout", config.SessionTimeout, "session inactivity timeout (overrides $SESSION_TIMEOUT)")
	fs.StringVar(&config.CatalogFile, "catalog", config.CatalogFile, "YAML file overriding the country and segment catalog (overrides $CATALOG_FILE)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	config.Transport = strings.ToLower(strings.TrimSpace(config.Transport))
	config.IntentMode = strings.ToLower(strings.TrimSpace(config.IntentMode))
	// The device store follows the final state directory unless set explicitly.
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = "file:" + filepath.Join(config.StateDir, whatsapp.DefaultDBFileName) + "?_foreign_keys=on"
	}

	slog.Debug("flags parsed",
		"stateDir", config.StateDir,
		"dbDSN_set", config.DatabaseDSN != "",
		"apiAddr", config.APIAddr,
		"transport", config.Transport,
		"intent", config.IntentMode,
		"sessionTimeout", config.SessionTimeout)
	return nil
}

// validate rejects configurations that cannot start.
func (c Config) validate() error {
	switch c.Transport {
	case messaging.TransportCloud, messaging.TransportTwilio, messaging.TransportWhatsmeow:
	default:
		return fmt.Errorf("unknown messaging transport %q (want cloud, twilio or whatsmeow)", c.Transport)
	}
	switch c.IntentMode {
	case IntentKeyword, IntentAI:
	default:
		return fmt.Errorf("unknown intent classifier %q (want keyword or ai)", c.IntentMode)
	}
	if c.StateDir == "" {
		return errors.New("state directory must not be empty")
	}
	if c.SessionTimeout < time.Minute {
		return fmt.Errorf("session timeout %s is too short (minimum 1m)", c.SessionTimeout)
	}
	return nil
}
