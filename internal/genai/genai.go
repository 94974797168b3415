// Package genai provides the OpenAI-backed collaborators of the support bot:
// free-form replies, ticket subject summaries and intent classification.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/TicketPipe/internal/breaker"
	"github.com/BTreeMap/TicketPipe/internal/intent"
	"github.com/BTreeMap/TicketPipe/internal/session"
)

// Defaults for the chat completion calls.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500

	subjectMaxTokens   = 30
	subjectTemperature = 0.3
	subjectMaxWords    = 10

	classifyMaxTokens = 5

	// BreakerName identifies the OpenAI breaker in logs, metrics and health.
	BreakerName = "openai"
	// BreakerFailures and BreakerOpenFor configure the OpenAI breaker.
	BreakerFailures = 5
	BreakerOpenFor  = 60 * time.Second
)

var (
	ErrNoAPIKey          = errors.New("OPENAI_API_KEY not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openAIChat adapts the SDK's completion service to chatService.
type openAIChat struct {
	svc *openai.ChatCompletionService
}

func (o openAIChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := o.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
	DebugMode   bool
	StateDir    string
	Observer    breaker.StateObserver
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature for replies.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps reply length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithDebugMode writes every call to <stateDir>/debug as JSON.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// WithBreakerObserver reports breaker state changes.
func WithBreakerObserver(obs breaker.StateObserver) Option {
	return func(o *Opts) { o.Observer = obs }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
	debugMode   bool
	stateDir    string
	breaker     *breaker.Breaker
}

// NewClient initializes a client. The API key comes from WithAPIKey or the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: client configured", "model", cfg.Model, "maxTokens", cfg.MaxTokens, "debug", cfg.DebugMode)
	return &Client{
		chat:        openAIChat{svc: &cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
		breaker:     breaker.New(BreakerName, BreakerFailures, BreakerOpenFor, cfg.Observer),
	}, nil
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() *breaker.Breaker {
	return c.breaker
}

// complete runs one chat completion through the breaker and returns the
// first choice's content.
func (c *Client) complete(ctx context.Context, method string, messages []openai.ChatCompletionMessageParamUnion, maxTokens int64, temperature float64) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		MaxTokens:   openai.Int(maxTokens),
		Temperature: openai.Float(temperature),
	}

	var resp openai.ChatCompletion
	call := func() error {
		var err error
		resp, err = c.chat.Create(ctx, params)
		return err
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Do(call)
	} else {
		err = call()
	}
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	c.debugLog(method, params, resp)

	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// debugLog writes the request and response to <stateDir>/debug when debug
// mode is on. Failures are only logged.
func (c *Client) debugLog(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("Client.debugLog: failed to create debug dir", "error", err)
		return
	}
	now := time.Now()
	entry := map[string]interface{}{
		"timestamp": now.Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  resp,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("Client.debugLog: failed to marshal debug entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%d.json", method, now.UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("Client.debugLog: failed to write debug entry", "error", err)
	}
}

// SystemPrompt is the assistant persona for a user.
func SystemPrompt(name string) string {
	return "Eres un asistente virtual de WhatsApp para Operadores Nacionales, una empresa del sector de energía solar.\n\n" +
		"INSTRUCCIONES PRINCIPALES:\n" +
		"- Ayuda a los clientes con consultas generales sobre energía solar y los servicios de la empresa.\n" +
		"- Si detectas que el cliente necesita soporte técnico o tiene un problema, el sistema lo guiará para crear un ticket de soporte.\n" +
		"- Solo responde consultas relacionadas con el negocio de energía solar y los productos de la empresa.\n" +
		"- Sé amable, profesional y conciso en tus respuestas.\n\n" +
		"PROTOCOLO DE CONVERSACIÓN:\n" +
		"- En tu primer mensaje, saluda al cliente por su nombre (" + name + ") y agradécele por contactar a Operadores Nacionales.\n" +
		"- Menciona el nombre de la empresa (Operadores Nacionales) solo en el primer mensaje y al finalizar la conversación.\n" +
		"- Si el cliente pregunta sobre productos o servicios, proporciona información general y sugiérele contactar al equipo comercial.\n\n" +
		"Al finalizar la conversación, agradece al cliente por contactar y menciona nuevamente el nombre de la empresa.\n\n" +
		"Estás hablando con " + name + " a través de WhatsApp. Mantén tus mensajes breves y directos."
}

const firstContactPrompt = "Esta es la primera interacción con este cliente. Asegúrate de presentarte en nombre de Operadores Nacionales."

// GenerateReply answers message given the prior conversation.
func (c *Client) GenerateReply(ctx context.Context, history []session.HistoryEntry, message, userName string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(SystemPrompt(userName))}
	if len(history) == 0 {
		messages = append(messages, openai.SystemMessage(firstContactPrompt))
	}
	for _, h := range history {
		switch h.Role {
		case session.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(h.Content))
		default:
			messages = append(messages, openai.UserMessage(h.Content))
		}
	}
	messages = append(messages, openai.UserMessage(message))

	reply, err := c.complete(ctx, "GenerateReply", messages, c.maxTokens, c.temperature)
	if err != nil {
		return "", err
	}
	slog.Debug("Client.GenerateReply: reply generated", "historyLen", len(history), "replyLen", len(reply))
	return strings.TrimSpace(reply), nil
}

// Summarize produces a ticket subject of at most ten words.
func (c *Client) Summarize(ctx context.Context, description string) (string, error) {
	prompt := "Genera un asunto conciso (máximo 10 palabras) que resuma el siguiente problema:\n\n\"" +
		description + "\"\n\nSolo responde con el asunto, sin comillas ni puntos al final."
	out, err := c.complete(ctx, "Summarize", []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(prompt),
	}, subjectMaxTokens, subjectTemperature)
	if err != nil {
		return "", err
	}
	subject := CleanSubject(out)
	if subject == "" {
		return "", ErrNoChoicesReturned
	}
	return subject, nil
}

// CleanSubject strips quotes and trailing periods and caps the subject at
// ten words.
func CleanSubject(s string) string {
	s = strings.NewReplacer(`"`, "", "'", "", "“", "", "”", "").Replace(strings.TrimSpace(s))
	s = strings.TrimRight(strings.TrimSpace(s), ".")
	words := strings.Fields(s)
	if len(words) > subjectMaxWords {
		words = words[:subjectMaxWords]
	}
	return strings.Join(words, " ")
}

const classifyPrompt = "Clasifica el mensaje de un cliente de una empresa de energía solar. " +
	"Responde únicamente 'ticket' si el cliente reporta un problema técnico, una falla o solicita soporte, " +
	"o 'otro' en cualquier otro caso."

// ClassifyIntent asks the model whether text reports a problem.
func (c *Client) ClassifyIntent(ctx context.Context, text string) (intent.Intent, error) {
	out, err := c.complete(ctx, "ClassifyIntent", []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(classifyPrompt),
		openai.UserMessage(text),
	}, classifyMaxTokens, 0)
	if err != nil {
		return intent.Other, err
	}
	if strings.Contains(strings.ToLower(out), "ticket") {
		return intent.Ticket, nil
	}
	return intent.Other, nil
}
