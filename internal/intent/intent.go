// Package intent classifies inbound text into the intents the conversation
// router branches on.
package intent

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Intent is the classification of one inbound message.
type Intent string

const (
	Greeting Intent = "greeting"
	Farewell Intent = "farewell"
	Ticket   Intent = "ticket"
	Other    Intent = "other"
)

// Classifier maps message text to an intent. Implementations never fail;
// uncertain input is Other.
type Classifier interface {
	Classify(ctx context.Context, text string) Intent
}

// Default keyword lists. Termination and greeting words match the whole
// message; ticket keywords match anywhere in it.
var (
	DefaultTerminationWords = []string{
		"finalizar", "terminar", "cerrar", "adios", "adiós", "chao", "bye", "end", "fin", "salir", "exit",
	}
	DefaultGreetingWords  = []string{"hola", "hi", "hello"}
	DefaultTicketKeywords = []string{
		"problema", "error", "falla", "ticket", "ayuda", "soporte", "no funciona",
		"issue", "bug", "help", "support", "not working", "broken", "doesn't work",
		"reportar", "reporte", "report", "queja", "complaint", "asistencia técnica",
		"mal funcionamiento", "avería", "servicio técnico", "reparación",
	}
)

// Normalize lower-cases text and trims surrounding whitespace and
// punctuation so "¡Hola!" compares equal to "hola".
func Normalize(text string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(text)), " \t\r\n.,;:!¡?¿")
}

// KeywordClassifier is the built-in deterministic classifier.
type KeywordClassifier struct {
	termination map[string]bool
	greeting    map[string]bool
	ticket      []string
}

// NewKeywordClassifier builds a classifier from the default keyword lists.
func NewKeywordClassifier() *KeywordClassifier {
	return NewKeywordClassifierWith(DefaultTerminationWords, DefaultGreetingWords, DefaultTicketKeywords)
}

// NewKeywordClassifierWith builds a classifier from custom keyword lists.
func NewKeywordClassifierWith(termination, greeting, ticket []string) *KeywordClassifier {
	k := &KeywordClassifier{
		termination: make(map[string]bool, len(termination)),
		greeting:    make(map[string]bool, len(greeting)),
	}
	for _, w := range termination {
		k.termination[Normalize(w)] = true
	}
	for _, w := range greeting {
		k.greeting[Normalize(w)] = true
	}
	for _, w := range ticket {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			k.ticket = append(k.ticket, w)
		}
	}
	return k
}

// Classify checks termination first, then greeting, then ticket keywords.
func (k *KeywordClassifier) Classify(_ context.Context, text string) Intent {
	norm := Normalize(text)
	if norm == "" {
		return Other
	}
	if k.termination[norm] {
		return Farewell
	}
	if k.greeting[norm] {
		return Greeting
	}
	if k.HasTicketIntent(norm) {
		return Ticket
	}
	return Other
}

// IsTermination reports whether text is exactly a termination word.
func (k *KeywordClassifier) IsTermination(text string) bool {
	return k.termination[Normalize(text)]
}

// HasTicketIntent reports whether any ticket keyword occurs in text.
func (k *KeywordClassifier) HasTicketIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range k.ticket {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ModelClassifier is a model-backed classifier that may fail.
type ModelClassifier interface {
	ClassifyIntent(ctx context.Context, text string) (Intent, error)
}

// DefaultModelTimeout bounds a single model classification.
const DefaultModelTimeout = 5 * time.Second

// Chain runs the keyword classifier and consults a model only for messages
// the keywords left as Other. The model may only upgrade Other to Ticket;
// greetings and terminations stay exact-match.
type Chain struct {
	keywords *KeywordClassifier
	model    ModelClassifier
	timeout  time.Duration
}

// NewChain creates a chain. A nil model makes it equivalent to keywords alone.
func NewChain(keywords *KeywordClassifier, model ModelClassifier) *Chain {
	if keywords == nil {
		keywords = NewKeywordClassifier()
	}
	return &Chain{keywords: keywords, model: model, timeout: DefaultModelTimeout}
}

// Classify implements Classifier.
func (c *Chain) Classify(ctx context.Context, text string) Intent {
	in := c.keywords.Classify(ctx, text)
	if in != Other || c.model == nil || Normalize(text) == "" {
		return in
	}
	mctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	got, err := c.model.ClassifyIntent(mctx, text)
	if err != nil {
		slog.Warn("Chain.Classify: model classification failed, using keywords", "error", err)
		return Other
	}
	if got == Ticket {
		slog.Debug("Chain.Classify: model detected ticket intent")
		return Ticket
	}
	return Other
}
