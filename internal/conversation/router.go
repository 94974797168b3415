package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TicketPipe/internal/catalog"
	"github.com/BTreeMap/TicketPipe/internal/intent"
	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/session"
)

// Default collaborator timeouts.
const (
	DefaultSendTimeout      = 10 * time.Second
	DefaultReplyTimeout     = 30 * time.Second
	DefaultSummarizeTimeout = 10 * time.Second
	DefaultSubmitTimeout    = 20 * time.Second
	// DefaultHistoryWindow is how many prior messages the assistant sees.
	DefaultHistoryWindow = 10
)

var negativeTokens = map[string]bool{
	"no": true, "nop": true, "nope": true, "negativo": true, "n": true, "no gracias": true,
}

// Reply is what the router sends back for one inbound message. Text goes
// first; List, when set, follows it and degrades to ListFallback (or the
// list's plain-text rendering) if the transport rejects it.
type Reply struct {
	Text         string
	List         *models.ListMessage
	ListFallback string
	// End closes the session once the reply has been delivered.
	End bool
}

// Opts holds optional collaborators and tunables for a Router.
type Opts struct {
	Assistant     Assistant
	Classifier    intent.Classifier
	Keywords      *intent.KeywordClassifier
	Summarizer    Summarizer
	Submitter     TicketSubmitter
	Catalog       *catalog.Catalog
	EmailRequired bool

	SendTimeout      time.Duration
	ReplyTimeout     time.Duration
	SummarizeTimeout time.Duration
	SubmitTimeout    time.Duration
	HistoryWindow    int
}

// Option configures a Router.
type Option func(*Opts)

// WithAssistant sets the AI backend for open questions.
func WithAssistant(a Assistant) Option {
	return func(o *Opts) { o.Assistant = a }
}

// WithClassifier sets the classifier consulted while awaiting a query.
func WithClassifier(c intent.Classifier) Option {
	return func(o *Opts) { o.Classifier = c }
}

// WithKeywords overrides the keyword lists used for termination and greetings.
func WithKeywords(k *intent.KeywordClassifier) Option {
	return func(o *Opts) { o.Keywords = k }
}

// WithSummarizer sets the ticket subject summarizer.
func WithSummarizer(s Summarizer) Option {
	return func(o *Opts) { o.Summarizer = s }
}

// WithSubmitter sets the ticket submission backend.
func WithSubmitter(s TicketSubmitter) Option {
	return func(o *Opts) { o.Submitter = s }
}

// WithCatalog sets the country and segment catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(o *Opts) { o.Catalog = c }
}

// WithEmailRequired selects whether the wizard insists on an email address.
func WithEmailRequired(required bool) Option {
	return func(o *Opts) { o.EmailRequired = required }
}

// WithSendTimeout bounds each outbound delivery.
func WithSendTimeout(d time.Duration) Option {
	return func(o *Opts) { o.SendTimeout = d }
}

// WithReplyTimeout bounds each assistant call.
func WithReplyTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ReplyTimeout = d }
}

// Router is the conversation state machine. It is safe for concurrent use
// across users; messages of a single user are expected in order.
type Router struct {
	sessions   Sessions
	sender     Sender
	assistant  Assistant
	classifier intent.Classifier
	keywords   *intent.KeywordClassifier
	catalog    *catalog.Catalog
	wizard     *Wizard

	sendTimeout   time.Duration
	replyTimeout  time.Duration
	historyWindow int
}

// NewRouter creates a Router. Without a catalog option the embedded default
// catalog is used.
func NewRouter(sessions Sessions, sender Sender, opts ...Option) (*Router, error) {
	o := Opts{
		EmailRequired:    true,
		SendTimeout:      DefaultSendTimeout,
		ReplyTimeout:     DefaultReplyTimeout,
		SummarizeTimeout: DefaultSummarizeTimeout,
		SubmitTimeout:    DefaultSubmitTimeout,
		HistoryWindow:    DefaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Catalog == nil {
		cat, err := catalog.Default()
		if err != nil {
			return nil, fmt.Errorf("failed to load default catalog: %w", err)
		}
		o.Catalog = cat
	}
	if o.Keywords == nil {
		o.Keywords = intent.NewKeywordClassifier()
	}
	if o.Classifier == nil {
		o.Classifier = o.Keywords
	}

	return &Router{
		sessions:      sessions,
		sender:        sender,
		assistant:     o.Assistant,
		classifier:    o.Classifier,
		keywords:      o.Keywords,
		catalog:       o.Catalog,
		sendTimeout:   o.SendTimeout,
		replyTimeout:  o.ReplyTimeout,
		historyWindow: o.HistoryWindow,
		wizard: &Wizard{
			sessions:         sessions,
			catalog:          o.Catalog,
			summarizer:       o.Summarizer,
			submitter:        o.Submitter,
			emailRequired:    o.EmailRequired,
			summarizeTimeout: o.SummarizeTimeout,
			submitTimeout:    o.SubmitTimeout,
		},
	}, nil
}

// Handle routes one inbound message, delivers the reply and returns it.
// Collaborator failures become apologies; Handle never fails.
func (r *Router) Handle(ctx context.Context, msg models.InboundMessage) Reply {
	msg.Normalize()
	s := r.sessions.GetOrCreate(msg.From)
	r.sessions.Update(msg.From, session.SetLastMessage(msg.Type, msg.SelectionID))

	// Button replies are routed as text carrying the button title.
	if msg.Type == models.MessageTypeInteractiveButton {
		msg.Type = models.MessageTypeText
		msg.SelectionID = ""
	}
	in := input{userID: msg.From, name: msg.Name, text: msg.Body}

	var reply Reply
	switch {
	case !msg.Type.IsSupported():
		slog.Info("Router.Handle: unsupported message type", "userID", msg.From, "type", msg.Type)
		r.sessions.AppendHistory(msg.From, session.RoleUser, placeholder(msg.Type))
		reply = Reply{Text: unsupportedMessage(msg.Type)}
	case msg.Type == models.MessageTypeInteractiveList:
		in.selectionID = msg.SelectionID
		r.sessions.AppendHistory(msg.From, session.RoleUser, selectionPlaceholder(msg.Body))
		reply = r.routeSelection(ctx, s, in)
	default:
		r.sessions.AppendHistory(msg.From, session.RoleUser, msg.Body)
		if r.keywords.IsTermination(msg.Body) {
			reply = Reply{Text: farewellMessage(msg.Name), End: true}
		} else {
			reply = r.routeText(ctx, s, in)
		}
	}

	r.deliver(ctx, msg.From, reply)
	if reply.End {
		r.sessions.Close(msg.From, session.EndReasonFarewell)
		slog.Info("Router.Handle: session ended by user", "userID", msg.From)
	}
	return reply
}

func (r *Router) routeText(ctx context.Context, s session.Session, in input) Reply {
	switch s.State {
	case session.StateInitial:
		r.sessions.Update(in.userID, session.SetState(session.StateAwaitingQuery))
		if r.keywords.Classify(ctx, in.text) == intent.Greeting {
			return Reply{Text: welcomeMessage(in.name)}
		}
		return r.handleQuery(ctx, in)
	case session.StateAwaitingQuery:
		return r.handleQuery(ctx, in)
	case session.StateTicketCreation:
		return r.wizard.Handle(ctx, s, in)
	case session.StateAwaitingPostTicket:
		if negativeTokens[intent.Normalize(in.text)] {
			return Reply{Text: farewellMessage(in.name), End: true}
		}
		r.sessions.Update(in.userID, session.SetState(session.StateAwaitingQuery))
		return Reply{Text: msgFollowUp}
	}

	slog.Error("Router.routeText: unknown session state, resetting", "userID", in.userID, "state", s.State)
	r.sessions.Update(in.userID, session.SetState(session.StateAwaitingQuery))
	return r.handleQuery(ctx, in)
}

// routeSelection handles list replies. Inside the wizard the current step
// decides whether it takes one; a country selection elsewhere opens the
// wizard with it.
func (r *Router) routeSelection(ctx context.Context, s session.Session, in input) Reply {
	if s.State == session.StateTicketCreation {
		return r.wizard.Handle(ctx, s, in)
	}
	if strings.HasPrefix(in.selectionID, catalog.CountryPrefix) {
		slog.Info("Router.routeSelection: country selected outside the wizard, starting ticket", "userID", in.userID)
		s.State = session.StateTicketCreation
		s.Draft = &session.TicketDraft{Step: session.StepCountry}
		r.sessions.Update(in.userID, session.SetState(s.State), session.SetDraft(s.Draft))
		return r.wizard.Handle(ctx, s, in)
	}

	slog.Warn("Router.routeSelection: selection outside the expected flow", "userID", in.userID, "selectionID", in.selectionID, "state", s.State)
	r.sessions.Update(in.userID, session.SetState(session.StateAwaitingQuery))
	return Reply{Text: selectionMessage(in.text)}
}

func (r *Router) handleQuery(ctx context.Context, in input) Reply {
	if r.classifier.Classify(ctx, in.text) == intent.Ticket {
		return r.wizard.Start(in.userID, true)
	}
	return Reply{Text: r.answer(ctx, in)}
}

// answer asks the assistant, excluding the message just recorded from the
// history it is given.
func (r *Router) answer(ctx context.Context, in input) string {
	if r.assistant == nil {
		slog.Warn("Router.answer: no assistant configured", "userID", in.userID)
		return msgAIFallback
	}

	history := r.sessions.RecentHistory(in.userID, r.historyWindow+1)
	if n := len(history); n > 0 && history[n-1].Role == session.RoleUser {
		history = history[:n-1]
	}

	actx, cancel := context.WithTimeout(ctx, r.replyTimeout)
	defer cancel()
	text, err := r.assistant.GenerateReply(actx, history, in.text, in.name)
	if err != nil {
		slog.Error("Router.answer: assistant failed", "userID", in.userID, "error", err)
		return msgAIFallback
	}
	if strings.TrimSpace(text) == "" {
		slog.Warn("Router.answer: assistant returned an empty reply", "userID", in.userID)
		return msgAIFallback
	}
	return text
}

// deliver sends the reply and records what was actually sent. Delivery
// failures are logged and otherwise ignored.
func (r *Router) deliver(ctx context.Context, to string, reply Reply) {
	if reply.Text != "" {
		r.sendText(ctx, to, FormatForWhatsApp(reply.Text))
	}
	if reply.List == nil {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	err := r.sender.SendList(sctx, to, *reply.List)
	cancel()
	if err == nil {
		r.sessions.AppendHistory(to, session.RoleAssistant, reply.List.Body)
		return
	}

	slog.Warn("Router.deliver: list delivery failed, sending text fallback", "userID", to, "error", err)
	fallback := reply.ListFallback
	if fallback == "" {
		fallback = reply.List.PlainText()
	}
	r.sendText(ctx, to, fallback)
}

func (r *Router) sendText(ctx context.Context, to, text string) {
	sctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	err := r.sender.SendText(sctx, to, text)
	cancel()
	if err != nil {
		slog.Error("Router.sendText: delivery failed", "userID", to, "error", err)
	}
	r.sessions.AppendHistory(to, session.RoleAssistant, text)
}
