package conversation

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/TicketPipe/internal/catalog"
	"github.com/BTreeMap/TicketPipe/internal/intent"
	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/session"
)

// ErrNoTicketService is reported when no TicketSubmitter is configured.
var ErrNoTicketService = errors.New("ticket webhook URL not configured")

// subjectWords caps the fallback subject length.
const subjectWords = 10

var emailPattern = regexp.MustCompile(`^[\w.+-]+@[\w.-]+\.\w+$`)

var (
	skipTokens = map[string]bool{
		"no": true, "n": true, "paso": true, "skip": true, "omitir": true, "na": true, "n/a": true,
	}
	affirmativeTokens = map[string]bool{
		"si": true, "sí": true, "yes": true, "confirmar": true, "aceptar": true, "ok": true,
	}
)

// input is one inbound message as seen by the router and the wizard.
type input struct {
	userID      string
	name        string
	text        string
	selectionID string
}

func (in input) isSelection() bool {
	return in.selectionID != ""
}

// Wizard collects the fields of a support ticket one step at a time. Its
// state lives entirely in the session's TicketDraft.
type Wizard struct {
	sessions      Sessions
	catalog       *catalog.Catalog
	summarizer    Summarizer
	submitter     TicketSubmitter
	emailRequired bool

	summarizeTimeout time.Duration
	submitTimeout    time.Duration
}

// Start opens the wizard at the country step and asks for the country.
// With intro set the reply explains why a ticket is being opened.
func (w *Wizard) Start(userID string, intro bool) Reply {
	w.sessions.Update(userID,
		session.SetState(session.StateTicketCreation),
		session.SetDraft(&session.TicketDraft{Step: session.StepCountry}))
	slog.Info("Wizard.Start: ticket creation started", "userID", userID)

	text := msgCountryPrompt
	if intro {
		text = msgTicketIntent + msgCountryList
	}
	return Reply{Text: text, List: countryList(w.catalog), ListFallback: countryFallback(w.catalog)}
}

// Handle advances the wizard with one message.
func (w *Wizard) Handle(ctx context.Context, s session.Session, in input) Reply {
	d := s.Draft.Clone()
	if d == nil || d.Step == session.StepInitial {
		return w.Start(in.userID, false)
	}

	if in.isSelection() && d.Step != session.StepCountry && d.Step != session.StepSegment {
		slog.Info("Wizard.Handle: selection outside a list step, repeating prompt", "userID", in.userID, "step", d.Step, "selectionID", in.selectionID)
		if prompt, ok := w.prompt(d); ok {
			return Reply{Text: stepSelectionMessage(in.text, prompt)}
		}
	}

	switch d.Step {
	case session.StepCountry:
		return w.handleCountry(in, d)
	case session.StepDescription:
		return w.handleDescription(ctx, in, d)
	case session.StepEmail:
		return w.handleEmail(in, d)
	case session.StepSerialNo:
		return w.handleSerial(in, d)
	case session.StepSegment:
		return w.handleSegment(in, d)
	case session.StepConfirmation:
		return w.handleConfirmation(ctx, in, d)
	}

	slog.Error("Wizard.Handle: unknown ticket step, resetting", "userID", in.userID, "step", d.Step)
	w.reset(in.userID, session.StateAwaitingQuery)
	return Reply{Text: msgWizardBroken}
}

// prompt returns the question asked at a free-text step.
func (w *Wizard) prompt(d *session.TicketDraft) (string, bool) {
	switch d.Step {
	case session.StepDescription:
		return msgDescriptionPrompt, true
	case session.StepEmail:
		if w.emailRequired {
			return msgEmailRequired, true
		}
		return msgEmailOptional, true
	case session.StepSerialNo:
		return msgSerialPrompt, true
	case session.StepConfirmation:
		return confirmationMessage(d), true
	}
	return "", false
}

func (w *Wizard) save(userID string, d *session.TicketDraft) {
	w.sessions.Update(userID, session.SetDraft(d))
}

func (w *Wizard) reset(userID string, state session.State) {
	w.sessions.Update(userID, session.SetState(state), session.SetDraft(nil))
}

func (w *Wizard) handleCountry(in input, d *session.TicketDraft) Reply {
	var (
		country catalog.Entry
		ok      bool
	)
	if in.isSelection() {
		country, ok = w.catalog.CountryBySelection(in.selectionID)
		if !ok {
			slog.Warn("Wizard.handleCountry: unknown country selection", "userID", in.userID, "selectionID", in.selectionID)
			return Reply{Text: msgBadCountryList}
		}
	} else {
		country, ok = w.catalog.CountryByText(in.text)
		if !ok {
			slog.Debug("Wizard.handleCountry: country not recognized", "userID", in.userID)
			return Reply{Text: msgBadCountryText}
		}
	}

	d.CountryID = country.ID
	d.CountryName = country.Title
	d.Step = session.StepDescription
	w.save(in.userID, d)
	slog.Debug("Wizard.handleCountry: country stored", "userID", in.userID, "countryID", country.ID)

	if w.catalog.IsOther(country) {
		return Reply{Text: msgOtherCountry}
	}
	return Reply{Text: countryAcceptedMessage(country.Title, in.isSelection())}
}

func (w *Wizard) handleDescription(ctx context.Context, in input, d *session.TicketDraft) Reply {
	d.Description = strings.TrimSpace(in.text)
	d.Subject = w.subject(ctx, d.Description)
	d.Step = session.StepEmail
	w.save(in.userID, d)

	if w.emailRequired {
		return Reply{Text: msgEmailRequired}
	}
	return Reply{Text: msgEmailOptional}
}

// subject asks the summarizer for a ticket subject and falls back to the
// leading words of the description.
func (w *Wizard) subject(ctx context.Context, description string) string {
	if w.summarizer != nil {
		sctx, cancel := context.WithTimeout(ctx, w.summarizeTimeout)
		subject, err := w.summarizer.Summarize(sctx, description)
		cancel()
		if err == nil && strings.TrimSpace(subject) != "" {
			return strings.TrimSpace(subject)
		}
		if err != nil {
			slog.Warn("Wizard.subject: summarizer failed, using fallback", "error", err)
		}
	}
	return FallbackSubject(description)
}

// FallbackSubject returns the first words of description.
func FallbackSubject(description string) string {
	words := strings.Fields(description)
	if len(words) == 0 {
		return "Solicitud de soporte"
	}
	if len(words) > subjectWords {
		return strings.Join(words[:subjectWords], " ") + "..."
	}
	return strings.Join(words, " ")
}

func (w *Wizard) handleEmail(in input, d *session.TicketDraft) Reply {
	email := strings.TrimSpace(in.text)
	switch {
	case !w.emailRequired && skipTokens[intent.Normalize(email)]:
		d.Email = ""
	case emailPattern.MatchString(email):
		d.Email = email
	default:
		slog.Debug("Wizard.handleEmail: invalid email", "userID", in.userID, "length", len(email))
		return Reply{Text: msgBadEmail}
	}
	d.Step = session.StepSerialNo
	w.save(in.userID, d)
	return Reply{Text: msgSerialPrompt}
}

func (w *Wizard) handleSerial(in input, d *session.TicketDraft) Reply {
	serial := strings.TrimSpace(in.text)
	if skipTokens[intent.Normalize(serial)] {
		serial = ""
	}
	d.SerialNo = serial
	d.Step = session.StepSegment
	w.save(in.userID, d)
	return Reply{Text: msgSegmentPrompt, List: segmentList(w.catalog), ListFallback: segmentFallback(w.catalog)}
}

func (w *Wizard) handleSegment(in input, d *session.TicketDraft) Reply {
	var (
		segment catalog.Entry
		ok      bool
	)
	if in.isSelection() {
		segment, ok = w.catalog.SegmentBySelection(in.selectionID)
		if !ok {
			slog.Warn("Wizard.handleSegment: unknown segment selection", "userID", in.userID, "selectionID", in.selectionID)
			return Reply{Text: msgBadSegmentList}
		}
	} else {
		segment, ok = w.catalog.SegmentByText(in.text)
		if !ok {
			return Reply{Text: badSegmentTextMessage(w.catalog)}
		}
	}

	d.SegmentID = segment.ID
	d.SegmentName = segment.Title
	d.Step = session.StepConfirmation
	w.save(in.userID, d)
	return Reply{Text: confirmationMessage(d)}
}

func (w *Wizard) handleConfirmation(ctx context.Context, in input, d *session.TicketDraft) Reply {
	if !affirmativeTokens[intent.Normalize(in.text)] {
		slog.Info("Wizard.handleConfirmation: ticket cancelled by user", "userID", in.userID)
		w.reset(in.userID, session.StateAwaitingQuery)
		return Reply{Text: msgTicketCanceled}
	}

	req := models.TicketRequest{
		CustomerName:  in.name,
		CustomerPhone: in.userID,
		CustomerEmail: d.Email,
		Subject:       d.Subject,
		Description:   d.Description,
		CountryID:     d.CountryID,
		SerialNo:      d.SerialNo,
		SegmentID:     d.SegmentID,
	}
	id, err := w.submit(ctx, req)
	if err != nil {
		slog.Error("Wizard.handleConfirmation: ticket submission failed", "userID", in.userID, "error", err)
		w.reset(in.userID, session.StateAwaitingQuery)
		return Reply{Text: ticketFailedMessage(err)}
	}

	if id == "" {
		id = "N/A"
	}
	slog.Info("Wizard.handleConfirmation: ticket created", "userID", in.userID, "ticketID", id)
	w.reset(in.userID, session.StateAwaitingPostTicket)
	return Reply{Text: ticketCreatedMessage(id)}
}

func (w *Wizard) submit(ctx context.Context, req models.TicketRequest) (string, error) {
	if w.submitter == nil {
		return "", ErrNoTicketService
	}
	sctx, cancel := context.WithTimeout(ctx, w.submitTimeout)
	defer cancel()
	return w.submitter.SubmitTicket(sctx, req)
}
