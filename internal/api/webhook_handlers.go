package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/TicketPipe/internal/cloudapi"
	"github.com/BTreeMap/TicketPipe/internal/messaging"
	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/twiliowhatsapp"
)

// emptyTwiML acknowledges a Twilio webhook without replying inline.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// webhookResult summarizes what one webhook delivery produced.
type webhookResult struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
	Statuses   int `json:"statuses"`
}

func (res *webhookResult) add(r messaging.SubmitResult) {
	switch r {
	case messaging.SubmitAccepted:
		res.Accepted++
	case messaging.SubmitDuplicate:
		res.Duplicates++
	default:
		res.Rejected++
	}
}

// verifyWebhookHandler answers the Cloud API subscription handshake (GET /webhook).
func (s *Server) verifyWebhookHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "" || q.Get("hub.verify_token") == "" || q.Get("hub.challenge") == "" {
		slog.Warn("Server.verifyWebhookHandler: incomplete verification request")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing verification parameters"))
		return
	}
	challenge, err := cloudapi.VerifyChallenge(q, s.opts.VerifyToken)
	if err != nil {
		slog.Warn("Server.verifyWebhookHandler: verification failed", "error", err)
		writeJSONResponse(w, http.StatusForbidden, models.Error("Verification failed"))
		return
	}
	slog.Info("Server.verifyWebhookHandler: webhook verified")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, challenge); err != nil {
		slog.Error("Server.verifyWebhookHandler: failed to write challenge", "error", err)
	}
}

// cloudWebhookHandler receives Cloud API deliveries (POST /webhook). Routing
// happens on the dispatcher, so the response only reflects parsing.
func (s *Server) cloudWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Request body too large"))
			return
		}
		slog.Warn("Server.cloudWebhookHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid request body"))
		return
	}

	if s.opts.AppSecret != "" {
		if err := cloudapi.VerifySignature(s.opts.AppSecret, body, r.Header.Get(cloudapi.SignatureHeader)); err != nil {
			slog.Warn("Server.cloudWebhookHandler: signature rejected", "error", err, "remote", r.RemoteAddr)
			writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
			return
		}
	}

	ev, err := cloudapi.ParseWebhook(body)
	if err != nil {
		slog.Warn("Server.cloudWebhookHandler: invalid payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid payload"))
		return
	}

	res := webhookResult{Statuses: len(ev.Statuses), Rejected: ev.Skipped}
	if len(ev.Statuses) > 0 {
		s.statusCallbacks.Add(int64(len(ev.Statuses)))
		slog.Debug("Server.cloudWebhookHandler: status callbacks acknowledged", "count", len(ev.Statuses))
	}
	for _, msg := range ev.Messages {
		res.add(s.inbound.Submit(msg))
	}
	slog.Debug("Server.cloudWebhookHandler: delivery processed", "accepted", res.Accepted, "duplicates", res.Duplicates, "rejected", res.Rejected)
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// twilioWebhookHandler receives Twilio WhatsApp form posts (POST /twilio/webhook).
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form body"))
		return
	}

	if s.opts.TwilioWebhookURL != "" {
		sig := r.Header.Get(twiliowhatsapp.SignatureHeader)
		if err := s.opts.Twilio.ValidateSignature(s.opts.TwilioWebhookURL, r.PostForm, sig); err != nil {
			slog.Warn("Server.twilioWebhookHandler: signature rejected", "error", err, "remote", r.RemoteAddr)
			writeJSONResponse(w, http.StatusForbidden, models.Error("Invalid signature"))
			return
		}
	}

	msg, err := twiliowhatsapp.ParseWebhook(r.PostForm)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid webhook", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid webhook"))
		return
	}
	result := s.inbound.Submit(msg)
	slog.Debug("Server.twilioWebhookHandler: message submitted", "result", result, "messageID", msg.ID)

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, emptyTwiML); err != nil {
		slog.Error("Server.twilioWebhookHandler: failed to write response", "error", err)
	}
}
