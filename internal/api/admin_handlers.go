package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/TicketPipe/internal/crm"
	"github.com/BTreeMap/TicketPipe/internal/models"
	"github.com/BTreeMap/TicketPipe/internal/session"
)

// Conversation listing bounds.
const (
	DefaultConversationLimit = 50
	MaxConversationLimit     = 500
)

// requireAdmin rejects requests without the configured bearer token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	want := []byte(s.opts.AdminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			slog.Warn("Server.requireAdmin: unauthorized admin request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statsResponse struct {
	ActiveSessions  int                   `json:"active_sessions"`
	SessionsByState map[session.State]int `json:"sessions_by_state"`
	TicketsCreated  int64                 `json:"tickets_created"`
	TicketsFailed   int64                 `json:"tickets_failed"`
	StatusCallbacks int64                 `json:"status_callbacks"`
}

// statsHandler handles GET /api/stats.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := statsResponse{
		ActiveSessions:  s.sessions.Count(),
		SessionsByState: s.sessions.CountByState(),
		StatusCallbacks: s.statusCallbacks.Load(),
	}
	if s.opts.Metrics != nil {
		stats.TicketsCreated, stats.TicketsFailed = s.opts.Metrics.TicketStats()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// sessionSummary is a session without its history.
type sessionSummary struct {
	UserID                string        `json:"user_id"`
	State                 session.State `json:"state"`
	CreatedAt             time.Time     `json:"created_at"`
	LastActivity          time.Time     `json:"last_activity"`
	HistoryLength         int           `json:"history_length"`
	InactivityWarningSent bool          `json:"inactivity_warning_sent"`
}

// listSessionsHandler handles GET /api/sessions, most recently active first.
func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionSummary{
			UserID:                sess.UserID,
			State:                 sess.State,
			CreatedAt:             sess.CreatedAt,
			LastActivity:          sess.LastActivity,
			HistoryLength:         len(sess.History),
			InactivityWarningSent: sess.InactivityWarningSent,
		})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

// getSessionHandler handles GET /api/sessions/{userID}.
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sess, ok := s.sessions.Get(userID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// deleteSessionHandler handles DELETE /api/sessions/{userID}. The user is not notified.
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !s.sessions.Close(userID, session.EndReasonAdmin) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	slog.Info("Server.deleteSessionHandler: session ended by admin", "userID", userID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session ended", nil))
}

// conversationsHandler handles GET /api/conversations?limit=N.
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	limit := DefaultConversationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = min(n, MaxConversationLimit)
	}
	if s.opts.Transcript == nil {
		writeJSONResponse(w, http.StatusOK, models.Success([]struct{}{}))
		return
	}
	records, err := s.opts.Transcript.Tail(limit)
	if err != nil {
		slog.Error("Server.conversationsHandler: failed to read transcript", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to read conversations"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

// createLeadHandler handles POST /api/leads.
func (s *Server) createLeadHandler(w http.ResponseWriter, r *http.Request) {
	if s.opts.Leads == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Lead intake not configured"))
		return
	}
	var req models.LeadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.createLeadHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	id, err := s.opts.Leads.SubmitLead(r.Context(), req)
	if err != nil {
		slog.Error("Server.createLeadHandler: lead submission failed", "error", err)
		if errors.Is(err, crm.ErrNotConfigured) {
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Lead intake not configured"))
			return
		}
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to create lead"))
		return
	}
	slog.Info("Server.createLeadHandler: lead created", "leadID", id)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Lead created", map[string]string{"lead_id": id}))
}
