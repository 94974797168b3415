package api

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/BTreeMap/TicketPipe/internal/models"
)

// Health status values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

type healthReport struct {
	Status           string            `json:"status"`
	Transport        string            `json:"transport,omitempty"`
	Store            string            `json:"store,omitempty"`
	StateDirWritable *bool             `json:"state_dir_writable,omitempty"`
	Configured       map[string]bool   `json:"configured"`
	Breakers         map[string]string `json:"circuit_breakers"`
	ActiveSessions   int               `json:"active_sessions"`
}

// healthHandler handles GET /health. An unwritable state directory answers
// 503; an open breaker only marks the report degraded.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	report := healthReport{
		Status:         HealthOK,
		Transport:      s.opts.Transport,
		Store:          s.opts.StoreKind,
		Configured:     make(map[string]bool, len(s.opts.Configured)),
		Breakers:       make(map[string]string, len(s.opts.Breakers)),
		ActiveSessions: s.sessions.Count(),
	}
	for k, v := range s.opts.Configured {
		report.Configured[k] = v
	}
	for _, b := range s.opts.Breakers {
		state := b.State()
		report.Breakers[b.Name()] = state
		if state != "closed" {
			report.Status = HealthDegraded
		}
	}

	code := http.StatusOK
	if s.opts.StateDir != "" {
		writable := dirWritable(s.opts.StateDir)
		report.StateDirWritable = &writable
		if !writable {
			report.Status = HealthDegraded
			code = http.StatusServiceUnavailable
		}
	}
	writeJSONResponse(w, code, models.Success(report))
}

func dirWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		slog.Warn("Server.healthHandler: state directory not writable", "dir", dir, "error", err)
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
