package api

import (
	"context"
	"net/http"
	"time"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/metrics"
)

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong\n"))
}

type healthResponse struct {
	Status    string                `json:"status"`
	Timestamp time.Time             `json:"timestamp"`
	Checks    map[string]string     `json:"checks"`
	Sources   []metrics.SourceStats `json:"sources"`
}

// handleHealth probes dependencies and reports the last outcome per source.
// A failing source does not make the service unhealthy; a dead dependency does.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]string, len(s.deps.Checks)),
		Sources:   []metrics.SourceStats{},
	}
	status := http.StatusOK
	for _, c := range s.deps.Checks {
		if err := c.Ping(ctx); err != nil {
			s.logger.Warn("Health check failed", "check", c.Name, "error", err)
			resp.Checks[c.Name] = "unhealthy"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[c.Name] = "ok"
	}
	if s.deps.Metrics != nil {
		resp.Sources = s.deps.Metrics.Snapshot()
	}
	respondJSON(w, status, resp)
}
