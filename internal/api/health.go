package api

import (
	"context"
	"net/http"
	"time"
)

const (
	healthOK       = "ok"
	healthDegraded = "degraded"
	healthDown     = "unavailable"
	healthClosed   = "closed"

	pingTimeout = 2 * time.Second
)

type backendHealth struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	InFlight int    `json:"in_flight"`
	Queued   int    `json:"queued"`
}

type healthResponse struct {
	Status   string          `json:"status"`
	Journal  string          `json:"journal"`
	Backends []backendHealth `json:"backends"`
}

// handleHealthz reports readiness: the journal answers a ping and every
// upload manager still accepts work. Anything else is 503.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	resp := healthResponse{Status: healthOK, Journal: healthOK}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("journal ping failed", "error", err)
		resp.Journal = healthDown
		resp.Status = healthDegraded
	}

	managers := s.registry.List()
	if len(managers) == 0 {
		resp.Status = healthDegraded
	}
	resp.Backends = make([]backendHealth, 0, len(managers))
	for _, m := range managers {
		bh := backendHealth{
			Name:     m.Name,
			Status:   healthOK,
			InFlight: m.Stats.InFlight,
			Queued:   m.Stats.Pool.Queued,
		}
		if m.Closed {
			bh.Status = healthClosed
			resp.Status = healthDegraded
		}
		resp.Backends = append(resp.Backends, bh)
	}

	status := http.StatusOK
	if resp.Status != healthOK {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
