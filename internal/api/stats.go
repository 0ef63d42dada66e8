package api

import (
	"net/http"

	"github.com/seantiz/shipper/internal/uploader"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int                    `json:"total"`
	ByStatus      map[string]int         `json:"by_status"`
	ByBackend     map[string]int         `json:"by_backend"`
	BytesUploaded int64                  `json:"bytes_uploaded"`
	AvgDurationMS float64                `json:"avg_duration_ms"`
	Managers      []uploader.ManagerInfo `json:"managers"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetUploadStats(r.Context())
	if err != nil {
		s.logger.Error("get upload stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByBackend:     stats.CountByBackend,
		BytesUploaded: stats.BytesUploaded,
		AvgDurationMS: stats.AvgDurationMS,
		Managers:      s.registry.List(),
	})
}
