package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats. Journal figures
// cover finished tasks; Live counts the records currently held in memory.
type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByKind        map[string]int `json:"by_kind"`
	TimedOut      int            `json:"timed_out"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	Live          map[string]int `json:"live"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetTaskStats(r.Context())
	if err != nil {
		s.logger.Error("get task stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByKind:        stats.CountByKind,
		TimedOut:      stats.TimedOut,
		AvgDurationMS: stats.AvgDurationMS,
		Live:          s.engine.Registry().CountByStatus(),
	})
}
