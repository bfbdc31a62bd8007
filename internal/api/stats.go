package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
	ByKind      map[string]int `json:"by_kind"`
	CreditsHeld int64          `json:"credits_held"`

	// EventSubscribers counts open status subscriptions in this process.
	EventSubscribers int `json:"event_subscribers"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.WorkItemStats(r.Context())
	if err != nil {
		s.logger.Error("get work item stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:       stats.Total,
		ByStatus:    stats.CountByStatus,
		ByKind:      stats.CountByKind,
		CreditsHeld: stats.CreditsHeld,

		EventSubscribers: s.engine.Broker().Subscribers(),
	})
}
