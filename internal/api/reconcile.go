package api

import "net/http"

// handleReconcile runs one reconciliation pass on demand. External
// schedulers such as augur-watcher drive passes through this endpoint.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	sum, err := s.engine.RunPass(r.Context())
	if err != nil {
		s.writeEngineError(w, err, "run reconciliation pass")
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}
