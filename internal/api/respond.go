package api

import (
	"encoding/json"
	"net/http"
	"strconv"
)

const maxBodySize = 1 << 20 // 1 MB

// decodeJSON reads a size-limited JSON body into v. It writes a 400 response
// and returns false on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeEngineError maps an engine error onto an HTTP status.
func (s *Server) writeEngineError(w http.ResponseWriter, err error, op string) {
	reason := errorReason(err)
	apiErrorsTotal.WithLabelValues(reason).Inc()

	switch reason {
	case reasonValidation:
		s.writeError(w, http.StatusBadRequest, err.Error())
	case reasonFunds:
		s.writeError(w, http.StatusPaymentRequired, err.Error())
	case reasonForbidden:
		s.writeError(w, http.StatusForbidden, err.Error())
	case reasonNotFound:
		s.writeError(w, http.StatusNotFound, err.Error())
	case reasonUnavailable:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
