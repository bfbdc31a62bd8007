package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/augur/internal/model"
	"github.com/seantiz/augur/internal/series"
	"github.com/seantiz/augur/internal/store"
)

type createSeriesRequest struct {
	OwnerID string    `json:"owner_id"`
	Name    string    `json:"name"`
	Data    []float64 `json:"data"`
}

func (s *Server) handleCreateSeries(w http.ResponseWriter, r *http.Request) {
	var req createSeriesRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.OwnerID == "" {
		s.writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := series.Validate(req.Data); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ts := &model.TimeSeries{
		ID:        model.NewID(),
		OwnerID:   req.OwnerID,
		Name:      req.Name,
		Data:      req.Data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateSeries(r.Context(), ts); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "owner not found")
			return
		}
		s.logger.Error("create time series", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create time series")
		return
	}

	s.writeJSON(w, http.StatusCreated, ts)
}

func (s *Server) handleGetSeries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ts, err := s.store.GetSeries(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "time series not found")
		return
	}
	if err != nil {
		s.logger.Error("get time series", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get time series")
		return
	}

	s.writeJSON(w, http.StatusOK, ts)
}

// handleDeleteSeries deletes a series on behalf of its owner, named by the
// owner_id query parameter.
func (s *Server) handleDeleteSeries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		s.writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	ts, err := s.store.GetSeries(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "time series not found")
		return
	}
	if err != nil {
		s.logger.Error("get time series for delete", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get time series")
		return
	}
	if ts.OwnerID != ownerID {
		s.writeError(w, http.StatusForbidden, "time series belongs to another owner")
		return
	}

	switch err := s.store.DeleteSeries(r.Context(), id); {
	case err == nil:
	case errors.Is(err, store.ErrInUse):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "time series not found")
		return
	default:
		s.logger.Error("delete time series", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to delete time series")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
