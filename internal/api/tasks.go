package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/augur/internal/engine"
	"github.com/seantiz/augur/internal/model"
	"github.com/seantiz/augur/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Prices are the credit costs charged per kind of work item.
type Prices struct {
	Analyze  int64 `json:"analyze"`
	Forecast int64 `json:"forecast"`
}

// costOf returns the price of kind. Unknown kinds cost nothing; the engine
// rejects them.
func (p Prices) costOf(kind string) int64 {
	switch kind {
	case model.KindAnalyze:
		return p.Analyze
	case model.KindForecast:
		return p.Forecast
	}
	return 0
}

// createTaskRequest is the JSON body for POST /v1/tasks.
type createTaskRequest struct {
	OwnerID   string          `json:"owner_id"`
	SubjectID string          `json:"subject_id"`
	Kind      string          `json:"kind"`
	Params    json.RawMessage `json:"params"`
}

// listTasksResponse wraps the paginated list response.
type listTasksResponse struct {
	Tasks  []*model.WorkItem `json:"tasks"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	id, err := s.engine.Submit(r.Context(), engine.SubmitRequest{
		OwnerID:   req.OwnerID,
		SubjectID: req.SubjectID,
		Kind:      req.Kind,
		Params:    req.Params,
		Cost:      s.prices.costOf(req.Kind),
	})
	if err != nil {
		s.writeEngineError(w, err, "submit task")
		return
	}

	task, err := s.store.GetWorkItem(r.Context(), id)
	if err != nil {
		s.logger.Error("get submitted task", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve task")
		return
	}

	s.writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := s.store.GetWorkItem(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	s.writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	tasks, total, err := s.store.ListWorkItems(r.Context(), ownerID, limit, offset)
	if err != nil {
		s.logger.Error("list tasks", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	if tasks == nil {
		tasks = []*model.WorkItem{}
	}

	s.writeJSON(w, http.StatusOK, listTasksResponse{
		Tasks:  tasks,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
