package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/augur/internal/model"
	"github.com/seantiz/augur/internal/store"
)

type createOwnerRequest struct {
	Name    string `json:"name"`
	Balance int64  `json:"balance"`
}

type topUpRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) handleCreateOwner(w http.ResponseWriter, r *http.Request) {
	var req createOwnerRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Balance < 0 {
		s.writeError(w, http.StatusBadRequest, "balance must not be negative")
		return
	}

	o := &model.Owner{
		ID:        model.NewID(),
		Name:      req.Name,
		Balance:   req.Balance,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateOwner(r.Context(), o); err != nil {
		s.logger.Error("create owner", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create owner")
		return
	}

	s.writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleGetOwner(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	o, err := s.store.GetOwner(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "owner not found")
		return
	}
	if err != nil {
		s.logger.Error("get owner", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get owner")
		return
	}

	s.writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req topUpRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		s.writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	if err := s.store.Credit(r.Context(), id, req.Amount); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "owner not found")
			return
		}
		if errors.Is(err, store.ErrBalanceOverflow) {
			s.writeError(w, http.StatusBadRequest, "amount would overflow the balance")
			return
		}
		s.logger.Error("top up owner", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to top up owner")
		return
	}

	o, err := s.store.GetOwner(r.Context(), id)
	if err != nil {
		s.logger.Error("get topped-up owner", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve owner")
		return
	}

	s.logger.Info("owner topped up", "owner_id", id, "amount", req.Amount, "balance", o.Balance)
	s.writeJSON(w, http.StatusOK, o)
}
