package api

import (
	"net/http"

	"github.com/seantiz/augur/internal/series"
)

type functionsResponse struct {
	Functions      []string `json:"functions"`
	ForecastModels []string `json:"forecast_models"`
	MaxHorizon     int      `json:"max_horizon"`
	Prices         Prices   `json:"prices"`
}

func (s *Server) handleListFunctions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, functionsResponse{
		Functions:      s.functions.List(),
		ForecastModels: series.Models,
		MaxHorizon:     series.MaxHorizon,
		Prices:         s.prices,
	})
}
