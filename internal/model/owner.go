package model

import (
	"encoding/json"
	"time"
)

// Owner holds the funds that pay for submitted work.
type Owner struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// TimeSeries is the subject entity that analysis and forecast work acts upon.
type TimeSeries struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Name           string          `json:"name"`
	Data           []float64       `json:"data"`
	AnalysisResult json.RawMessage `json:"analysis_result,omitempty"`
	ForecastResult json.RawMessage `json:"forecast_result,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
