package model

import (
	"encoding/json"
	"time"
)

// WorkItem status constants.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// WorkItem kind constants.
const (
	KindAnalyze  = "analyze"
	KindForecast = "forecast"
)

// validTransitions maps each status to the set of statuses it may transition to.
// A queued item may jump straight to a terminal status when the backend finishes,
// fails, defers or cancels the job before any reconciliation pass saw it start.
var validTransitions = map[string]map[string]bool{
	StatusQueued: {
		StatusInProgress: true,
		StatusDone:       true,
		StatusFailed:     true,
	},
	StatusInProgress: {
		StatusDone:   true,
		StatusFailed: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is done or failed.
func IsTerminal(status string) bool {
	return status == StatusDone || status == StatusFailed
}

// ValidKind reports whether kind names a supported unit of work.
func ValidKind(kind string) bool {
	return kind == KindAnalyze || kind == KindForecast
}

// WorkItem is one unit of paid asynchronous work.
type WorkItem struct {
	ID           string          `json:"id"`
	OwnerID      string          `json:"owner_id"`
	SubjectID    string          `json:"subject_id"`
	Kind         string          `json:"kind"`
	Cost         int64           `json:"cost"`
	Params       json.RawMessage `json:"params,omitempty"`
	Status       string          `json:"status"`
	BackendJobID string          `json:"backend_job_id,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ForecastParams are the parameters of a forecast WorkItem.
type ForecastParams struct {
	Model   string `json:"model"`
	Horizon int    `json:"horizon"`
}

// Outcome is the payload a work function reports for a finished job.
type Outcome struct {
	Success bool            `json:"success"`
	TaskID  string          `json:"task_id,omitempty"`
	Results json.RawMessage `json:"results,omitempty"`
	Error   string          `json:"error,omitempty"`
}
