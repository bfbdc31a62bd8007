package backend

import (
	"context"
	"errors"
	"time"
)

// MetaTaskID is the metadata key carrying the correlation id of a job.
const MetaTaskID = "task_id"

// JobState is the lifecycle state of a backend job.
type JobState string

// Job states. Every state except StateQueued has a registry.
const (
	StateQueued   JobState = "queued"
	StateStarted  JobState = "started"
	StateFinished JobState = "finished"
	StateFailed   JobState = "failed"
	StateDeferred JobState = "deferred"
	StateCanceled JobState = "canceled"
)

// Registries lists the states with a registry, in reconciliation order.
var Registries = []JobState{StateStarted, StateFinished, StateFailed, StateDeferred, StateCanceled}

// Terminal reports whether a job in this state will never run again.
func (s JobState) Terminal() bool {
	switch s {
	case StateFinished, StateFailed, StateDeferred, StateCanceled:
		return true
	}
	return false
}

var (
	// ErrJobNotFound is returned when a job has vanished or was never enqueued.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnknownFunc is returned when enqueuing a function that is not registered.
	ErrUnknownFunc = errors.New("unknown work function")

	// ErrClosed is returned when enqueuing on a backend that has been closed.
	ErrClosed = errors.New("backend closed")

	// ErrNoRegistry is returned when listing a state that has no registry.
	ErrNoRegistry = errors.New("no registry for state")
)

// WorkFunc executes one job. It returns the result payload stored on the job,
// or an error, which places the job in the failed registry.
type WorkFunc func(ctx context.Context, payload []byte, taskID string) ([]byte, error)

// Backend is the interface the job lifecycle manager consumes. Implementations
// own job execution; callers only enqueue, observe and clear registry entries.
type Backend interface {
	// Enqueue schedules Func with Payload and records CorrelationID in the
	// job's metadata under MetaTaskID.
	Enqueue(ctx context.Context, req EnqueueRequest) (JobHandle, error)

	// List returns the ids of jobs in the registry for state.
	List(ctx context.Context, state JobState) ([]string, error)

	// Fetch returns a snapshot of a job. It returns ErrJobNotFound for jobs
	// that have expired or been removed from their terminal registry.
	Fetch(ctx context.Context, id string) (*Job, error)

	// Remove clears a job from the registry for state. Removing an entry that
	// is not present is not an error.
	Remove(ctx context.Context, state JobState, id string) error
}

// EnqueueRequest describes a job to run.
type EnqueueRequest struct {
	Func          string `json:"func"`
	Payload       []byte `json:"payload"`
	CorrelationID string `json:"correlation_id"`
}

// JobHandle identifies an enqueued job.
type JobHandle struct {
	ID    string   `json:"id"`
	State JobState `json:"state"`
}

// Job is a snapshot of a backend job.
type Job struct {
	ID         string            `json:"id"`
	Func       string            `json:"func"`
	Payload    []byte            `json:"payload,omitempty"`
	Meta       map[string]string `json:"meta"`
	State      JobState          `json:"state"`
	Result     []byte            `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
}
