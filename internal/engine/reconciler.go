package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/augur/internal/backend"
	"github.com/seantiz/augur/internal/model"
	"github.com/seantiz/augur/internal/store"
)

// PassSummary counts what one reconciliation pass did.
type PassSummary struct {
	Processed int `json:"processed"`
	Started   int `json:"started"`
	Done      int `json:"done"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
	// Recovered counts in-flight items failed because their backend job was
	// lost. They are included in Failed.
	Recovered int `json:"recovered"`
}

// defaultOrphanGrace is how long an in-flight item may go unchanged without a
// backend job before a pass fails it. It covers the gap between creating an
// item and recording its job.
const defaultOrphanGrace = time.Minute

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithOrphanGrace sets how long an in-flight work item touched since the
// reconciler started may lack a backend job before it is failed and refunded.
func WithOrphanGrace(d time.Duration) Option {
	return func(r *Reconciler) {
		r.orphanGrace = d
	}
}

// Reconciler drives work items to a terminal status by observing the
// execution backend. A pass may be repeated or run concurrently with passes in
// other processes: the store's compare-and-set status update makes every
// terminal side effect happen at most once.
type Reconciler struct {
	store   store.Store
	backend backend.Backend
	broker  *StatusBroker
	logger  *slog.Logger

	// startedAt bounds the orphan grace: items last changed before this
	// reconciler existed cannot be waiting on a job it is about to record.
	startedAt   time.Time
	orphanGrace time.Duration

	// mu keeps passes in this process from overlapping.
	mu sync.Mutex
}

// NewReconciler creates a reconciler.
func NewReconciler(s store.Store, b backend.Backend, broker *StatusBroker, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       s,
		backend:     b,
		broker:      broker,
		logger:      logger,
		startedAt:   time.Now().UTC(),
		orphanGrace: defaultOrphanGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs a pass every interval until ctx is done. Pass errors are logged;
// the next tick retries.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunPass(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reconciliation pass failed", "error", err)
			}
		}
	}
}

// RunPass performs one reconciliation pass over every backend registry.
// Per-job problems are logged and counted; an error is returned only when the
// store or the backend as a whole is unreachable.
func (r *Reconciler) RunPass(ctx context.Context) (PassSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	sum, err := r.pass(ctx)
	passDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		passesTotal.WithLabelValues(resultError).Inc()
		return sum, err
	}
	passesTotal.WithLabelValues(resultOK).Inc()

	level := slog.LevelDebug
	if sum.Processed > 0 || sum.Recovered > 0 {
		level = slog.LevelInfo
	}
	r.logger.Log(ctx, level, "reconciliation pass complete",
		"processed", sum.Processed,
		"started", sum.Started,
		"done", sum.Done,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
		"errors", sum.Errors,
		"recovered", sum.Recovered,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return sum, nil
}

func (r *Reconciler) pass(ctx context.Context) (PassSummary, error) {
	var sum PassSummary

	if err := r.store.Ping(ctx); err != nil {
		return sum, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	for _, registry := range backend.Registries {
		ids, err := r.backend.List(ctx, registry)
		if err != nil {
			return sum, fmt.Errorf("list %s registry: %w", registry, err)
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			sum.Processed++

			err := r.reconcile(ctx, id, &sum)
			if err == nil {
				continue
			}
			sum.Errors++
			r.logger.Error("failed to reconcile job", "job_id", id, "registry", registry, "error", err)
			if pingErr := r.store.Ping(ctx); pingErr != nil {
				return sum, fmt.Errorf("%w: %v", ErrStoreUnavailable, pingErr)
			}
		}
	}

	if err := r.sweep(ctx, &sum); err != nil {
		return sum, err
	}
	return sum, nil
}

// sweep fails in-flight work items that no registry entry will ever settle:
// their job was never recorded, or the backend no longer knows it, as after a
// restart of an in-memory backend. Items changed since the reconciler started
// are given the orphan grace first.
func (r *Reconciler) sweep(ctx context.Context, sum *PassSummary) error {
	items, err := r.store.ListInFlight(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	cutoff := time.Now().UTC().Add(-r.orphanGrace)
	if r.startedAt.After(cutoff) {
		cutoff = r.startedAt
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !item.UpdatedAt.Before(cutoff) {
			continue
		}

		lost, err := r.jobLost(ctx, item)
		if err != nil {
			sum.Errors++
			r.logger.Warn("failed to check backend job", "task_id", item.ID, "job_id", item.BackendJobID, "error", err)
			continue
		}
		if !lost {
			continue
		}

		m, ok := Fail(item, "backend job lost")
		if !ok {
			continue
		}
		m.At = time.Now().UTC()
		err = r.store.ApplyMutation(ctx, m)
		switch {
		case err == nil:
			sum.Recovered++
			recoveredTotal.Inc()
			r.applied(item, m, item.BackendJobID, sum)
		case errors.Is(err, store.ErrStaleStatus):
			// Settled by a concurrent pass.
		default:
			return fmt.Errorf("%w: fail lost work item %s: %v", ErrStoreUnavailable, item.ID, err)
		}
	}
	return nil
}

// jobLost reports whether the backend has no job for an in-flight item.
func (r *Reconciler) jobLost(ctx context.Context, item *model.WorkItem) (bool, error) {
	if item.BackendJobID == "" {
		return true, nil
	}
	_, err := r.backend.Fetch(ctx, item.BackendJobID)
	if errors.Is(err, backend.ErrJobNotFound) {
		return true, nil
	}
	return false, err
}

// reconcile handles one backend job. It returns only store errors; every other
// problem is logged and counted here.
func (r *Reconciler) reconcile(ctx context.Context, id string, sum *PassSummary) error {
	job, err := r.backend.Fetch(ctx, id)
	if errors.Is(err, backend.ErrJobNotFound) {
		// Expired, or cleared by a concurrent pass.
		sum.Skipped++
		return nil
	}
	if err != nil {
		sum.Errors++
		r.logger.Warn("failed to fetch job", "job_id", id, "error", err)
		return nil
	}

	taskID := correlationID(job)
	if taskID == "" {
		sum.Errors++
		entriesTotal.WithLabelValues(string(job.State), actionError).Inc()
		r.logger.Warn("job carries no task id", "job_id", id, "state", job.State)
		r.clear(ctx, job, sum)
		return nil
	}

	item, err := r.store.GetWorkItem(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		sum.Skipped++
		entriesTotal.WithLabelValues(string(job.State), actionSkipped).Inc()
		r.logger.Warn("job references unknown work item", "job_id", id, "task_id", taskID, "state", job.State)
		r.clear(ctx, job, sum)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get work item %s: %w", taskID, err)
	}

	m, ok := mutationFor(item, job)
	if !ok {
		sum.Skipped++
		entriesTotal.WithLabelValues(string(job.State), actionSkipped).Inc()
		r.clear(ctx, job, sum)
		return nil
	}

	m.At = time.Now().UTC()
	err = r.store.ApplyMutation(ctx, m)
	switch {
	case err == nil:
		entriesTotal.WithLabelValues(string(job.State), actionApplied).Inc()
		r.applied(item, m, job.ID, sum)
	case errors.Is(err, store.ErrStaleStatus):
		// Another pass moved the item first.
		sum.Skipped++
		entriesTotal.WithLabelValues(string(job.State), actionSkipped).Inc()
	default:
		return fmt.Errorf("apply %s -> %s to %s: %w", m.From, m.To, taskID, err)
	}

	r.clear(ctx, job, sum)
	return nil
}

// applied records a successful mutation and publishes it.
func (r *Reconciler) applied(item *model.WorkItem, m store.Mutation, jobID string, sum *PassSummary) {
	switch m.To {
	case model.StatusInProgress:
		sum.Started++
	case model.StatusDone:
		sum.Done++
	case model.StatusFailed:
		sum.Failed++
		if m.Refund != nil {
			refundedTotal.Add(float64(m.Refund.Amount))
		}
	}

	r.broker.Publish(StatusEvent{
		TaskID:    item.ID,
		Status:    m.To,
		Error:     m.Error,
		UpdatedAt: m.At,
	})

	r.logger.Info("work item transitioned",
		"task_id", item.ID,
		"job_id", jobID,
		"from", m.From,
		"to", m.To,
		"error", m.Error,
	)
}

// clear removes a job in a terminal state from its registry so later passes do
// not revisit it. Started jobs are left to the backend.
func (r *Reconciler) clear(ctx context.Context, job *backend.Job, sum *PassSummary) {
	if !job.State.Terminal() {
		return
	}
	if err := r.backend.Remove(ctx, job.State, job.ID); err != nil {
		sum.Errors++
		r.logger.Warn("failed to remove job from registry", "job_id", job.ID, "state", job.State, "error", err)
	}
}

// mutationFor maps a backend job state onto the work item.
func mutationFor(item *model.WorkItem, job *backend.Job) (store.Mutation, bool) {
	switch job.State {
	case backend.StateStarted:
		return Start(item)
	case backend.StateFinished:
		outcome, err := ParseOutcome(job.Result)
		if err != nil {
			return Fail(item, fmt.Sprintf("malformed result payload: %v", err))
		}
		return Apply(item, outcome)
	case backend.StateFailed:
		reason := job.Error
		if reason == "" {
			reason = "worker failed"
		}
		return Fail(item, reason)
	case backend.StateDeferred:
		return Fail(item, "job deferred: worker never ran")
	case backend.StateCanceled:
		return Fail(item, "job canceled: worker never ran")
	}
	return store.Mutation{}, false
}

// correlationID returns the task id from the job's result payload, falling back
// to its metadata for jobs that died before producing a result.
func correlationID(job *backend.Job) string {
	if len(job.Result) > 0 {
		var partial struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(job.Result, &partial); err == nil && partial.TaskID != "" {
			return partial.TaskID
		}
	}
	return job.Meta[backend.MetaTaskID]
}
