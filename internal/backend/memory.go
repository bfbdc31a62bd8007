package backend

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults for MemoryConfig fields left at zero.
const (
	DefaultWorkers    = 4
	DefaultQueueSize  = 100
	DefaultJobTimeout = 10 * time.Minute
)

// MemoryConfig tunes the in-process backend.
type MemoryConfig struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

// Compile-time interface satisfaction check.
var _ Backend = (*Memory)(nil)

// Memory is an in-process Backend: a bounded queue drained by a fixed pool of
// worker goroutines. Work functions share no memory with callers; everything
// they produce is reported through job snapshots and registries.
//
// A job that finds the queue full is deferred. Jobs still queued when the
// backend closes are canceled. A job exceeding JobTimeout is failed even if its
// function ignores the context; the worker slot is released immediately.
type Memory struct {
	funcs  *Registry
	cfg    MemoryConfig
	logger *slog.Logger

	mu         sync.Mutex
	jobs       map[string]*Job
	registries map[JobState]map[string]struct{}
	closed     bool

	queue   chan string
	stop    chan struct{}
	baseCtx context.Context
	abort   context.CancelFunc
	wg      sync.WaitGroup
}

// NewMemory starts a backend running functions from funcs.
func NewMemory(funcs *Registry, cfg MemoryConfig, logger *slog.Logger) *Memory {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Memory{
		funcs:      funcs,
		cfg:        cfg,
		logger:     logger,
		jobs:       make(map[string]*Job),
		registries: make(map[JobState]map[string]struct{}, len(Registries)),
		queue:      make(chan string, cfg.QueueSize),
		stop:       make(chan struct{}),
		baseCtx:    ctx,
		abort:      cancel,
	}
	for _, s := range Registries {
		m.registries[s] = make(map[string]struct{})
	}

	for i := 0; i < cfg.Workers; i++ {
		m.wg.Go(m.worker)
	}
	return m
}

// Enqueue schedules a registered work function.
func (m *Memory) Enqueue(ctx context.Context, req EnqueueRequest) (JobHandle, error) {
	if err := ctx.Err(); err != nil {
		return JobHandle{}, err
	}
	if _, err := m.funcs.Resolve(req.Func); err != nil {
		return JobHandle{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return JobHandle{}, ErrClosed
	}

	job := &Job{
		ID:         uuid.New().String(),
		Func:       req.Func,
		Payload:    req.Payload,
		Meta:       map[string]string{MetaTaskID: req.CorrelationID},
		State:      StateQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	m.jobs[job.ID] = job

	select {
	case m.queue <- job.ID:
		jobsTotal.WithLabelValues(string(StateQueued)).Inc()
		queueDepth.Inc()
	default:
		m.moveLocked(job, StateDeferred)
		m.logger.Warn("queue full, job deferred", "job_id", job.ID, "task_id", req.CorrelationID)
	}

	return JobHandle{ID: job.ID, State: job.State}, nil
}

// List returns the ids in the registry for state, oldest enqueue first.
func (m *Memory) List(_ context.Context, state JobState) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.registries[state]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRegistry, state)
	}

	ids := make([]string, 0, len(reg))
	for id := range reg {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := m.jobs[ids[i]], m.jobs[ids[j]]
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}

// Fetch returns a copy of the job.
func (m *Memory) Fetch(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	snap := *job
	snap.Meta = maps.Clone(job.Meta)
	snap.Payload = append([]byte(nil), job.Payload...)
	snap.Result = append([]byte(nil), job.Result...)
	return &snap, nil
}

// Remove clears id from the registry for state. Once a job in a terminal state
// is removed from its registry the backend forgets it.
func (m *Memory) Remove(_ context.Context, state JobState, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.registries[state]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRegistry, state)
	}
	delete(reg, id)

	if job, ok := m.jobs[id]; ok && job.State == state && state.Terminal() {
		delete(m.jobs, id)
	}
	return nil
}

// Close stops accepting jobs and waits for running jobs to finish. If ctx
// expires first, running jobs are interrupted and reported as failed. Jobs that
// never left the queue are canceled.
func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		m.abort()
		<-done
		err = ctx.Err()
	}
	m.abort()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.State == StateQueued {
			m.moveLocked(job, StateCanceled)
			queueDepth.Dec()
		}
	}
	return err
}

// worker runs queued jobs until the backend is closed.
func (m *Memory) worker() {
	for {
		select {
		case <-m.stop:
			return
		case id := <-m.queue:
			m.run(id)
		}
	}
}

// run executes one job: queued→started→finished/failed.
func (m *Memory) run(id string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.State != StateQueued {
		// Canceled while waiting in the queue.
		m.mu.Unlock()
		return
	}
	queueDepth.Dec()
	m.moveLocked(job, StateStarted)
	name, payload, taskID := job.Func, job.Payload, job.Meta[MetaTaskID]
	m.mu.Unlock()

	start := time.Now()
	result, err := m.call(name, payload, taskID)
	jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.registries[StateStarted], id)
	if err != nil {
		job.Error = err.Error()
		m.moveLocked(job, StateFailed)
		return
	}
	job.Result = result
	m.moveLocked(job, StateFinished)
}

type callResult struct {
	out []byte
	err error
}

// call runs the work function under the job timeout, converting panics into errors.
func (m *Memory) call(name string, payload []byte, taskID string) ([]byte, error) {
	fn, err := m.funcs.Resolve(name)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(m.baseCtx, m.cfg.JobTimeout)
	defer cancel()

	ch := make(chan callResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("work function panicked", "func", name, "task_id", taskID, "panic", r, "stack", string(debug.Stack()))
				ch <- callResult{err: fmt.Errorf("work function panicked: %v", r)}
			}
		}()
		out, err := fn(ctx, payload, taskID)
		ch <- callResult{out: out, err: err}
	}()

	select {
	case res := <-ch:
		return res.out, res.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("job timed out after %s", m.cfg.JobTimeout)
		}
		return nil, fmt.Errorf("job interrupted: %w", ctx.Err())
	}
}

// moveLocked records a job entering state. Callers hold m.mu.
func (m *Memory) moveLocked(job *Job, state JobState) {
	now := time.Now().UTC()
	job.State = state
	switch state {
	case StateStarted:
		job.StartedAt = &now
	case StateFinished, StateFailed, StateDeferred, StateCanceled:
		job.EndedAt = &now
	}
	if reg, ok := m.registries[state]; ok {
		reg[job.ID] = struct{}{}
	}
	jobsTotal.WithLabelValues(string(state)).Inc()
}
