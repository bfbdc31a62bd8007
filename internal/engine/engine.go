package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/seantiz/augur/internal/backend"
	"github.com/seantiz/augur/internal/store"
)

// Engine ties submission and reconciliation to one store, one backend and one
// status broker.
type Engine struct {
	dispatcher *Dispatcher
	reconciler *Reconciler
	broker     *StatusBroker
}

// NewEngine creates a new engine. Options configure its reconciler.
func NewEngine(s store.Store, b backend.Backend, logger *slog.Logger, opts ...Option) *Engine {
	broker := NewStatusBroker()
	return &Engine{
		dispatcher: NewDispatcher(s, b, broker, logger),
		reconciler: NewReconciler(s, b, broker, logger, opts...),
		broker:     broker,
	}
}

// Broker returns the engine's status broker for SSE subscription.
func (e *Engine) Broker() *StatusBroker {
	return e.broker
}

// Submit charges the owner and enqueues the work. See Dispatcher.Submit.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	return e.dispatcher.Submit(ctx, req)
}

// RunPass performs one reconciliation pass. See Reconciler.RunPass.
func (e *Engine) RunPass(ctx context.Context) (PassSummary, error) {
	return e.reconciler.RunPass(ctx)
}

// Run reconciles every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	e.reconciler.Run(ctx, interval)
}
