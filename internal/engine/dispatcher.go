package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/augur/internal/backend"
	"github.com/seantiz/augur/internal/model"
	"github.com/seantiz/augur/internal/series"
	"github.com/seantiz/augur/internal/store"
)

// SubmitRequest describes a unit of paid work.
type SubmitRequest struct {
	OwnerID   string
	SubjectID string
	Kind      string
	Params    json.RawMessage
	Cost      int64
}

// Dispatcher accepts submissions: it charges the owner, records the work item
// and enqueues the job, undoing earlier steps when a later one fails.
type Dispatcher struct {
	store   store.Store
	backend backend.Backend
	broker  *StatusBroker
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(s store.Store, b backend.Backend, broker *StatusBroker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   s,
		backend: b,
		broker:  broker,
		logger:  logger,
	}
}

// Submit validates req, debits its cost, creates a queued work item and
// enqueues its job. It returns the task id without waiting for the job.
func (d *Dispatcher) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	id, err := d.submit(ctx, req)
	switch {
	case err == nil:
		submissionsTotal.WithLabelValues(req.Kind, resultOK).Inc()
	case errors.Is(err, ErrValidation):
		// Unknown kinds would create unbounded label values.
	case errors.Is(err, ErrEnqueue), errors.Is(err, ErrStoreUnavailable):
		submissionsTotal.WithLabelValues(req.Kind, resultError).Inc()
	default:
		submissionsTotal.WithLabelValues(req.Kind, resultRejected).Inc()
	}
	return id, err
}

func (d *Dispatcher) submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}

	if _, err := d.store.GetOwner(ctx, req.OwnerID); err != nil {
		return "", storeErr("get owner", err)
	}
	ts, err := d.store.GetSeries(ctx, req.SubjectID)
	if err != nil {
		return "", storeErr("get time series", err)
	}
	if ts.OwnerID != req.OwnerID {
		return "", fmt.Errorf("%w: time series %s belongs to another owner", ErrForbidden, req.SubjectID)
	}

	funcName, err := series.FuncName(req.Kind)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	payload, err := json.Marshal(series.Input{Series: ts.Data, Params: req.Params})
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}

	if err := d.store.Debit(ctx, req.OwnerID, req.Cost); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			return "", fmt.Errorf("%w: owner %s cannot cover cost %d", ErrInsufficientFunds, req.OwnerID, req.Cost)
		}
		return "", storeErr("debit owner", err)
	}

	item := &model.WorkItem{
		OwnerID:   req.OwnerID,
		SubjectID: req.SubjectID,
		Kind:      req.Kind,
		Cost:      req.Cost,
		Params:    req.Params,
		Status:    model.StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.CreateWorkItem(ctx, item); err != nil {
		d.refund(req.OwnerID, req.Cost)
		return "", storeErr("create work item", err)
	}

	handle, err := d.backend.Enqueue(ctx, backend.EnqueueRequest{
		Func:          funcName,
		Payload:       payload,
		CorrelationID: item.ID,
	})
	if err != nil {
		d.abandon(item, err)
		return "", fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	if err := d.store.SetBackendJob(ctx, item.ID, handle.ID); err != nil {
		d.logger.Warn("failed to record backend job", "task_id", item.ID, "job_id", handle.ID, "error", err)
	}

	d.logger.Info("work submitted",
		"task_id", item.ID,
		"job_id", handle.ID,
		"kind", item.Kind,
		"owner_id", item.OwnerID,
		"cost", item.Cost,
	)
	return item.ID, nil
}

// refund credits back a debit whose work item was never created.
// It runs detached from the request context so a canceled request cannot strand the funds.
func (d *Dispatcher) refund(ownerID string, amount int64) {
	if err := d.store.Credit(context.Background(), ownerID, amount); err != nil {
		d.logger.Error("failed to refund after create failure", "owner_id", ownerID, "amount", amount, "error", err)
	}
}

// abandon fails a work item whose job could not be enqueued, refunding its cost.
func (d *Dispatcher) abandon(item *model.WorkItem, cause error) {
	m, _ := Fail(item, fmt.Sprintf("enqueue failed: %v", cause))
	m.At = time.Now().UTC()
	if err := d.store.ApplyMutation(context.Background(), m); err != nil {
		// The reconciler's sweep fails and refunds the item once the orphan
		// grace has passed.
		d.logger.Error("failed to roll back submission", "task_id", item.ID, "error", err)
		return
	}
	refundedTotal.Add(float64(item.Cost))
	d.broker.Publish(StatusEvent{TaskID: item.ID, Status: m.To, Error: m.Error, UpdatedAt: m.At})
	d.logger.Warn("submission rolled back", "task_id", item.ID, "error", cause)
}

func validate(req SubmitRequest) error {
	if req.OwnerID == "" {
		return fmt.Errorf("%w: owner_id is required", ErrValidation)
	}
	if req.SubjectID == "" {
		return fmt.Errorf("%w: subject_id is required", ErrValidation)
	}
	if !model.ValidKind(req.Kind) {
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, req.Kind)
	}
	if req.Cost < 0 {
		return fmt.Errorf("%w: cost must be non-negative", ErrValidation)
	}
	if err := series.ValidateParams(req.Kind, req.Params); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// storeErr translates a store error into the engine taxonomy.
func storeErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
