package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/augur/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a work item status transition is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStaleStatus is returned when a compare-and-set status update finds the
	// work item no longer in the expected status.
	ErrStaleStatus = errors.New("stale work item status")

	// ErrInsufficientFunds is returned when a debit exceeds the owner's balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInUse is returned when a time series still has work in flight.
	ErrInUse = errors.New("time series has work in flight")

	// ErrBalanceOverflow is returned when a credit would push a balance past
	// the largest representable amount.
	ErrBalanceOverflow = errors.New("balance overflow")
)

// Refund credits an owner as part of a mutation.
type Refund struct {
	OwnerID string
	Amount  int64
}

// Result is a payload persisted against a subject time series.
type Result struct {
	SubjectID string
	Kind      string
	Payload   []byte
}

// Mutation is the set of changes a single status transition applies.
// The status change is a compare-and-set from From to To; the refund and the
// result are written in the same transaction only if that change succeeds.
type Mutation struct {
	TaskID string
	From   string
	To     string
	Error  string
	Refund *Refund
	Result *Result
	// At is recorded as the item's updated_at; zero means now.
	At time.Time
}

// WorkItemStats holds aggregate work item counts.
type WorkItemStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByKind   map[string]int `json:"count_by_kind"`
	// CreditsHeld is the cost of work items not yet terminal.
	CreditsHeld int64 `json:"credits_held"`
}

// Store defines the persistence operations for owners, time series and work items.
// Reads return fully materialised records.
type Store interface {
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	CreateOwner(ctx context.Context, o *model.Owner) error
	GetOwner(ctx context.Context, id string) (*model.Owner, error)
	Debit(ctx context.Context, ownerID string, amount int64) error
	Credit(ctx context.Context, ownerID string, amount int64) error

	CreateSeries(ctx context.Context, ts *model.TimeSeries) error
	GetSeries(ctx context.Context, id string) (*model.TimeSeries, error)
	DeleteSeries(ctx context.Context, id string) error
	SetResult(ctx context.Context, subjectID, kind string, payload []byte) error

	CreateWorkItem(ctx context.Context, w *model.WorkItem) error
	GetWorkItem(ctx context.Context, id string) (*model.WorkItem, error)
	ListWorkItems(ctx context.Context, ownerID string, limit, offset int) ([]*model.WorkItem, int, error)
	ListInFlight(ctx context.Context) ([]*model.WorkItem, error)
	SetStatus(ctx context.Context, id, from, to string) error
	SetBackendJob(ctx context.Context, id, jobID string) error
	ApplyMutation(ctx context.Context, m Mutation) error
	WorkItemStats(ctx context.Context) (*WorkItemStats, error)
}
