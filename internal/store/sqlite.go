package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/seantiz/augur/internal/model"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS owners (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    balance    INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
    created_at DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS time_series (
    id              TEXT PRIMARY KEY,
    owner_id        TEXT NOT NULL,
    name            TEXT NOT NULL,
    data            TEXT NOT NULL,
    analysis_result TEXT,
    forecast_result TEXT,
    created_at      DATETIME NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS work_items (
    id             TEXT PRIMARY KEY,
    owner_id       TEXT NOT NULL,
    subject_id     TEXT NOT NULL,
    kind           TEXT NOT NULL,
    cost           INTEGER NOT NULL CHECK (cost >= 0),
    params         TEXT,
    status         TEXT NOT NULL,
    backend_job_id TEXT NOT NULL DEFAULT '',
    error          TEXT NOT NULL DEFAULT '',
    created_at     DATETIME NOT NULL,
    updated_at     DATETIME NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_owner ON work_items (owner_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_work_items_subject ON work_items (subject_id, status)`,
}

const workItemColumns = `id, owner_id, subject_id, kind, cost, params, status,
	backend_job_id, error, created_at, updated_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens the SQLite database at dbPath. Call Migrate before use.
func Open(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != memoryPath {
		// Pragmas in the DSN apply to every pooled connection, not just the first.
		dsn = dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == memoryPath {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate creates the schema. It is safe to call more than once.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateOwner inserts a new owner, assigning an ID when empty.
func (s *SQLiteStore) CreateOwner(ctx context.Context, o *model.Owner) error {
	if o.Balance < 0 {
		return fmt.Errorf("create owner: negative balance %d", o.Balance)
	}
	if o.ID == "" {
		o.ID = model.NewID()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO owners (id, name, balance, created_at) VALUES (?, ?, ?, ?)",
		o.ID, o.Name, o.Balance, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}
	return nil
}

// GetOwner retrieves an owner by ID.
func (s *SQLiteStore) GetOwner(ctx context.Context, id string) (*model.Owner, error) {
	o := &model.Owner{}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, balance, created_at FROM owners WHERE id = ?", id,
	).Scan(&o.ID, &o.Name, &o.Balance, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get owner: %w", err)
	}
	return o, nil
}

// Debit subtracts amount from the owner's balance. The check and the update are
// a single statement, so concurrent debits cannot overdraw the balance.
func (s *SQLiteStore) Debit(ctx context.Context, ownerID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("debit: negative amount %d", amount)
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE owners SET balance = balance - ? WHERE id = ? AND balance >= ?",
		amount, ownerID, amount,
	)
	if err != nil {
		return fmt.Errorf("debit owner: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetOwner(ctx, ownerID); err != nil {
			return err
		}
		return ErrInsufficientFunds
	}
	return nil
}

// Credit adds amount to the owner's balance. A credit that would overflow the
// balance is rejected with ErrBalanceOverflow and leaves it unchanged.
func (s *SQLiteStore) Credit(ctx context.Context, ownerID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("credit: negative amount %d", amount)
	}
	return credit(ctx, s.db, ownerID, amount)
}

// CreateSeries inserts a time series for an existing owner, assigning an ID when empty.
func (s *SQLiteStore) CreateSeries(ctx context.Context, ts *model.TimeSeries) error {
	data, err := json.Marshal(ts.Data)
	if err != nil {
		return fmt.Errorf("encode series data: %w", err)
	}
	if ts.ID == "" {
		ts.ID = model.NewID()
	}
	if ts.CreatedAt.IsZero() {
		ts.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM owners WHERE id = ?", ts.OwnerID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check owner: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO time_series (id, owner_id, name, data, analysis_result, forecast_result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts.ID, ts.OwnerID, ts.Name, string(data),
		nullableJSON(ts.AnalysisResult), nullableJSON(ts.ForecastResult), ts.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert time series: %w", err)
	}
	return tx.Commit()
}

// GetSeries retrieves a time series, including its data and result payloads.
func (s *SQLiteStore) GetSeries(ctx context.Context, id string) (*model.TimeSeries, error) {
	ts := &model.TimeSeries{}
	var data string
	var analysis, forecast []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, data, analysis_result, forecast_result, created_at
		FROM time_series WHERE id = ?`, id,
	).Scan(&ts.ID, &ts.OwnerID, &ts.Name, &data, &analysis, &forecast, &ts.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get time series: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &ts.Data); err != nil {
		return nil, fmt.Errorf("decode series data: %w", err)
	}
	if len(analysis) > 0 {
		ts.AnalysisResult = json.RawMessage(analysis)
	}
	if len(forecast) > 0 {
		ts.ForecastResult = json.RawMessage(forecast)
	}
	return ts, nil
}

// DeleteSeries removes a time series unless a work item on it is still queued
// or in progress.
func (s *SQLiteStore) DeleteSeries(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var inflight int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM work_items WHERE subject_id = ? AND status IN (?, ?)",
		id, model.StatusQueued, model.StatusInProgress,
	).Scan(&inflight); err != nil {
		return fmt.Errorf("count in-flight work: %w", err)
	}
	if inflight > 0 {
		return ErrInUse
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM time_series WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete time series: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// SetResult stores payload as the analysis or forecast result of a time series.
func (s *SQLiteStore) SetResult(ctx context.Context, subjectID, kind string, payload []byte) error {
	n, err := setResult(ctx, s.db, subjectID, kind, payload)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateWorkItem inserts a new work item, assigning an ID when empty.
func (s *SQLiteStore) CreateWorkItem(ctx context.Context, w *model.WorkItem) error {
	if w.ID == "" {
		w.ID = model.NewID()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = w.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO work_items (`+workItemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.OwnerID, w.SubjectID, w.Kind, w.Cost, nullableJSON(w.Params), w.Status,
		w.BackendJobID, w.Error, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert work item: %w", err)
	}
	return nil
}

// GetWorkItem retrieves a work item by ID.
func (s *SQLiteStore) GetWorkItem(ctx context.Context, id string) (*model.WorkItem, error) {
	w, err := scanWorkItem(s.db.QueryRowContext(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get work item: %w", err)
	}
	return w, nil
}

// ListWorkItems returns a paginated list of work items ordered by created_at DESC,
// along with the total count. An empty ownerID lists every owner's items.
func (s *SQLiteStore) ListWorkItems(ctx context.Context, ownerID string, limit, offset int) ([]*model.WorkItem, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	where := ""
	args := []any{}
	if ownerID != "" {
		where = " WHERE owner_id = ?"
		args = append(args, ownerID)
	}

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM work_items"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count work items: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+workItemColumns+` FROM work_items`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var items []*model.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate work items: %w", err)
	}

	return items, total, nil
}

// ListInFlight returns every queued or in-progress work item, oldest first.
func (s *SQLiteStore) ListInFlight(ctx context.Context) ([]*model.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+workItemColumns+` FROM work_items WHERE status IN (?, ?) ORDER BY created_at`,
		model.StatusQueued, model.StatusInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("list in-flight work items: %w", err)
	}
	defer rows.Close()

	var items []*model.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work items: %w", err)
	}
	return items, nil
}

// SetStatus moves a work item from one status to another without side effects.
func (s *SQLiteStore) SetStatus(ctx context.Context, id, from, to string) error {
	return s.ApplyMutation(ctx, Mutation{TaskID: id, From: from, To: to})
}

// SetBackendJob records the execution backend job that runs a work item.
func (s *SQLiteStore) SetBackendJob(ctx context.Context, id, jobID string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE work_items SET backend_job_id = ? WHERE id = ?", jobID, id,
	)
	if err != nil {
		return fmt.Errorf("set backend job: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyMutation applies m in one transaction. The status update only matches a
// row still in m.From, so of two concurrent callers applying the same
// transition exactly one succeeds and the other gets ErrStaleStatus.
// A refund for an owner or a result for a series that no longer exists is dropped.
func (s *SQLiteStore) ApplyMutation(ctx context.Context, m Mutation) error {
	if !model.ValidTransition(m.From, m.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.From, m.To)
	}

	at := m.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"UPDATE work_items SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?",
		m.To, m.Error, at, m.TaskID, m.From,
	)
	if err != nil {
		return fmt.Errorf("update work item status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		var status string
		err := tx.QueryRowContext(ctx, "SELECT status FROM work_items WHERE id = ?", m.TaskID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read work item status: %w", err)
		}
		return fmt.Errorf("%w: %s is %s, not %s", ErrStaleStatus, m.TaskID, status, m.From)
	}

	if m.Refund != nil && m.Refund.Amount > 0 {
		err := credit(ctx, tx, m.Refund.OwnerID, m.Refund.Amount)
		switch {
		case errors.Is(err, ErrBalanceOverflow):
			// A refund must not block the transition; saturate instead.
			if _, err := tx.ExecContext(ctx,
				"UPDATE owners SET balance = ? WHERE id = ?", int64(math.MaxInt64), m.Refund.OwnerID,
			); err != nil {
				return fmt.Errorf("saturate refund: %w", err)
			}
		case err != nil && !errors.Is(err, ErrNotFound):
			return err
		}
	}

	if m.Result != nil {
		if _, err := setResult(ctx, tx, m.Result.SubjectID, m.Result.Kind, m.Result.Payload); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mutation: %w", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// credit adds amount to a balance. SQLite turns an overflowing integer sum into
// a REAL, so the headroom is checked in the same statement.
func credit(ctx context.Context, db execer, ownerID string, amount int64) error {
	result, err := db.ExecContext(ctx,
		"UPDATE owners SET balance = balance + ? WHERE id = ? AND balance <= ?",
		amount, ownerID, math.MaxInt64-amount,
	)
	if err != nil {
		return fmt.Errorf("credit owner: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var balance int64
	err = db.QueryRowContext(ctx, "SELECT balance FROM owners WHERE id = ?", ownerID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read owner balance: %w", err)
	}
	return fmt.Errorf("%w: %d + %d", ErrBalanceOverflow, balance, amount)
}

func setResult(ctx context.Context, db execer, subjectID, kind string, payload []byte) (int64, error) {
	var column string
	switch kind {
	case model.KindAnalyze:
		column = "analysis_result"
	case model.KindForecast:
		column = "forecast_result"
	default:
		return 0, fmt.Errorf("set result: unknown kind %q", kind)
	}
	result, err := db.ExecContext(ctx,
		"UPDATE time_series SET "+column+" = ? WHERE id = ?", nullableJSON(payload), subjectID,
	)
	if err != nil {
		return 0, fmt.Errorf("set %s: %w", column, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*model.WorkItem, error) {
	w := &model.WorkItem{}
	var params []byte
	if err := row.Scan(
		&w.ID, &w.OwnerID, &w.SubjectID, &w.Kind, &w.Cost, &params, &w.Status,
		&w.BackendJobID, &w.Error, &w.CreatedAt, &w.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		w.Params = json.RawMessage(params)
	}
	return w, nil
}

// nullableJSON maps an empty payload to SQL NULL.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// WorkItemStats aggregates work items by status and kind in one read transaction.
func (s *SQLiteStore) WorkItemStats(ctx context.Context) (*WorkItemStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &WorkItemStats{
		CountByStatus: make(map[string]int),
		CountByKind:   make(map[string]int),
	}

	rows, err := tx.QueryContext(ctx, "SELECT status, kind, COUNT(*) FROM work_items GROUP BY status, kind")
	if err != nil {
		return nil, fmt.Errorf("count work items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status, kind string
		var n int
		if err := rows.Scan(&status, &kind, &n); err != nil {
			return nil, fmt.Errorf("scan work item counts: %w", err)
		}
		stats.Total += n
		stats.CountByStatus[status] += n
		stats.CountByKind[kind] += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work item counts: %w", err)
	}

	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(cost), 0) FROM work_items WHERE status IN (?, ?)",
		model.StatusQueued, model.StatusInProgress,
	).Scan(&stats.CreditsHeld); err != nil {
		return nil, fmt.Errorf("sum held credits: %w", err)
	}
	return stats, nil
}
