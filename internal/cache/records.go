package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// Item Outcome Operations
// ============================================================================

// RecordOutcome upserts the outcome for one (satellite, product, timestamp).
// Repeated outcomes for the same item increment its attempt counter.
func (c *ResultCache) RecordOutcome(o *Outcome) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}

	const query = `
		INSERT INTO item_outcomes (
			satellite, product, observed_at, source, store_used, fallback,
			status, local_path, error, attempts, run_id, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(satellite, product, observed_at) DO UPDATE SET
			source = excluded.source,
			store_used = excluded.store_used,
			fallback = excluded.fallback,
			status = excluded.status,
			local_path = excluded.local_path,
			error = excluded.error,
			attempts = item_outcomes.attempts + 1,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at
	`

	_, err := c.db.Exec(query,
		o.Satellite, o.Product, o.Timestamp.UnixNano(), o.Source, o.StoreUsed, o.Fallback,
		o.Status, o.LocalPath, o.Error, o.RunID, o.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return storageErr("record outcome", err)
	}
	return nil
}

// GetOutcome returns the outcome for one item. ok is false when none is recorded.
func (c *ResultCache) GetOutcome(satellite, product string, ts time.Time) (*Outcome, bool, error) {
	const query = `
		SELECT satellite, product, observed_at, source, store_used, fallback,
		       status, local_path, error, attempts, run_id, updated_at
		FROM item_outcomes WHERE satellite = ? AND product = ? AND observed_at = ?
	`

	o, err := scanOutcome(c.db.QueryRow(query, satellite, product, ts.UnixNano()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, storageErr("get outcome", err)
	}
	return o, true, nil
}

// ListOutcomes returns outcomes newest first.
func (c *ResultCache) ListOutcomes(filter OutcomeFilter) ([]Outcome, error) {
	query := `
		SELECT satellite, product, observed_at, source, store_used, fallback,
		       status, local_path, error, attempts, run_id, updated_at
		FROM item_outcomes WHERE 1 = 1
	`
	var args []interface{}

	if filter.Satellite != "" {
		query += " AND satellite = ?"
		args = append(args, filter.Satellite)
	}
	if filter.Product != "" {
		query += " AND product = ?"
		args = append(args, filter.Product)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY updated_at DESC, observed_at DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, storageErr("list outcomes", err)
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, storageErr("list outcomes", fmt.Errorf("scan row: %w", err))
		}
		outcomes = append(outcomes, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list outcomes", err)
	}

	return outcomes, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOutcome(row rowScanner) (*Outcome, error) {
	var (
		o                   Outcome
		observed, updatedAt int64
	)
	err := row.Scan(
		&o.Satellite, &o.Product, &observed, &o.Source, &o.StoreUsed, &o.Fallback,
		&o.Status, &o.LocalPath, &o.Error, &o.Attempts, &o.RunID, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Timestamp = fromNanos(observed)
	o.UpdatedAt = fromNanos(updatedAt)
	return &o, nil
}

// ============================================================================
// Fetch Run Operations
// ============================================================================

// CreateRun inserts a new fetch run. run.ID must be set by the caller.
func (c *ResultCache) CreateRun(run *FetchRun) error {
	if run.ID == "" {
		return storageErr("create run", errors.New("run id must not be empty"))
	}

	const query = `
		INSERT INTO fetch_runs (
			id, satellite, product, directory, total_items, succeeded, failed,
			fallbacks, bytes, status, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(query,
		run.ID, run.Satellite, run.Product, run.Directory, run.Total, run.Succeeded,
		run.Failed, run.Fallbacks, run.Bytes, run.Status, run.StartTime.UnixNano(), nanosOrZero(run.EndTime),
	)
	if err != nil {
		return storageErr("create run", err)
	}
	return nil
}

// UpdateRun rewrites the counters and status of an existing run.
func (c *ResultCache) UpdateRun(run *FetchRun) error {
	const query = `
		UPDATE fetch_runs SET
			total_items = ?, succeeded = ?, failed = ?, fallbacks = ?, bytes = ?,
			status = ?, end_time = ?
		WHERE id = ?
	`

	result, err := c.db.Exec(query,
		run.Total, run.Succeeded, run.Failed, run.Fallbacks, run.Bytes,
		run.Status, nanosOrZero(run.EndTime), run.ID,
	)
	if err != nil {
		return storageErr("update run", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storageErr("update run", fmt.Errorf("rows affected: %w", err))
	}
	if rowsAffected == 0 {
		return storageErr("update run", fmt.Errorf("fetch run not found: %s", run.ID))
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (c *ResultCache) ListRuns(limit int) ([]FetchRun, error) {
	query := `
		SELECT id, satellite, product, directory, total_items, succeeded, failed,
		       fallbacks, bytes, status, start_time, end_time
		FROM fetch_runs ORDER BY start_time DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, storageErr("list runs", err)
	}
	defer rows.Close()

	var runs []FetchRun
	for rows.Next() {
		var (
			run        FetchRun
			start, end int64
		)
		err := rows.Scan(
			&run.ID, &run.Satellite, &run.Product, &run.Directory, &run.Total, &run.Succeeded,
			&run.Failed, &run.Fallbacks, &run.Bytes, &run.Status, &start, &end,
		)
		if err != nil {
			return nil, storageErr("list runs", fmt.Errorf("scan row: %w", err))
		}
		run.StartTime = fromNanos(start)
		if end != 0 {
			run.EndTime = fromNanos(end)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list runs", err)
	}

	return runs, nil
}

func nanosOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
