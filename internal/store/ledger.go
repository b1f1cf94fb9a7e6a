package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/graphwork/taskgraphd/internal/types"
)

// OpenLedgerInterval closes any existing open row for taskID (if present)
// and opens a new one for toState. The partial unique index on
// ledger(task_id) WHERE exited_at IS NULL guarantees at most one open row
// survives even under concurrent callers; a conflict there surfaces as
// ErrConflict.
func (s *Store) OpenLedgerInterval(ctx context.Context, taskID, workerID, fromState, toState string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := closeOpenIntervalTx(ctx, tx, taskID, at); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger (task_id, worker_id, from_state, to_state, entered_at, exited_at)
			VALUES (?, ?, ?, ?, ?, NULL)
		`, taskID, workerID, fromState, toState, at.Format(time.RFC3339Nano))
		if err != nil {
			if isUniqueConstraintErr(err) {
				return fmt.Errorf("open ledger interval for %s: %w", taskID, ErrConflict)
			}
			return wrapDBError("open ledger interval", err)
		}
		return nil
	})
}

// CloseLedgerInterval closes the open row for taskID, if one exists. It is
// a no-op (not an error) when no row is open, since a task can be created
// directly into a non-timed state.
func (s *Store) CloseLedgerInterval(ctx context.Context, taskID string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := closeOpenIntervalTx(ctx, tx, taskID, at)
		return err
	})
}

func closeOpenIntervalTx(ctx context.Context, tx *sql.Tx, taskID string, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE ledger SET exited_at = ? WHERE task_id = ? AND exited_at IS NULL`,
		at.Format(time.RFC3339Nano), taskID)
	if err != nil {
		return false, wrapDBError("close ledger interval", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapDBError("rows affected", err)
	}
	return n > 0, nil
}

// LedgerHistory returns every interval recorded for taskID, oldest first.
func (s *Store) LedgerHistory(ctx context.Context, taskID string) ([]*types.LedgerRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, worker_id, from_state, to_state, entered_at, exited_at
		FROM ledger WHERE task_id = ? ORDER BY entered_at ASC
	`, taskID)
	if err != nil {
		return nil, wrapDBError("ledger history", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.LedgerRow
	for rows.Next() {
		r, err := scanLedgerRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// OpenLedgerRow returns the currently open interval for taskID, or nil if
// none is open.
func (s *Store) OpenLedgerRow(ctx context.Context, taskID string) (*types.LedgerRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, worker_id, from_state, to_state, entered_at, exited_at
		FROM ledger WHERE task_id = ? AND exited_at IS NULL
	`, taskID)
	r, err := scanLedgerRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapDBError("open ledger row", err)
	}
	return r, nil
}

// TimeInState sums the durations of closed intervals spent in state across
// all of a task's history, for reporting aggregate time-in-state.
func (s *Store) TimeInState(ctx context.Context, taskID, state string) (int64, error) {
	var totalMs sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(CAST((julianday(exited_at) - julianday(entered_at)) * 86400000 AS INTEGER))
		FROM ledger WHERE task_id = ? AND to_state = ? AND exited_at IS NOT NULL
	`, taskID, state).Scan(&totalMs)
	if err != nil {
		return 0, wrapDBError("time in state", err)
	}
	return totalMs.Int64, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLedgerRow(rs rowScanner) (*types.LedgerRow, error) {
	var r types.LedgerRow
	var enteredAt string
	var exitedAt sql.NullString
	if err := rs.Scan(&r.ID, &r.TaskID, &r.WorkerID, &r.FromState, &r.ToState, &enteredAt, &exitedAt); err != nil {
		return nil, err
	}
	r.EnteredAt, _ = time.Parse(time.RFC3339Nano, enteredAt)
	if exitedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, exitedAt.String)
		if err == nil {
			r.ExitedAt = &t
		}
	}
	return &r, nil
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
