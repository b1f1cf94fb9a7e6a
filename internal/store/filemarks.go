package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/graphwork/taskgraphd/internal/types"
)

// MarkFile registers worker as having touched path. isFirst is computed
// inside the transaction: true only if no other worker already marked this
// path.
func (s *Store) MarkFile(ctx context.Context, path, workerID string, at time.Time) (isFirst bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM file_marks WHERE path = ?`, path).Scan(&count); err != nil {
			return wrapDBError("count file marks", err)
		}
		isFirst = count == 0

		_, err := tx.ExecContext(ctx, `
			INSERT INTO file_marks (path, worker_id, marked_at, is_first)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(path, worker_id) DO UPDATE SET marked_at = excluded.marked_at
		`, path, workerID, at.Format(time.RFC3339Nano), boolToInt(isFirst))
		if err != nil {
			return wrapDBError("mark file", err)
		}
		return nil
	})
	return isFirst, err
}

// UnmarkFile removes one (path, worker) mark. Returns ErrNotFound if it
// didn't exist.
func (s *Store) UnmarkFile(ctx context.Context, path, workerID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM file_marks WHERE path = ? AND worker_id = ?`, path, workerID)
		if err != nil {
			return wrapDBError("unmark file", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return wrapDBError("rows affected", err)
		}
		if n == 0 {
			return fmt.Errorf("file mark %s/%s: %w", path, workerID, ErrNotFound)
		}
		return nil
	})
}

// ListFileMarks returns every worker that has marked path.
func (s *Store) ListFileMarks(ctx context.Context, path string) ([]types.FileMark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, worker_id, marked_at, is_first FROM file_marks WHERE path = ? ORDER BY marked_at ASC
	`, path)
	if err != nil {
		return nil, wrapDBError("list file marks", err)
	}
	defer func() { _ = rows.Close() }()

	var marks []types.FileMark
	for rows.Next() {
		var m types.FileMark
		var markedAt string
		var isFirst int
		if err := rows.Scan(&m.Path, &m.WorkerID, &markedAt, &isFirst); err != nil {
			return nil, wrapDBError("scan file mark", err)
		}
		m.MarkedAt, _ = time.Parse(time.RFC3339Nano, markedAt)
		m.IsFirst = isFirst != 0
		marks = append(marks, m)
	}
	return marks, rows.Err()
}

// ListFileMarksByWorker returns every path marked by workerID.
func (s *Store) ListFileMarksByWorker(ctx context.Context, workerID string) ([]types.FileMark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, worker_id, marked_at, is_first FROM file_marks WHERE worker_id = ? ORDER BY marked_at ASC
	`, workerID)
	if err != nil {
		return nil, wrapDBError("list file marks by worker", err)
	}
	defer func() { _ = rows.Close() }()

	var marks []types.FileMark
	for rows.Next() {
		var m types.FileMark
		var markedAt string
		var isFirst int
		if err := rows.Scan(&m.Path, &m.WorkerID, &markedAt, &isFirst); err != nil {
			return nil, wrapDBError("scan file mark", err)
		}
		m.MarkedAt, _ = time.Parse(time.RFC3339Nano, markedAt)
		m.IsFirst = isFirst != 0
		marks = append(marks, m)
	}
	return marks, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
