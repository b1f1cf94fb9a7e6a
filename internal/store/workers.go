package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/graphwork/taskgraphd/internal/types"
)

// UpsertWorker registers a worker or updates its existing registration
// (tags, workflow, max claims) without touching last_heartbeat.
func (s *Store) UpsertWorker(ctx context.Context, w *types.Worker) error {
	tagsJSON, err := json.Marshal(w.Tags)
	if err != nil {
		return fmt.Errorf("marshal worker tags: %w", err)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workers (id, tags, workflow, max_claims, current_thought, registered_at, last_heartbeat)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				tags = excluded.tags,
				workflow = excluded.workflow,
				max_claims = excluded.max_claims
		`, w.ID, string(tagsJSON), w.Workflow, w.MaxClaims, w.CurrentThought,
			w.RegisteredAt.Format(time.RFC3339Nano), w.LastHeartbeat.Format(time.RFC3339Nano))
		if err != nil {
			return wrapDBError(fmt.Sprintf("upsert worker %s", w.ID), err)
		}
		return nil
	})
}

// Heartbeat bumps a worker's last_heartbeat to now and optionally its
// current_thought. Returns ErrNotFound if the worker isn't registered.
func (s *Store) Heartbeat(ctx context.Context, workerID string, now time.Time, thought *string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE workers SET last_heartbeat = ?, current_thought = COALESCE(?, current_thought) WHERE id = ?`,
			now.Format(time.RFC3339Nano), thought, workerID)
		if err != nil {
			return wrapDBError("heartbeat", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return wrapDBError("rows affected", err)
		}
		if n == 0 {
			return fmt.Errorf("worker %s: %w", workerID, ErrNotFound)
		}
		return nil
	})
}

// GetWorker loads a worker by id.
func (s *Store) GetWorker(ctx context.Context, id string) (*types.Worker, error) {
	var w types.Worker
	var tagsJSON string
	var thought sql.NullString
	var registeredAt, lastHeartbeat string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, tags, workflow, max_claims, current_thought, registered_at, last_heartbeat
		FROM workers WHERE id = ?
	`, id).Scan(&w.ID, &tagsJSON, &w.Workflow, &w.MaxClaims, &thought, &registeredAt, &lastHeartbeat)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get worker %s", id), err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &w.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal worker tags: %w", err)
	}
	if thought.Valid {
		w.CurrentThought = &thought.String
	}
	w.RegisteredAt, _ = time.Parse(time.RFC3339Nano, registeredAt)
	w.LastHeartbeat, _ = time.Parse(time.RFC3339Nano, lastHeartbeat)

	var claimCount int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE owner_worker = ? AND deleted_at IS NULL`, id).Scan(&claimCount); err != nil {
		return nil, wrapDBError("count claims", err)
	}
	w.ClaimCount = claimCount

	return &w, nil
}

// ListWorkers returns every registered worker.
func (s *Store) ListWorkers(ctx context.Context) ([]*types.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM workers ORDER BY registered_at ASC`)
	if err != nil {
		return nil, wrapDBError("list workers", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, wrapDBError("scan worker id", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	workers := make([]*types.Worker, 0, len(ids))
	for _, id := range ids {
		w, err := s.GetWorker(ctx, id)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// DisconnectWorker removes a worker's registration and its file marks
// (cascaded by the foreign key), releasing none of its claimed tasks —
// that reassignment decision belongs to internal/workers.
func (s *Store) DisconnectWorker(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM workers WHERE id = ?`, id)
		if err != nil {
			return wrapDBError("disconnect worker", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return wrapDBError("rows affected", err)
		}
		if n == 0 {
			return fmt.Errorf("worker %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// ReleaseClaimsByWorker clears owner_worker on every task claimed by id,
// for use alongside forced recovery of a stale worker's claims.
func (s *Store) ReleaseClaimsByWorker(ctx context.Context, id string) ([]string, error) {
	var taskIDs []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM tasks WHERE owner_worker = ?`, id)
		if err != nil {
			return wrapDBError("find claimed tasks", err)
		}
		for rows.Next() {
			var tid string
			if err := rows.Scan(&tid); err != nil {
				_ = rows.Close()
				return wrapDBError("scan claimed task", err)
			}
			taskIDs = append(taskIDs, tid)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tasks SET owner_worker = NULL, claimed_at = NULL WHERE owner_worker = ?`, id)
		if err != nil {
			return wrapDBError("release claims", err)
		}
		return nil
	})
	return taskIDs, err
}
