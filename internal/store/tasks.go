package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/graphwork/taskgraphd/internal/types"
)

// InsertTask inserts a new task row and its tag rows inside a single
// transaction.
func (s *Store) InsertTask(ctx context.Context, t *types.Task) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertTaskTx(ctx, tx, t)
	})
}

func insertTaskTx(ctx context.Context, tx *sql.Tx, t *types.Task) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (
			id, title, description, status, phase, priority, points, issue_type,
			time_estimate_ms, time_actual_ms, owner_worker, claimed_at, current_thought,
			parent_id, cost_usd, token_count, content_hash, external_ref,
			created_at, updated_at, closed_at, deleted_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		t.ID, t.Title, t.Description, t.Status, t.Phase, t.Priority, t.Points, t.IssueType,
		t.TimeEstimateMs, t.TimeActualMs, t.OwnerWorker, formatTime(t.ClaimedAt), t.CurrentThought,
		nullString(t.ParentID), t.CostUSD, t.TokenCount, t.ContentHash, t.ExternalRef,
		t.CreatedAt.Format(time.RFC3339Nano), t.UpdatedAt.Format(time.RFC3339Nano),
		formatTime(t.ClosedAt), formatTime(t.DeletedAt),
	)
	if err != nil {
		return wrapDBError(fmt.Sprintf("insert task %s", t.ID), err)
	}
	if err := replaceTagsTx(ctx, tx, t.ID, "categorical", t.Tags); err != nil {
		return err
	}
	if err := replaceTagsTx(ctx, tx, t.ID, "needed", t.NeededTags); err != nil {
		return err
	}
	if err := replaceTagsTx(ctx, tx, t.ID, "wanted", t.WantedTags); err != nil {
		return err
	}
	return nil
}

func replaceTagsTx(ctx context.Context, tx *sql.Tx, taskID, kind string, tags []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id = ? AND kind = ?`, taskID, kind); err != nil {
		return wrapDBError("clear tags", err)
	}
	for _, tag := range tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO task_tags (task_id, tag, kind) VALUES (?, ?, ?)`, taskID, tag, kind); err != nil {
			return wrapDBError("insert tag", err)
		}
	}
	return nil
}

// GetTask loads one task by id, including its tags. Soft-deleted tasks are
// returned if found — callers (internal/taskengine) decide visibility.
func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	var t types.Task
	var points sql.NullInt64
	var owner, thought, parentID, extRef sql.NullString
	var claimedAt, closedAt, deletedAt sql.NullString
	var createdAt, updatedAt string

	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, phase, priority, points, issue_type,
			time_estimate_ms, time_actual_ms, owner_worker, claimed_at, current_thought,
			parent_id, cost_usd, token_count, content_hash, external_ref,
			created_at, updated_at, closed_at, deleted_at
		FROM tasks WHERE id = ?
	`, id)
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Status, &t.Phase, &t.Priority, &points, &t.IssueType,
		&t.TimeEstimateMs, &t.TimeActualMs, &owner, &claimedAt, &thought,
		&parentID, &t.CostUSD, &t.TokenCount, &t.ContentHash, &extRef,
		&createdAt, &updatedAt, &closedAt, &deletedAt,
	)
	if err != nil {
		return nil, wrapDBError(fmt.Sprintf("get task %s", id), err)
	}

	if points.Valid {
		v := int(points.Int64)
		t.Points = &v
	}
	if owner.Valid {
		t.OwnerWorker = &owner.String
	}
	if thought.Valid {
		t.CurrentThought = &thought.String
	}
	if parentID.Valid {
		t.ParentID = parentID.String
	}
	if extRef.Valid {
		t.ExternalRef = &extRef.String
	}
	t.ClaimedAt = parseTime(claimedAt)
	t.ClosedAt = parseTime(closedAt)
	t.DeletedAt = parseTime(deletedAt)
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	tags, err := s.loadTags(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Tags, t.NeededTags, t.WantedTags = tags.categorical, tags.needed, tags.wanted

	return &t, nil
}

type taskTags struct {
	categorical, needed, wanted []string
}

func (s *Store) loadTags(ctx context.Context, taskID string) (taskTags, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag, kind FROM task_tags WHERE task_id = ?`, taskID)
	if err != nil {
		return taskTags{}, wrapDBError("load tags", err)
	}
	defer func() { _ = rows.Close() }()

	var out taskTags
	for rows.Next() {
		var tag, kind string
		if err := rows.Scan(&tag, &kind); err != nil {
			return taskTags{}, wrapDBError("scan tag", err)
		}
		switch kind {
		case "categorical":
			out.categorical = append(out.categorical, tag)
		case "needed":
			out.needed = append(out.needed, tag)
		case "wanted":
			out.wanted = append(out.wanted, tag)
		}
	}
	return out, rows.Err()
}

// UpdateTask persists the full task row (scalars + tags) in one
// transaction. internal/taskengine is responsible for constructing the
// post-update Task value; the store does not itself interpret status
// transitions.
func (s *Store) UpdateTask(ctx context.Context, t *types.Task) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateTaskTx(ctx, tx, t)
	})
}

func updateTaskTx(ctx context.Context, tx *sql.Tx, t *types.Task) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET
			title = ?, description = ?, status = ?, phase = ?, priority = ?, points = ?,
			issue_type = ?, time_estimate_ms = ?, time_actual_ms = ?, owner_worker = ?,
			claimed_at = ?, current_thought = ?, parent_id = ?, cost_usd = ?, token_count = ?,
			content_hash = ?, external_ref = ?, updated_at = ?, closed_at = ?, deleted_at = ?
		WHERE id = ?
	`,
		t.Title, t.Description, t.Status, t.Phase, t.Priority, t.Points,
		t.IssueType, t.TimeEstimateMs, t.TimeActualMs, t.OwnerWorker,
		formatTime(t.ClaimedAt), t.CurrentThought, nullString(t.ParentID), t.CostUSD, t.TokenCount,
		t.ContentHash, t.ExternalRef, t.UpdatedAt.Format(time.RFC3339Nano), formatTime(t.ClosedAt), formatTime(t.DeletedAt),
		t.ID,
	)
	if err != nil {
		return wrapDBError(fmt.Sprintf("update task %s", t.ID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBError("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("update task %s: %w", t.ID, ErrNotFound)
	}
	if err := replaceTagsTx(ctx, tx, t.ID, "categorical", t.Tags); err != nil {
		return err
	}
	if err := replaceTagsTx(ctx, tx, t.ID, "needed", t.NeededTags); err != nil {
		return err
	}
	if err := replaceTagsTx(ctx, tx, t.ID, "wanted", t.WantedTags); err != nil {
		return err
	}
	return nil
}

// ListTasks returns tasks matching filter, applying default soft-delete
// visibility: soft-deleted and tombstoned tasks are excluded by default.
func (s *Store) ListTasks(ctx context.Context, filter types.WorkFilter) ([]*types.Task, error) {
	where := "1=1"
	var args []any
	if !filter.IncludeDeleted {
		where += " AND deleted_at IS NULL AND status != 'tombstone'"
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Type != "" {
		where += " AND issue_type = ?"
		args = append(args, filter.Type)
	}
	if filter.Phase != "" {
		where += " AND phase = ?"
		args = append(args, filter.Phase)
	}
	if filter.Priority != nil {
		where += " AND priority = ?"
		args = append(args, *filter.Priority)
	}
	if filter.Unassigned {
		where += " AND (owner_worker IS NULL OR owner_worker = '')"
	} else if filter.Assignee != nil {
		where += " AND owner_worker = ?"
		args = append(args, *filter.Assignee)
	}
	for _, tag := range filter.Tags {
		where += " AND EXISTS (SELECT 1 FROM task_tags WHERE task_id = tasks.id AND kind = 'categorical' AND tag = ?)"
		args = append(args, tag)
	}
	if len(filter.TagsAny) > 0 {
		placeholders := make([]string, len(filter.TagsAny))
		for i, tag := range filter.TagsAny {
			placeholders[i] = "?"
			args = append(args, tag)
		}
		where += fmt.Sprintf(
			" AND EXISTS (SELECT 1 FROM task_tags WHERE task_id = tasks.id AND kind = 'categorical' AND tag IN (%s))",
			strings.Join(placeholders, ","))
	}
	query := fmt.Sprintf(`
		SELECT id FROM tasks WHERE %s ORDER BY priority DESC, created_at ASC
	`, where)
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list tasks", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, wrapDBError("scan task id", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tasks := make([]*types.Task, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// FindByContentHash returns the id of an open (non-deleted, non-tombstone)
// task sharing hash, or "" if none exists. Used by the task engine's
// create-time dedup check.
func (s *Store) FindByContentHash(ctx context.Context, hash string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM tasks
		WHERE content_hash = ? AND deleted_at IS NULL AND status != 'tombstone'
		LIMIT 1
	`, hash).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", wrapDBError("find by content hash", err)
	}
	return id, nil
}

// ChildIDs returns the immediate children of parentID, for cycle checks on
// reparenting and tree traversal.
func (s *Store) ChildIDs(ctx context.Context, parentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks WHERE parent_id = ?`, parentID)
	if err != nil {
		return nil, wrapDBError("list children", err)
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBError("scan child id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteTask hard-deletes a task row (and its tags, dependency edges,
// attachments, and ledger rows, via ON DELETE CASCADE). Used only by the
// tombstone reaper; ordinary deletes go through SoftDelete.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return wrapDBError(fmt.Sprintf("delete task %s", id), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return wrapDBError("rows affected", err)
		}
		if n == 0 {
			return fmt.Errorf("delete task %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
