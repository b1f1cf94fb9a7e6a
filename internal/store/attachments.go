package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/graphwork/taskgraphd/internal/types"
)

// InsertAttachment inserts an attachment. Append/replace semantics for
// same-key attachments belong to internal/taskengine, which decides
// whether to clear the existing rows for (task_id, name) before calling
// this when mode is AttachmentReplace.
func (s *Store) InsertAttachment(ctx context.Context, a *types.Attachment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attachments (id, task_id, name, mime_type, mode, content, is_external, order_index, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.TaskID, a.Name, a.MimeType, string(a.Mode), a.Content, boolToInt(a.IsExternal), a.OrderIndex,
			a.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return wrapDBError(fmt.Sprintf("insert attachment %s", a.ID), err)
		}
		return nil
	})
}

// ClearAttachmentsByName deletes every attachment with task_id/name, used
// by replace-mode writes before inserting the new one.
func (s *Store) ClearAttachmentsByName(ctx context.Context, taskID, name string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM attachments WHERE task_id = ? AND name = ?`, taskID, name)
		if err != nil {
			return wrapDBError("clear attachments", err)
		}
		return nil
	})
}

// ListAttachments returns every attachment on taskID, ordered by name and,
// within each name, in append order.
func (s *Store) ListAttachments(ctx context.Context, taskID string) ([]*types.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, name, mime_type, mode, content, is_external, order_index, created_at
		FROM attachments WHERE task_id = ? ORDER BY name ASC, order_index ASC
	`, taskID)
	if err != nil {
		return nil, wrapDBError("list attachments", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Attachment
	for rows.Next() {
		var a types.Attachment
		var mode string
		var isExternal int
		var createdAt string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Name, &a.MimeType, &mode, &a.Content, &isExternal, &a.OrderIndex, &createdAt); err != nil {
			return nil, wrapDBError("scan attachment", err)
		}
		a.Mode = types.AttachmentMode(mode)
		a.IsExternal = isExternal != 0
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// DeleteAttachment removes one attachment by id. Returns ErrNotFound if it
// didn't exist.
func (s *Store) DeleteAttachment(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id)
		if err != nil {
			return wrapDBError("delete attachment", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return wrapDBError("rows affected", err)
		}
		if n == 0 {
			return fmt.Errorf("attachment %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// NextOrderIndex returns the next order_index for a new attachment under
// (task_id, name), so appends are ordered by insertion.
func (s *Store) NextOrderIndex(ctx context.Context, taskID, name string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(order_index) FROM attachments WHERE task_id = ? AND name = ?`, taskID, name).Scan(&max)
	if err != nil {
		return 0, wrapDBError("next order index", err)
	}
	return int(max.Int64) + 1, nil
}
