package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schemaMigration is one forward-only schema change, identified by the
// version it bumps the database to. Migrations run in ascending order
// inside a single transaction each; schema_version is bumped only as part
// of that same transaction, so a crash mid-migration never leaves the
// schema version ahead of the actual DDL.
type schemaMigration struct {
	version int
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var schemaMigrations = []schemaMigration{
	{version: 1, apply: migrateCreateSchema},
}

func (s *Store) init(ctx context.Context) error {
	if err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version INTEGER PRIMARY KEY,
				applied_at TEXT NOT NULL
			)
		`)
		return err
	}); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range schemaMigrations {
		if m.version <= current {
			continue
		}
		if err := s.withTx(ctx, func(tx *sql.Tx) error {
			if err := m.apply(ctx, tx); err != nil {
				return fmt.Errorf("apply schema migration %d: %w", m.version, err)
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))`, m.version)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) schemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// SchemaVersion returns the currently applied schema version, exposed for
// diagnostics and the export snapshot's schema_version field.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return s.schemaVersion(ctx)
}

func migrateCreateSchema(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE tasks (
			id              TEXT PRIMARY KEY,
			title           TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL,
			phase           TEXT NOT NULL DEFAULT '',
			priority        INTEGER NOT NULL DEFAULT 2,
			points          INTEGER,
			issue_type      TEXT NOT NULL DEFAULT 'task',
			time_estimate_ms INTEGER NOT NULL DEFAULT 0,
			time_actual_ms  INTEGER NOT NULL DEFAULT 0,
			owner_worker    TEXT,
			claimed_at      TEXT,
			current_thought TEXT,
			parent_id       TEXT,
			cost_usd        REAL NOT NULL DEFAULT 0,
			token_count     INTEGER NOT NULL DEFAULT 0,
			content_hash    TEXT NOT NULL DEFAULT '',
			external_ref    TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			closed_at       TEXT,
			deleted_at      TEXT,
			FOREIGN KEY (parent_id) REFERENCES tasks(id)
		)`,
		`CREATE INDEX idx_tasks_status ON tasks(status)`,
		`CREATE INDEX idx_tasks_parent ON tasks(parent_id)`,
		`CREATE INDEX idx_tasks_owner ON tasks(owner_worker)`,
		`CREATE INDEX idx_tasks_content_hash ON tasks(content_hash)`,
		`CREATE INDEX idx_tasks_deleted_at ON tasks(deleted_at)`,

		`CREATE TABLE task_tags (
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			tag     TEXT NOT NULL,
			kind    TEXT NOT NULL CHECK (kind IN ('categorical','needed','wanted')),
			UNIQUE(task_id, tag, kind)
		)`,
		`CREATE INDEX idx_task_tags_task ON task_tags(task_id)`,

		`CREATE TABLE dependencies (
			from_task TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			to_task   TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			kind      TEXT NOT NULL,
			UNIQUE(from_task, to_task, kind)
		)`,
		`CREATE INDEX idx_deps_from ON dependencies(from_task)`,
		`CREATE INDEX idx_deps_to ON dependencies(to_task)`,

		`CREATE TABLE workers (
			id              TEXT PRIMARY KEY,
			tags            TEXT NOT NULL DEFAULT '[]',
			workflow        TEXT NOT NULL DEFAULT '',
			max_claims      INTEGER NOT NULL DEFAULT 1,
			current_thought TEXT,
			registered_at   TEXT NOT NULL,
			last_heartbeat  TEXT NOT NULL
		)`,

		`CREATE TABLE file_marks (
			path      TEXT NOT NULL,
			worker_id TEXT NOT NULL REFERENCES workers(id) ON DELETE CASCADE,
			marked_at TEXT NOT NULL,
			is_first  INTEGER NOT NULL DEFAULT 0,
			UNIQUE(path, worker_id)
		)`,
		`CREATE INDEX idx_file_marks_worker ON file_marks(worker_id)`,

		`CREATE TABLE attachments (
			id          TEXT PRIMARY KEY,
			task_id     TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			mime_type   TEXT NOT NULL DEFAULT '',
			mode        TEXT NOT NULL,
			content     TEXT NOT NULL DEFAULT '',
			is_external INTEGER NOT NULL DEFAULT 0,
			order_index INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL
		)`,
		`CREATE INDEX idx_attachments_task ON attachments(task_id)`,

		`CREATE TABLE ledger (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			worker_id  TEXT NOT NULL,
			from_state TEXT NOT NULL DEFAULT '',
			to_state   TEXT NOT NULL,
			entered_at TEXT NOT NULL,
			exited_at  TEXT
		)`,
		`CREATE INDEX idx_ledger_task ON ledger(task_id)`,
		`CREATE UNIQUE INDEX idx_ledger_open_per_task ON ledger(task_id) WHERE exited_at IS NULL`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}
