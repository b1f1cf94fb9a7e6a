package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// snapshotTableOrder lists the non-ephemeral tables in foreign-key-safe
// delete/insert order: children before the parents they reference are
// cleared first on delete, and parents are (re)inserted before children on
// insert. Workers, file marks, and any FTS auxiliary tables are ephemeral
// and are never part of a snapshot.
var snapshotTableOrder = []string{"ledger", "task_tags", "attachments", "dependencies", "tasks"}

// ImportTables replaces the contents of every snapshot table with rows,
// inside one transaction: all existing rows are cleared first (in
// child-to-parent order), then rows are inserted (in parent-to-child
// order, the reverse), so foreign key constraints hold throughout.
func (s *Store) ImportTables(ctx context.Context, rows map[string][]map[string]any) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range snapshotTableOrder {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
				return wrapDBError(fmt.Sprintf("clear table %s", table), err)
			}
		}
		for i := len(snapshotTableOrder) - 1; i >= 0; i-- {
			table := snapshotTableOrder[i]
			for _, row := range rows[table] {
				if err := insertRow(ctx, tx, table, row); err != nil {
					return fmt.Errorf("insert into %s: %w", table, err)
				}
			}
		}
		return nil
	})
}

func insertRow(ctx context.Context, tx *sql.Tx, table string, row map[string]any) error {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = row[c]
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	_, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return wrapDBError(stmt, err)
	}
	return nil
}
