package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/graphwork/taskgraphd/internal/types"
)

// InsertDependency inserts one directed edge. Callers (internal/depengine)
// are responsible for checking acyclicity before calling this — the store
// enforces uniqueness via the schema's UNIQUE(from_task, to_task, kind)
// constraint but does not itself walk the graph.
func (s *Store) InsertDependency(ctx context.Context, edge types.DependencyEdge) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO dependencies (from_task, to_task, kind) VALUES (?, ?, ?)`,
			edge.From, edge.To, edge.Kind)
		if err != nil {
			return wrapDBError(fmt.Sprintf("insert dependency %s->%s (%s)", edge.From, edge.To, edge.Kind), err)
		}
		return nil
	})
}

// DeleteDependency removes one edge. Returns ErrNotFound if no such edge
// existed.
func (s *Store) DeleteDependency(ctx context.Context, edge types.DependencyEdge) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM dependencies WHERE from_task = ? AND to_task = ? AND kind = ?`,
			edge.From, edge.To, edge.Kind)
		if err != nil {
			return wrapDBError("delete dependency", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return wrapDBError("rows affected", err)
		}
		if n == 0 {
			return fmt.Errorf("dependency %s->%s (%s): %w", edge.From, edge.To, edge.Kind, ErrNotFound)
		}
		return nil
	})
}

// EdgeExists reports whether the exact (from, to, kind) edge is already
// recorded, for internal/depengine's pre-insert duplicate check.
func (s *Store) EdgeExists(ctx context.Context, edge types.DependencyEdge) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dependencies WHERE from_task = ? AND to_task = ? AND kind = ?`,
		edge.From, edge.To, edge.Kind).Scan(&n)
	if err != nil {
		return false, wrapDBError("check edge existence", err)
	}
	return n > 0, nil
}

// EdgesFrom returns all outgoing edges of taskID.
func (s *Store) EdgesFrom(ctx context.Context, taskID string) ([]types.DependencyEdge, error) {
	return s.queryEdges(ctx, `SELECT from_task, to_task, kind FROM dependencies WHERE from_task = ?`, taskID)
}

// EdgesTo returns all incoming edges of taskID.
func (s *Store) EdgesTo(ctx context.Context, taskID string) ([]types.DependencyEdge, error) {
	return s.queryEdges(ctx, `SELECT from_task, to_task, kind FROM dependencies WHERE to_task = ?`, taskID)
}

func (s *Store) queryEdges(ctx context.Context, query, arg string) ([]types.DependencyEdge, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, wrapDBError("query edges", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []types.DependencyEdge
	for rows.Next() {
		var e types.DependencyEdge
		if err := rows.Scan(&e.From, &e.To, &e.Kind); err != nil {
			return nil, wrapDBError("scan edge", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// AllEdges returns the full dependency graph, for cycle detection and
// snapshot export.
func (s *Store) AllEdges(ctx context.Context) ([]types.DependencyEdge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT from_task, to_task, kind FROM dependencies`)
	if err != nil {
		return nil, wrapDBError("list all edges", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []types.DependencyEdge
	for rows.Next() {
		var e types.DependencyEdge
		if err := rows.Scan(&e.From, &e.To, &e.Kind); err != nil {
			return nil, wrapDBError("scan edge", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
