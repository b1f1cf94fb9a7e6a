// Package store is the durable, transactional home for tasks,
// dependencies, workers, file marks, attachments, and the state-history
// ledger. It presents begin/commit/rollback only through withTx — callers
// never see a bare *sql.Tx escape a single operation.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/graphwork/taskgraphd/internal/types"
)

// Sentinel errors for common storage conditions: callers use errors.Is/As,
// never string comparison.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrCycle    = errors.New("dependency cycle detected")
)

// wrapDBError distinguishes "no such row" (left as a plain ErrNotFound-
// wrapped error, so callers can keep using errors.Is and translate it into
// the specific *_NotFound code their domain calls for) from every other
// storage failure, which spec.md §7 calls a constraint violation or other
// DatabaseError: those are wrapped as a *types.Error with the underlying
// driver message preserved in Details, so a caller that doesn't have a
// more specific code for the failure still surfaces a structured one
// instead of falling through to InternalError.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return types.NewError(types.CodeDatabaseError, "%s", op).
		WithDetails(map[string]any{"error": err.Error()})
}

// Store wraps a single SQLite database file plus an OS-level advisory
// lock on a sidecar file, so two separate processes never both believe
// they're the sole writer.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	path string
}

// Open opens (creating if necessary) the SQLite database at path, applies
// any pending schema migrations, and acquires the writer file lock.
// path == ":memory:" skips the file lock, for fast in-process tests.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Single writer: one connection, serialized. Relying on SQLite's own
	// locking instead would still serialize writes but with far worse
	// latency under contention.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}

	if path != ":memory:" {
		lk := flock.New(path + ".lock")
		locked, err := lk.TryLockContext(ctx, 50*time.Millisecond)
		if err != nil || !locked {
			_ = db.Close()
			return nil, fmt.Errorf("acquire writer lock on %s: database in use by another process", path)
		}
		s.lock = lk
	}

	if err := s.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return ":memory:"
	}
	// foreign_keys enforces referential integrity at the storage layer;
	// busy_timeout bounds how long a reader waits behind the single writer.
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Close releases the writer lock (if held) and closes the database.
func (s *Store) Close() error {
	var errs []error
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// withTx runs fn inside a write transaction, committing on success and
// rolling back on any error or panic — the only way callers touch a
// *sql.Tx, guaranteeing release on every exit path.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// withConn runs fn against a read-only connection pulled from the pool.
// Used for queries that don't need write-transaction semantics but still
// want a single stable connection (e.g. multi-statement scans).
func (s *Store) withConn(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()
	return fn(conn)
}

// DB exposes the underlying *sql.DB for the read-only query facility
// (internal/query), which binds its own parameters and is responsible for
// rejecting non-SELECT statements before ever reaching here.
func (s *Store) DB() *sql.DB { return s.db }
