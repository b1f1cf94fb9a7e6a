// Package filemarks implements advisory per-path locks scoped by worker:
// contention produces a warning, never a rejection, and marks are released
// automatically when the owning worker disconnects.
package filemarks

import (
	"context"
	"time"

	"github.com/graphwork/taskgraphd/internal/store"
	"github.com/graphwork/taskgraphd/internal/types"
)

// Registry wires a Store for file-mark operations.
type Registry struct {
	store *store.Store
	Clock func() time.Time
}

func New(s *store.Store) *Registry {
	return &Registry{store: s, Clock: time.Now}
}

// MarkResult reports whether a contending worker already held the path
// when worker's mark was recorded.
type MarkResult struct {
	Warning     bool
	HolderWorker string
}

// Mark records worker as having touched path. If another worker already
// holds a mark on path, the new mark is still recorded (advisory
// semantics) but MarkResult.Warning is set with the other worker's id.
func (r *Registry) Mark(ctx context.Context, path, workerID string) (MarkResult, error) {
	existing, err := r.store.ListFileMarks(ctx, path)
	if err != nil {
		return MarkResult{}, err
	}

	var holder string
	for _, m := range existing {
		if m.WorkerID != workerID {
			holder = m.WorkerID
			break
		}
	}

	if _, err := r.store.MarkFile(ctx, path, workerID, r.Clock()); err != nil {
		return MarkResult{}, err
	}

	if holder != "" {
		return MarkResult{Warning: true, HolderWorker: holder}, nil
	}
	return MarkResult{}, nil
}

// Unmark releases worker's mark on path. Returns FileNotFound if no such
// mark existed.
func (r *Registry) Unmark(ctx context.Context, path, workerID string) error {
	if err := r.store.UnmarkFile(ctx, path, workerID); err != nil {
		return types.NewError(types.CodeFileNotFound, "no mark on %s by worker %s", path, workerID).WithField("path")
	}
	return nil
}

// List projects marks: by path if path is non-empty, by worker if
// workerID is non-empty, or both filters combined with AND when both are
// given.
func (r *Registry) List(ctx context.Context, path, workerID string) ([]types.FileMark, error) {
	switch {
	case path != "" && workerID != "":
		byPath, err := r.store.ListFileMarks(ctx, path)
		if err != nil {
			return nil, err
		}
		var out []types.FileMark
		for _, m := range byPath {
			if m.WorkerID == workerID {
				out = append(out, m)
			}
		}
		return out, nil
	case path != "":
		return r.store.ListFileMarks(ctx, path)
	case workerID != "":
		return r.store.ListFileMarksByWorker(ctx, workerID)
	default:
		return nil, nil
	}
}

// ReleaseByWorker removes every mark held by workerID, used when a worker
// disconnects. Returns the number of marks released.
func (r *Registry) ReleaseByWorker(ctx context.Context, workerID string) (int, error) {
	marks, err := r.store.ListFileMarksByWorker(ctx, workerID)
	if err != nil {
		return 0, err
	}
	for _, m := range marks {
		if err := r.store.UnmarkFile(ctx, m.Path, workerID); err != nil {
			return 0, err
		}
	}
	return len(marks), nil
}
