package filemarks_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/graphwork/taskgraphd/internal/filemarks"
	"github.com/graphwork/taskgraphd/internal/store"
	"github.com/graphwork/taskgraphd/internal/types"
)

func newRegistry(t *testing.T) *filemarks.Registry {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	// file_marks.worker_id references workers(id); register the workers
	// this suite uses so the foreign key is satisfied.
	require.NoError(t, registerWorkers(s, "w1", "w2"))
	return filemarks.New(s)
}

func registerWorkers(s *store.Store, ids ...string) error {
	now := time.Now()
	for _, id := range ids {
		w := &types.Worker{ID: id, RegisteredAt: now, LastHeartbeat: now}
		if err := s.UpsertWorker(context.Background(), w); err != nil {
			return err
		}
	}
	return nil
}

func TestMarkFirstTouchHasNoWarning(t *testing.T) {
	reg := newRegistry(t)
	res, err := reg.Mark(context.Background(), "src/main.go", "w1")
	require.NoError(t, err)
	require.False(t, res.Warning)
}

func TestMarkContentionWarnsWithHolder(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()
	_, err := reg.Mark(ctx, "src/main.go", "w1")
	require.NoError(t, err)

	res, err := reg.Mark(ctx, "src/main.go", "w2")
	require.NoError(t, err)
	require.True(t, res.Warning, "a second worker marking the same path must warn, not fail")
	require.Equal(t, "w1", res.HolderWorker)
}

func TestUnmarkMissingReturnsFileNotFound(t *testing.T) {
	reg := newRegistry(t)
	err := reg.Unmark(context.Background(), "src/nope.go", "w1")
	require.Error(t, err)
}

func TestReleaseByWorkerClearsAllItsMarks(t *testing.T) {
	reg := newRegistry(t)
	ctx := context.Background()
	_, err := reg.Mark(ctx, "a.go", "w1")
	require.NoError(t, err)
	_, err = reg.Mark(ctx, "b.go", "w1")
	require.NoError(t, err)

	n, err := reg.ReleaseByWorker(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	marks, err := reg.List(ctx, "", "w1")
	require.NoError(t, err)
	require.Empty(t, marks)
}
