package depengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/graphwork/taskgraphd/internal/config"
	"github.com/graphwork/taskgraphd/internal/depengine"
	"github.com/graphwork/taskgraphd/internal/store"
	"github.com/graphwork/taskgraphd/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertTask(t *testing.T, s *store.Store, id string, status types.Status) *types.Task {
	t.Helper()
	now := time.Now()
	tk := &types.Task{
		ID:        id,
		Title:     "task " + id,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, tk.Validate())
	require.NoError(t, s.InsertTask(context.Background(), tk))
	return tk
}

func TestAddEdgeRejectsSelfReference(t *testing.T) {
	s := newTestStore(t)
	eng := depengine.New(s, config.Default())
	insertTask(t, s, "a", types.StatusOpen)

	err := eng.AddEdge(context.Background(), types.DependencyEdge{From: "a", To: "a", Kind: "blocks"})
	require.Error(t, err)
}

func TestAddEdgeRejectsUnknownKind(t *testing.T) {
	s := newTestStore(t)
	eng := depengine.New(s, config.Default())
	insertTask(t, s, "a", types.StatusOpen)
	insertTask(t, s, "b", types.StatusOpen)

	err := eng.AddEdge(context.Background(), types.DependencyEdge{From: "a", To: "b", Kind: "nope"})
	require.Error(t, err)
}

func TestAddEdgeRejectsCycle(t *testing.T) {
	s := newTestStore(t)
	eng := depengine.New(s, config.Default())
	ctx := context.Background()
	insertTask(t, s, "a", types.StatusOpen)
	insertTask(t, s, "b", types.StatusOpen)
	insertTask(t, s, "c", types.StatusOpen)

	require.NoError(t, eng.AddEdge(ctx, types.DependencyEdge{From: "a", To: "b", Kind: "blocks"}))
	require.NoError(t, eng.AddEdge(ctx, types.DependencyEdge{From: "b", To: "c", Kind: "blocks"}))

	err := eng.AddEdge(ctx, types.DependencyEdge{From: "c", To: "a", Kind: "blocks"})
	require.Error(t, err)
	require.ErrorIs(t, err, store.ErrCycle)
}

func TestAddEdgeAllowsCycleForNonBlockingKind(t *testing.T) {
	s := newTestStore(t)
	eng := depengine.New(s, config.Default())
	ctx := context.Background()
	insertTask(t, s, "a", types.StatusOpen)
	insertTask(t, s, "b", types.StatusOpen)

	require.NoError(t, eng.AddEdge(ctx, types.DependencyEdge{From: "a", To: "b", Kind: "related"}))
	require.NoError(t, eng.AddEdge(ctx, types.DependencyEdge{From: "b", To: "a", Kind: "related"}))
}

func TestIsReadyBlockedByIncompletePredecessor(t *testing.T) {
	s := newTestStore(t)
	eng := depengine.New(s, config.Default())
	ctx := context.Background()
	pred := insertTask(t, s, "pred", types.StatusBlocked)
	succ := insertTask(t, s, "succ", types.StatusOpen)
	require.NoError(t, eng.AddEdge(ctx, types.DependencyEdge{From: pred.ID, To: succ.ID, Kind: "blocks"}))

	ready, err := eng.IsReady(ctx, succ)
	require.NoError(t, err)
	require.False(t, ready, "successor should not be ready while predecessor is in a blocking state")
}

func TestIsReadyOnceBlockerLeavesBlockingState(t *testing.T) {
	s := newTestStore(t)
	eng := depengine.New(s, config.Default())
	ctx := context.Background()
	pred := insertTask(t, s, "pred", types.StatusOpen)
	succ := insertTask(t, s, "succ", types.StatusOpen)
	require.NoError(t, eng.AddEdge(ctx, types.DependencyEdge{From: pred.ID, To: succ.ID, Kind: "blocks"}))

	ready, err := eng.IsReady(ctx, succ)
	require.NoError(t, err)
	require.True(t, ready, "predecessor in a non-blocking state should not block readiness")
}

func TestIsCompletableRequiresTerminalPredecessorOnFinishToFinish(t *testing.T) {
	s := newTestStore(t)
	eng := depengine.New(s, config.Default())
	ctx := context.Background()
	pred := insertTask(t, s, "pred", types.StatusInProgress)
	succ := insertTask(t, s, "succ", types.StatusInProgress)
	require.NoError(t, eng.AddEdge(ctx, types.DependencyEdge{From: pred.ID, To: succ.ID, Kind: "finish-to-finish"}))

	completable, err := eng.IsCompletable(ctx, succ)
	require.NoError(t, err)
	require.False(t, completable)

	now := time.Now()
	pred.Status = types.StatusClosed
	pred.ClosedAt = &now
	require.NoError(t, s.UpdateTask(ctx, pred))

	completable, err = eng.IsCompletable(ctx, succ)
	require.NoError(t, err)
	require.True(t, completable)
}

func TestReadyTasksPreservesOrder(t *testing.T) {
	s := newTestStore(t)
	eng := depengine.New(s, config.Default())
	ctx := context.Background()
	a := insertTask(t, s, "a", types.StatusOpen)
	b := insertTask(t, s, "b", types.StatusOpen)
	c := insertTask(t, s, "c", types.StatusBlocked)

	ready, err := eng.ReadyTasks(ctx, []*types.Task{a, c, b})
	require.NoError(t, err)
	require.Len(t, ready, 2)
	require.Equal(t, "a", ready[0].ID)
	require.Equal(t, "b", ready[1].ID)
}

func TestReadyTasksForWorkerExcludesTagMismatch(t *testing.T) {
	s := newTestStore(t)
	eng := depengine.New(s, config.Default())
	ctx := context.Background()
	rust := insertTask(t, s, "rust-task", types.StatusOpen)
	rust.NeededTags = []string{"rust"}
	require.NoError(t, s.UpdateTask(ctx, rust))

	goWorker := &types.Worker{ID: "go-worker", Tags: []string{"go"}}
	ready, err := eng.ReadyTasksForWorker(ctx, []*types.Task{rust}, goWorker)
	require.NoError(t, err)
	require.Empty(t, ready, "worker lacking the needed tag should see no ready tasks")

	rustWorker := &types.Worker{ID: "rust-worker", Tags: []string{"rust", "backend"}}
	ready, err = eng.ReadyTasksForWorker(ctx, []*types.Task{rust}, rustWorker)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, "rust-task", ready[0].ID)
}

func TestReadyTasksForWorkerRanksWantedTagMatchesHigher(t *testing.T) {
	s := newTestStore(t)
	eng := depengine.New(s, config.Default())
	ctx := context.Background()
	plain := insertTask(t, s, "plain", types.StatusOpen)
	wanted := insertTask(t, s, "wanted", types.StatusOpen)
	wanted.WantedTags = []string{"db"}
	require.NoError(t, s.UpdateTask(ctx, wanted))

	worker := &types.Worker{ID: "w", Tags: []string{"db"}}
	ready, err := eng.ReadyTasksForWorker(ctx, []*types.Task{plain, wanted}, worker)
	require.NoError(t, err)
	require.Len(t, ready, 2)
	require.Equal(t, "wanted", ready[0].ID, "a wanted_tags match should rank before one with no match")
}
