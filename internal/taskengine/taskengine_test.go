package taskengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/graphwork/taskgraphd/internal/config"
	"github.com/graphwork/taskgraphd/internal/depengine"
	"github.com/graphwork/taskgraphd/internal/store"
	"github.com/graphwork/taskgraphd/internal/taskengine"
	"github.com/graphwork/taskgraphd/internal/types"
)

func newEngine(t *testing.T) (*taskengine.Engine, *store.Store, *config.Config) {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	cfg := config.Default()
	eng := taskengine.New(s, cfg, depengine.New(s, cfg))
	return eng, s, cfg
}

func registerWorker(t *testing.T, s *store.Store, id string, tags []string, maxClaims int) {
	t.Helper()
	now := time.Now()
	w := &types.Worker{
		ID:            id,
		Tags:          tags,
		MaxClaims:     maxClaims,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	require.NoError(t, s.UpsertWorker(context.Background(), w))
}

func TestCreateRequiresTitle(t *testing.T) {
	eng, _, _ := newEngine(t)
	_, err := eng.Create(context.Background(), taskengine.CreateInput{})
	require.Error(t, err)
}

func TestCreateDedupesByContentHash(t *testing.T) {
	eng, _, _ := newEngine(t)
	ctx := context.Background()
	in := taskengine.CreateInput{Title: "same work", Description: "d", Priority: 1}

	first, err := eng.Create(ctx, in)
	require.NoError(t, err)

	second, err := eng.Create(ctx, in)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "identical content should return the existing task, not a duplicate")
}

func TestCreateDifferentContentDoesNotDedupe(t *testing.T) {
	eng, _, _ := newEngine(t)
	ctx := context.Background()

	first, err := eng.Create(ctx, taskengine.CreateInput{Title: "task one", Priority: 1})
	require.NoError(t, err)
	second, err := eng.Create(ctx, taskengine.CreateInput{Title: "task two", Priority: 1})
	require.NoError(t, err)

	require.NotEqual(t, first.ID, second.ID)
}

func TestCreateRejectsUnknownTagUnderRejectPolicy(t *testing.T) {
	eng, _, cfg := newEngine(t)
	cfg.UnknownTagPolicy = config.PolicyReject
	cfg.Tags = []string{"backend"}

	_, err := eng.Create(context.Background(), taskengine.CreateInput{
		Title: "needs infra tag",
		Tags:  []string{"infra"},
	})
	require.Error(t, err)
}

func TestClaimRequiresRegisteredWorker(t *testing.T) {
	eng, _, _ := newEngine(t)
	ctx := context.Background()
	task, err := eng.Create(ctx, taskengine.CreateInput{Title: "needs claiming"})
	require.NoError(t, err)

	_, _, err = eng.Claim(ctx, task.ID, "ghost-worker")
	require.Error(t, err)
}

func TestClaimRejectsTagMismatch(t *testing.T) {
	eng, s, _ := newEngine(t)
	ctx := context.Background()
	registerWorker(t, s, "w1", []string{"frontend"}, 1)

	task, err := eng.Create(ctx, taskengine.CreateInput{Title: "needs backend", NeededTags: []string{"backend"}})
	require.NoError(t, err)

	_, _, err = eng.Claim(ctx, task.ID, "w1")
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	require.Equal(t, types.CodeTagMismatch, e.Code)
}

func TestClaimRejectsOverClaimLimit(t *testing.T) {
	eng, s, _ := newEngine(t)
	ctx := context.Background()
	registerWorker(t, s, "w1", nil, 1)

	first, err := eng.Create(ctx, taskengine.CreateInput{Title: "first"})
	require.NoError(t, err)
	second, err := eng.Create(ctx, taskengine.CreateInput{Title: "second"})
	require.NoError(t, err)

	_, _, err = eng.Claim(ctx, first.ID, "w1")
	require.NoError(t, err)

	_, _, err = eng.Claim(ctx, second.ID, "w1")
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	require.Equal(t, types.CodeClaimLimitExceeded, e.Code)
}

func TestClaimOpensLedgerIntervalAndSetsOwner(t *testing.T) {
	eng, s, _ := newEngine(t)
	ctx := context.Background()
	registerWorker(t, s, "w1", nil, 5)

	task, err := eng.Create(ctx, taskengine.CreateInput{Title: "claim me"})
	require.NoError(t, err)

	claimed, triggers, err := eng.Claim(ctx, task.ID, "w1")
	require.NoError(t, err)
	require.Equal(t, types.StatusInProgress, claimed.Status)
	require.NotNil(t, claimed.OwnerWorker)
	require.Equal(t, "w1", *claimed.OwnerWorker)
	require.Contains(t, triggers, "enter~in_progress")

	open, err := s.OpenLedgerRow(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	require.Equal(t, "w1", open.WorkerID)
}

func TestCompleteRequiresFinishToFinishPredecessorTerminal(t *testing.T) {
	eng, s, _ := newEngine(t)
	deps := depengine.New(s, config.Default())
	ctx := context.Background()
	registerWorker(t, s, "w1", nil, 5)

	pred, err := eng.Create(ctx, taskengine.CreateInput{Title: "predecessor"})
	require.NoError(t, err)
	succ, err := eng.Create(ctx, taskengine.CreateInput{Title: "successor"})
	require.NoError(t, err)
	require.NoError(t, deps.AddEdge(ctx, types.DependencyEdge{From: pred.ID, To: succ.ID, Kind: "finish-to-finish"}))

	_, _, err = eng.Claim(ctx, succ.ID, "w1")
	require.NoError(t, err)

	_, _, err = eng.Complete(ctx, succ.ID, "w1")
	require.Error(t, err, "successor cannot close while its finish-to-finish predecessor isn't terminal")
}

func TestCompleteClosesLedgerAndTask(t *testing.T) {
	eng, s, _ := newEngine(t)
	ctx := context.Background()
	registerWorker(t, s, "w1", nil, 5)

	task, err := eng.Create(ctx, taskengine.CreateInput{Title: "finish me"})
	require.NoError(t, err)

	_, _, err = eng.Claim(ctx, task.ID, "w1")
	require.NoError(t, err)

	done, triggers, err := eng.Complete(ctx, task.ID, "w1")
	require.NoError(t, err)
	require.Equal(t, types.StatusClosed, done.Status)
	require.NotNil(t, done.ClosedAt)
	require.Nil(t, done.OwnerWorker)
	require.Contains(t, triggers, "exit~in_progress")
	require.Contains(t, triggers, "enter~closed")

	open, err := s.OpenLedgerRow(ctx, task.ID)
	require.NoError(t, err)
	require.Nil(t, open, "completing a task must close its open ledger interval")

	history, err := s.LedgerHistory(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Greater(t, history[0].DurationMs(), int64(-1))
}

func TestUpdateRejectsNonOwnerWithoutForce(t *testing.T) {
	eng, s, _ := newEngine(t)
	ctx := context.Background()
	registerWorker(t, s, "w1", nil, 5)
	registerWorker(t, s, "w2", nil, 5)

	task, err := eng.Create(ctx, taskengine.CreateInput{Title: "owned"})
	require.NoError(t, err)
	_, _, err = eng.Claim(ctx, task.ID, "w1")
	require.NoError(t, err)

	_, _, _, err = eng.Update(ctx, task.ID, taskengine.UpdateInput{
		CallerWorkerID: "w2",
		Priority:       types.IntPtr(3),
	})
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	require.Equal(t, types.CodeNotOwner, e.Code)
}

func TestUpdateNoTransitionReturnsNoTriggers(t *testing.T) {
	eng, _, _ := newEngine(t)
	ctx := context.Background()

	task, err := eng.Create(ctx, taskengine.CreateInput{Title: "quiet edit"})
	require.NoError(t, err)

	_, triggers, changed, err := eng.Update(ctx, task.ID, taskengine.UpdateInput{
		Description: types.StringPtr("new description"),
	})
	require.NoError(t, err)
	require.True(t, changed)
	require.Empty(t, triggers)
}

func TestUpdateWithNoChangedFieldsIsNoOp(t *testing.T) {
	eng, _, _ := newEngine(t)
	ctx := context.Background()

	task, err := eng.Create(ctx, taskengine.CreateInput{Title: "untouched", Description: "d"})
	require.NoError(t, err)

	before := task.UpdatedAt

	updated, triggers, changed, err := eng.Update(ctx, task.ID, taskengine.UpdateInput{
		Description: types.StringPtr("d"),
	})
	require.NoError(t, err)
	require.False(t, changed, "re-submitting an identical field value should not count as a change")
	require.Empty(t, triggers)
	require.Equal(t, before, updated.UpdatedAt, "a no-op update must not bump updated_at")
}

func TestUpdateAccumulatesTimeActualMsAcrossTimedInterval(t *testing.T) {
	eng, s, _ := newEngine(t)
	ctx := context.Background()
	registerWorker(t, s, "w1", nil, 5)

	task, err := eng.Create(ctx, taskengine.CreateInput{Title: "timed work"})
	require.NoError(t, err)

	claimedAt := time.Unix(1000, 0)
	eng.Clock = func() time.Time { return claimedAt }
	_, _, err = eng.Claim(ctx, task.ID, "w1")
	require.NoError(t, err)

	eng.Clock = func() time.Time { return claimedAt.Add(500 * time.Millisecond) }
	done, _, err := eng.Complete(ctx, task.ID, "w1")
	require.NoError(t, err)
	require.Equal(t, int64(500), done.TimeActualMs, "closing a timed interval must fold its duration into time_actual_ms")
}

func TestSoftDeleteAndReap(t *testing.T) {
	eng, s, _ := newEngine(t)
	ctx := context.Background()
	eng.Clock = func() time.Time { return time.Now().Add(-40 * 24 * time.Hour) }

	task, err := eng.Create(ctx, taskengine.CreateInput{Title: "to be deleted"})
	require.NoError(t, err)

	deleted, err := eng.SoftDelete(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, deleted.IsTombstone())

	eng.Clock = time.Now
	reaped, err := eng.ReapExpiredTombstones(ctx, types.DefaultTombstoneTTL)
	require.NoError(t, err)
	require.Contains(t, reaped, task.ID)

	_, err = s.GetTask(ctx, task.ID)
	require.Error(t, err, "reaped tombstones must be hard-deleted")
}
