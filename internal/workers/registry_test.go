package workers_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/graphwork/taskgraphd/internal/config"
	"github.com/graphwork/taskgraphd/internal/depengine"
	"github.com/graphwork/taskgraphd/internal/filemarks"
	"github.com/graphwork/taskgraphd/internal/store"
	"github.com/graphwork/taskgraphd/internal/taskengine"
	"github.com/graphwork/taskgraphd/internal/types"
	"github.com/graphwork/taskgraphd/internal/workers"
)

func newRegistry(t *testing.T) (*workers.Registry, *store.Store, *taskengine.Engine) {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	cfg := config.Default()
	marks := filemarks.New(s)
	reg := workers.New(s, cfg, marks)
	eng := taskengine.New(s, cfg, depengine.New(s, cfg))
	return reg, s, eng
}

func TestConnectGeneratesIDWhenEmpty(t *testing.T) {
	reg, _, _ := newRegistry(t)
	w, err := reg.Connect(context.Background(), workers.ConnectInput{Tags: []string{"backend"}})
	require.NoError(t, err)
	require.NotEmpty(t, w.ID)
}

func TestConnectRejectsDuplicateWithoutForce(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()
	_, err := reg.Connect(ctx, workers.ConnectInput{ID: "w1"})
	require.NoError(t, err)

	_, err = reg.Connect(ctx, workers.ConnectInput{ID: "w1"})
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	require.Equal(t, types.CodeAlreadyExists, e.Code)
}

func TestConnectForceReleasesPriorClaims(t *testing.T) {
	reg, s, eng := newRegistry(t)
	ctx := context.Background()
	_, err := reg.Connect(ctx, workers.ConnectInput{ID: "w1", MaxClaims: 5})
	require.NoError(t, err)

	task, err := eng.Create(ctx, taskengine.CreateInput{Title: "claimed before reconnect"})
	require.NoError(t, err)
	_, _, err = eng.Claim(ctx, task.ID, "w1")
	require.NoError(t, err)

	_, err = reg.Connect(ctx, workers.ConnectInput{ID: "w1", Force: true})
	require.NoError(t, err)

	reloaded, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Nil(t, reloaded.OwnerWorker, "forced reconnect must release the worker's prior claims")
}

func TestHeartbeatRequiresRegisteredWorker(t *testing.T) {
	reg, _, _ := newRegistry(t)
	err := reg.Heartbeat(context.Background(), "ghost", nil)
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	require.Equal(t, types.CodeWorkerNotFound, e.Code)
}

func TestIsStale(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()
	w, err := reg.Connect(ctx, workers.ConnectInput{ID: "w1"})
	require.NoError(t, err)
	require.False(t, reg.IsStale(w))

	reg.Clock = func() time.Time { return w.LastHeartbeat.Add(time.Hour) }
	require.True(t, reg.IsStale(w))
}

func TestDisconnectReleasesClaimsAndFileMarks(t *testing.T) {
	reg, s, eng := newRegistry(t)
	ctx := context.Background()
	_, err := reg.Connect(ctx, workers.ConnectInput{ID: "w1", MaxClaims: 5})
	require.NoError(t, err)

	task, err := eng.Create(ctx, taskengine.CreateInput{Title: "owned at disconnect"})
	require.NoError(t, err)
	_, _, err = eng.Claim(ctx, task.ID, "w1")
	require.NoError(t, err)
	_, err = s.MarkFile(ctx, "src/main.go", "w1", time.Now())
	require.NoError(t, err)

	result, err := reg.Disconnect(ctx, "w1", "")
	require.NoError(t, err)
	require.Equal(t, 1, result.TasksReleased)
	require.Equal(t, 1, result.FilesReleased)

	reloaded, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Nil(t, reloaded.OwnerWorker)
	require.Equal(t, types.StatusOpen, reloaded.Status)

	_, err = s.GetWorker(ctx, "w1")
	require.Error(t, err, "disconnect must remove the worker's registration")
}

func TestDisconnectAccumulatesTimeActualMs(t *testing.T) {
	reg, s, eng := newRegistry(t)
	ctx := context.Background()
	_, err := reg.Connect(ctx, workers.ConnectInput{ID: "w1", MaxClaims: 5})
	require.NoError(t, err)

	task, err := eng.Create(ctx, taskengine.CreateInput{Title: "owned at disconnect"})
	require.NoError(t, err)

	claimedAt := time.Unix(2000, 0)
	eng.Clock = func() time.Time { return claimedAt }
	_, _, err = eng.Claim(ctx, task.ID, "w1")
	require.NoError(t, err)

	reg.Clock = func() time.Time { return claimedAt.Add(750 * time.Millisecond) }
	_, err = reg.Disconnect(ctx, "w1", "")
	require.NoError(t, err)

	reloaded, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, int64(750), reloaded.TimeActualMs, "disconnect must fold the open interval's duration into time_actual_ms")
}

func TestDisconnectRejectsTimedFinalState(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()
	_, err := reg.Connect(ctx, workers.ConnectInput{ID: "w1"})
	require.NoError(t, err)

	_, err = reg.Disconnect(ctx, "w1", types.StatusInProgress)
	require.Error(t, err)
}
