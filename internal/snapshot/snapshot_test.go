package snapshot_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/graphwork/taskgraphd/internal/migration"
	"github.com/graphwork/taskgraphd/internal/snapshot"
	"github.com/graphwork/taskgraphd/internal/store"
	"github.com/graphwork/taskgraphd/internal/types"
)

func newPopulatedStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	now := time.Now()
	tk := &types.Task{ID: "t1", Title: "exported task", Status: types.StatusOpen, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.InsertTask(context.Background(), tk))
	return s
}

func TestExportIsDeterministicAcrossCalls(t *testing.T) {
	s := newPopulatedStore(t)
	ctx := context.Background()

	first, err := snapshot.Export(ctx, s, "tester")
	require.NoError(t, err)
	second, err := snapshot.Export(ctx, s, "tester")
	require.NoError(t, err)

	firstBody, err := snapshot.Encode(first, false)
	require.NoError(t, err)
	secondBody, err := snapshot.Encode(second, false)
	require.NoError(t, err)

	// exported_at differs between the two calls, so compare row payloads,
	// not the raw encoded bytes.
	require.Equal(t, first.Tables, second.Tables)
	require.NotEmpty(t, firstBody)
	require.NotEmpty(t, secondBody)
}

func TestExportExcludesEphemeralTables(t *testing.T) {
	s := newPopulatedStore(t)
	snap, err := snapshot.Export(context.Background(), s, "tester")
	require.NoError(t, err)

	_, hasWorkers := snap.Tables["workers"]
	require.False(t, hasWorkers, "workers is ephemeral and must never be exported")
	_, hasFileMarks := snap.Tables["file_marks"]
	require.False(t, hasFileMarks)
}

func TestEncodeDecodeRoundTripPlain(t *testing.T) {
	s := newPopulatedStore(t)
	snap, err := snapshot.Export(context.Background(), s, "tester")
	require.NoError(t, err)

	body, err := snapshot.Encode(snap, false)
	require.NoError(t, err)
	decoded, err := snapshot.Decode(body)
	require.NoError(t, err)
	require.Equal(t, snap.SchemaVersion, decoded.SchemaVersion)
	require.Len(t, decoded.Tables["tasks"], 1)
}

func TestEncodeDecodeRoundTripGzip(t *testing.T) {
	s := newPopulatedStore(t)
	snap, err := snapshot.Export(context.Background(), s, "tester")
	require.NoError(t, err)

	body, err := snapshot.Encode(snap, true)
	require.NoError(t, err)
	decoded, err := snapshot.Decode(body)
	require.NoError(t, err)
	require.Len(t, decoded.Tables["tasks"], 1)
}

func TestImportRoundTripsIntoFreshStore(t *testing.T) {
	src := newPopulatedStore(t)
	ctx := context.Background()
	snap, err := snapshot.Export(ctx, src, "tester")
	require.NoError(t, err)

	dst, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dst.Close() })

	result, err := snapshot.Import(ctx, dst, snap, migration.New(), snapshot.ImportOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, result.TablesImported["tasks"])

	task, err := dst.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "exported task", task.Title)
}

func TestImportDryRunCommitsNothing(t *testing.T) {
	src := newPopulatedStore(t)
	ctx := context.Background()
	snap, err := snapshot.Export(ctx, src, "tester")
	require.NoError(t, err)

	dst, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dst.Close() })

	_, err = snapshot.Import(ctx, dst, snap, migration.New(), snapshot.ImportOptions{DryRun: true})
	require.NoError(t, err)

	_, err = dst.GetTask(ctx, "t1")
	require.Error(t, err, "a dry run must not actually write rows")
}
