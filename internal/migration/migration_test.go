package migration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphwork/taskgraphd/internal/migration"
)

func identity(to int) migration.Transform {
	return func(data migration.Value) (migration.Value, error) {
		data["schema_version"] = to
		return data, nil
	}
}

func TestRegisterRejectsBackwardStep(t *testing.T) {
	r := migration.New()
	err := r.Register(2, 1, identity(1))
	require.Error(t, err)
}

func TestFindPathSameVersionIsEmpty(t *testing.T) {
	r := migration.New()
	path, err := r.FindPath(3, 3)
	require.NoError(t, err)
	require.Empty(t, path)
}

func TestFindPathDirectStep(t *testing.T) {
	r := migration.New()
	require.NoError(t, r.Register(1, 2, identity(2)))
	path, err := r.FindPath(1, 2)
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.Equal(t, 1, path[0].From)
	assert.Equal(t, 2, path[0].To)
}

func TestFindPathShortestOverMultipleRoutes(t *testing.T) {
	r := migration.New()
	require.NoError(t, r.Register(1, 2, identity(2)))
	require.NoError(t, r.Register(2, 4, identity(4)))
	require.NoError(t, r.Register(1, 3, identity(3)))
	require.NoError(t, r.Register(3, 4, identity(4)))
	require.NoError(t, r.Register(1, 4, identity(4))) // direct shortcut

	path, err := r.FindPath(1, 4)
	require.NoError(t, err)
	require.Len(t, path, 1, "BFS must prefer the single-hop edge over longer routes")
	assert.Equal(t, 4, path[0].To)
}

func TestFindPathUnreachableReturnsErrNoPath(t *testing.T) {
	r := migration.New()
	require.NoError(t, r.Register(1, 2, identity(2)))
	_, err := r.FindPath(1, 99)
	require.Error(t, err)
	require.ErrorIs(t, err, migration.ErrNoPath)
}

func TestMigrateAppliesStepsInOrderAndBumpsVersion(t *testing.T) {
	r := migration.New()
	require.NoError(t, r.Register(1, 2, func(data migration.Value) (migration.Value, error) {
		data["added_in_v2"] = true
		return data, nil
	}))
	require.NoError(t, r.Register(2, 3, func(data migration.Value) (migration.Value, error) {
		data["added_in_v3"] = true
		return data, nil
	}))

	out, err := r.Migrate(migration.Value{"schema_version": 1}, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, out["schema_version"])
	assert.Equal(t, true, out["added_in_v2"])
	assert.Equal(t, true, out["added_in_v3"])
}
