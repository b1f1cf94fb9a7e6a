package types_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphwork/taskgraphd/internal/types"
)

func TestTaskValidate(t *testing.T) {
	base := func() *types.Task {
		return &types.Task{
			ID:       "t1",
			Title:    "fix the thing",
			Status:   types.StatusOpen,
			Priority: 2,
		}
	}

	t.Run("valid task passes", func(t *testing.T) {
		require.NoError(t, base().Validate())
	})

	t.Run("blank title rejected", func(t *testing.T) {
		tk := base()
		tk.Title = "   "
		err := tk.Validate()
		require.Error(t, err)
		e, ok := types.AsError(err)
		require.True(t, ok)
		assert.Equal(t, types.CodeMissingRequiredField, e.Code)
	})

	t.Run("title over 500 chars rejected", func(t *testing.T) {
		tk := base()
		long := make([]byte, 501)
		for i := range long {
			long[i] = 'a'
		}
		tk.Title = string(long)
		require.Error(t, tk.Validate())
	})

	t.Run("priority out of range rejected", func(t *testing.T) {
		tk := base()
		tk.Priority = 9
		require.Error(t, tk.Validate())
	})

	t.Run("closed without closed_at rejected", func(t *testing.T) {
		tk := base()
		tk.Status = types.StatusClosed
		require.Error(t, tk.Validate())
	})

	t.Run("closed with closed_at passes", func(t *testing.T) {
		tk := base()
		tk.Status = types.StatusClosed
		now := time.Now()
		tk.ClosedAt = &now
		require.NoError(t, tk.Validate())
	})

	t.Run("non-closed with closed_at rejected", func(t *testing.T) {
		tk := base()
		now := time.Now()
		tk.ClosedAt = &now
		require.Error(t, tk.Validate())
	})

	t.Run("negative points rejected", func(t *testing.T) {
		tk := base()
		tk.Points = types.IntPtr(-1)
		require.Error(t, tk.Validate())
	})
}

func TestComputeContentHash(t *testing.T) {
	mk := func() *types.Task {
		return &types.Task{
			Title:       "same content",
			Description: "desc",
			Priority:    1,
			IssueType:   types.TypeBug,
		}
	}

	a := mk()
	b := mk()
	b.ID = "different-id"
	b.CreatedAt = time.Now()

	assert.Equal(t, a.ComputeContentHash(), b.ComputeContentHash(),
		"hash must ignore id and timestamps")

	c := mk()
	c.Description = "different desc"
	assert.NotEqual(t, a.ComputeContentHash(), c.ComputeContentHash())
}

func TestParseHierarchicalID(t *testing.T) {
	cases := []struct {
		id                           string
		prefix, parentID             string
		depth                        int
	}{
		{"proj-42", "proj-42", "", 0},
		{"proj-42.1", "proj-42", "proj-42", 1},
		{"proj-42.1.3", "proj-42", "proj-42.1", 2},
	}
	for _, tc := range cases {
		prefix, parentID, depth := types.ParseHierarchicalID(tc.id)
		assert.Equal(t, tc.prefix, prefix, tc.id)
		assert.Equal(t, tc.parentID, parentID, tc.id)
		assert.Equal(t, tc.depth, depth, tc.id)
	}
}

func TestIsExpired(t *testing.T) {
	deletedAt := time.Now().Add(-40 * 24 * time.Hour)
	tk := &types.Task{Status: types.StatusTombstone, DeletedAt: &deletedAt}
	assert.True(t, tk.IsExpired(0), "past default TTL plus grace should be expired")

	recentDeletedAt := time.Now().Add(-1 * time.Hour)
	tk2 := &types.Task{Status: types.StatusTombstone, DeletedAt: &recentDeletedAt}
	assert.False(t, tk2.IsExpired(0))

	notTombstone := &types.Task{Status: types.StatusOpen, DeletedAt: &deletedAt}
	assert.False(t, notTombstone.IsExpired(0))
}
