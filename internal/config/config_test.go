package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphwork/taskgraphd/internal/config"
	"github.com/graphwork/taskgraphd/internal/types"
)

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestValidateRejectsUnknownInitial(t *testing.T) {
	c := config.Default()
	c.Initial = "nowhere"
	require.Error(t, c.Validate())
}

func TestValidateRejectsTimedDisconnectState(t *testing.T) {
	c := config.Default()
	c.DisconnectState = "in_progress" // timed in the default config
	require.Error(t, c.Validate())
}

func TestValidateRejectsDanglingExit(t *testing.T) {
	c := config.Default()
	st := c.States["open"]
	st.Exits = append(st.Exits, "nonexistent")
	c.States["open"] = st
	require.Error(t, c.Validate())
}

func TestValidateRequiresTerminalState(t *testing.T) {
	c := config.Default()
	for name, def := range c.States {
		def.Exits = []string{"open"}
		c.States[name] = def
	}
	require.Error(t, c.Validate())
}

func TestValidateRequiresStartBlockingDependencyKind(t *testing.T) {
	c := config.Default()
	for name, def := range c.DependencyKinds {
		def.Blocks = types.BlocksNone
		c.DependencyKinds[name] = def
	}
	require.Error(t, c.Validate())
}

func TestCanTransition(t *testing.T) {
	c := config.Default()
	assert.True(t, c.CanTransition(types.StatusOpen, types.StatusInProgress))
	assert.False(t, c.CanTransition(types.StatusOpen, types.StatusClosed))
	assert.False(t, c.CanTransition(types.StatusClosed, types.StatusOpen))
}

func TestFirstTimedState(t *testing.T) {
	c := config.Default()
	name, err := c.FirstTimedState()
	require.NoError(t, err)
	assert.Equal(t, "in_progress", name)
}

func TestFirstTimedStateErrorsWithNoTimedState(t *testing.T) {
	c := config.Default()
	for name, def := range c.States {
		def.Timed = false
		c.States[name] = def
	}
	_, err := c.FirstTimedState()
	require.Error(t, err)
}

func TestFirstTerminalStateFromDirectExit(t *testing.T) {
	c := config.Default()
	name, err := c.FirstTerminalStateFrom(types.StatusInProgress)
	require.NoError(t, err)
	assert.Contains(t, []string{"closed", "tombstone"}, name)
}

func TestFirstTerminalStateFromBFSFallback(t *testing.T) {
	c := config.Default()
	// "in_progress" has no direct terminal exit other than "closed", which
	// is itself terminal, so this also exercises the BFS path when a state's
	// only terminal exit is more than one hop away.
	st := c.States["in_progress"]
	st.Exits = []string{"open", "blocked"}
	c.States["in_progress"] = st

	name, err := c.FirstTerminalStateFrom(types.StatusInProgress)
	require.NoError(t, err)
	assert.Contains(t, []string{"closed", "tombstone"}, name)
}

func TestIsBlockingTimedTerminalClaimable(t *testing.T) {
	c := config.Default()
	assert.True(t, c.IsBlockingState(types.StatusBlocked))
	assert.False(t, c.IsBlockingState(types.StatusOpen))
	assert.True(t, c.IsTimed(types.StatusInProgress))
	assert.False(t, c.IsTimed(types.StatusOpen))
	assert.True(t, c.IsTerminal(types.StatusClosed))
	assert.False(t, c.IsTerminal(types.StatusOpen))
	assert.True(t, c.IsClaimable(types.StatusOpen))
	assert.False(t, c.IsClaimable(types.StatusInProgress))
	assert.False(t, c.IsClaimable(types.StatusClosed))
}

func TestCheckUnknownValue(t *testing.T) {
	allowed := []string{"backend", "frontend"}

	warning, err := config.CheckUnknownValue(config.PolicyAllow, "tag", "infra", allowed)
	require.NoError(t, err)
	assert.Empty(t, warning)

	warning, err = config.CheckUnknownValue(config.PolicyWarn, "tag", "infra", allowed)
	require.NoError(t, err)
	assert.NotEmpty(t, warning)

	_, err = config.CheckUnknownValue(config.PolicyReject, "tag", "infra", allowed)
	require.Error(t, err)
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.CodeInvalidFieldValue, e.Code)

	// known values never warn or reject, regardless of policy.
	warning, err = config.CheckUnknownValue(config.PolicyReject, "tag", "backend", allowed)
	require.NoError(t, err)
	assert.Empty(t, warning)
}
