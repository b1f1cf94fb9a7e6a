// Package config loads and validates the data-driven configuration model:
// states, dependency kinds, phases, tags, and attachment keys. The kernel
// never hard-codes a state name or dependency kind — it always asks a
// *Config loaded through this package.
package config

import (
	"fmt"
	"time"

	"github.com/graphwork/taskgraphd/internal/types"
)

// Policy controls how an unknown phase/tag/attachment-key value is handled.
type Policy string

const (
	PolicyAllow  Policy = "allow"
	PolicyWarn   Policy = "warn"
	PolicyReject Policy = "reject"
)

// StateDef declares one state in the task lifecycle.
type StateDef struct {
	Exits []string `yaml:"exits" toml:"exits" mapstructure:"exits"`
	Timed bool     `yaml:"timed" toml:"timed" mapstructure:"timed"`
}

// IsTerminal reports whether the state has no exits.
func (s StateDef) IsTerminal() bool { return len(s.Exits) == 0 }

// DependencyKindDef declares one dependency edge kind.
type DependencyKindDef struct {
	Display types.Display `yaml:"display" toml:"display" mapstructure:"display"`
	Blocks  types.Blocks  `yaml:"blocks" toml:"blocks" mapstructure:"blocks"`
}

// AttachmentKeyDef declares the accumulation mode for one attachment name.
type AttachmentKeyDef struct {
	Mode types.AttachmentMode `yaml:"mode" toml:"mode" mapstructure:"mode"`
}

// Config is the fully merged, validated configuration for one store.
type Config struct {
	Initial         string `yaml:"initial" toml:"initial" mapstructure:"initial"`
	DisconnectState string `yaml:"disconnect_state" toml:"disconnect_state" mapstructure:"disconnect_state"`

	States          map[string]StateDef          `yaml:"states" toml:"states" mapstructure:"states"`
	DependencyKinds map[string]DependencyKindDef `yaml:"dependency_kinds" toml:"dependency_kinds" mapstructure:"dependency_kinds"`
	AttachmentKeys  map[string]AttachmentKeyDef  `yaml:"attachment_keys" toml:"attachment_keys" mapstructure:"attachment_keys"`

	BlockingStates []string `yaml:"blocking_states" toml:"blocking_states" mapstructure:"blocking_states"`
	Phases         []string `yaml:"phases" toml:"phases" mapstructure:"phases"`
	Tags           []string `yaml:"tags" toml:"tags" mapstructure:"tags"`

	UnknownPhasePolicy          Policy `yaml:"unknown_phase_policy" toml:"unknown_phase_policy" mapstructure:"unknown_phase_policy"`
	UnknownTagPolicy            Policy `yaml:"unknown_tag_policy" toml:"unknown_tag_policy" mapstructure:"unknown_tag_policy"`
	UnknownAttachmentKeyPolicy  Policy `yaml:"unknown_attachment_key_policy" toml:"unknown_attachment_key_policy" mapstructure:"unknown_attachment_key_policy"`

	StaleTimeoutSeconds int `yaml:"stale_timeout_seconds" toml:"stale_timeout_seconds" mapstructure:"stale_timeout_seconds"`
	DefaultMaxClaims    int `yaml:"default_max_claims" toml:"default_max_claims" mapstructure:"default_max_claims"`
}

// StaleTimeout returns StaleTimeoutSeconds as a time.Duration, defaulting
// to 5 minutes if unset.
func (c *Config) StaleTimeout() time.Duration {
	if c.StaleTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.StaleTimeoutSeconds) * time.Second
}

// Default returns a minimal built-in config: open -> in_progress -> closed,
// a "blocked" state (the only blocking state), a tombstone terminal state,
// and four dependency kinds: "blocks" (start), "related" and "parent-child"
// (none), and "finish-to-finish" (completion).
// Installations override this via tiered config files.
func Default() *Config {
	return &Config{
		Initial:         "open",
		DisconnectState: "open",
		States: map[string]StateDef{
			"open":        {Exits: []string{"in_progress", "blocked", "tombstone"}, Timed: false},
			"in_progress": {Exits: []string{"open", "blocked", "closed", "tombstone"}, Timed: true},
			"blocked":     {Exits: []string{"open", "in_progress", "tombstone"}, Timed: false},
			"closed":      {Exits: []string{}, Timed: false},
			"tombstone":   {Exits: []string{}, Timed: false},
		},
		DependencyKinds: map[string]DependencyKindDef{
			"blocks":       {Display: types.DisplayVertical, Blocks: types.BlocksStart},
			"related":      {Display: types.DisplayHorizontal, Blocks: types.BlocksNone},
			"parent-child": {Display: types.DisplayVertical, Blocks: types.BlocksNone},
			"finish-to-finish": {Display: types.DisplayVertical, Blocks: types.BlocksCompletion},
		},
		AttachmentKeys: map[string]AttachmentKeyDef{
			"notes": {Mode: types.AttachmentAppend},
			"spec":  {Mode: types.AttachmentReplace},
		},
		BlockingStates:             []string{"blocked"},
		Phases:                     []string{},
		Tags:                       []string{},
		UnknownPhasePolicy:         PolicyAllow,
		UnknownTagPolicy:           PolicyAllow,
		UnknownAttachmentKeyPolicy: PolicyAllow,
		StaleTimeoutSeconds:        300,
		DefaultMaxClaims:           1,
	}
}

// Validate runs the fixed config-validation checklist. It fails loading
// (returns a non-nil error) on the first violation.
func (c *Config) Validate() error {
	if _, ok := c.States[c.Initial]; !ok {
		return types.NewError(types.CodeInvalidFieldValue, "initial state %q does not exist", c.Initial).WithField("initial")
	}
	disconnectDef, ok := c.States[c.DisconnectState]
	if !ok {
		return types.NewError(types.CodeInvalidFieldValue, "disconnect_state %q does not exist", c.DisconnectState).WithField("disconnect_state")
	}
	if disconnectDef.Timed {
		return types.NewError(types.CodeInvalidFieldValue, "disconnect_state %q must not be a timed state", c.DisconnectState).WithField("disconnect_state")
	}
	for _, bs := range c.BlockingStates {
		if _, ok := c.States[bs]; !ok {
			return types.NewError(types.CodeInvalidFieldValue, "blocking_states member %q does not exist", bs).WithField("blocking_states")
		}
	}
	for name, def := range c.States {
		for _, exit := range def.Exits {
			if _, ok := c.States[exit]; !ok {
				return types.NewError(types.CodeInvalidFieldValue, "state %q has exit to undefined state %q", name, exit).WithField("states")
			}
		}
	}
	hasTerminal := false
	for _, def := range c.States {
		if def.IsTerminal() {
			hasTerminal = true
			break
		}
	}
	if !hasTerminal {
		return types.NewError(types.CodeInvalidFieldValue, "config must define at least one terminal state").WithField("states")
	}
	hasStartBlocker := false
	for _, def := range c.DependencyKinds {
		if def.Blocks == types.BlocksStart {
			hasStartBlocker = true
			break
		}
	}
	if !hasStartBlocker {
		return types.NewError(types.CodeInvalidFieldValue, "config must define at least one dependency kind with blocks=start").WithField("dependency_kinds")
	}
	return nil
}

// IsBlockingState reports whether status is one of the configured
// blocking states (used by readiness computation).
func (c *Config) IsBlockingState(status types.Status) bool {
	for _, bs := range c.BlockingStates {
		if bs == string(status) {
			return true
		}
	}
	return false
}

// IsTerminal reports whether status is a terminal state, or false if the
// status is not configured at all.
func (c *Config) IsTerminal(status types.Status) bool {
	def, ok := c.States[string(status)]
	return ok && def.IsTerminal()
}

// IsTimed reports whether status is a timed state.
func (c *Config) IsTimed(status types.Status) bool {
	def, ok := c.States[string(status)]
	return ok && def.Timed
}

// IsClaimable reports whether a task in status is structurally eligible to
// be claimed: configured, not already timed, and not terminal. Whether it
// is actually ready also depends on its start-blockers (internal/depengine).
func (c *Config) IsClaimable(status types.Status) bool {
	def, ok := c.States[string(status)]
	return ok && !def.Timed && !def.IsTerminal()
}

// CanTransition reports whether old -> new is a legal exit.
func (c *Config) CanTransition(old, new types.Status) bool {
	def, ok := c.States[string(old)]
	if !ok {
		return false
	}
	for _, exit := range def.Exits {
		if exit == string(new) {
			return true
		}
	}
	return false
}

// FirstTimedState returns the first configured timed state, used by the
// `claim` sugar operation. Iteration order over the map is made
// deterministic by sorting state names.
func (c *Config) FirstTimedState() (string, error) {
	for _, name := range c.sortedStateNames() {
		if c.States[name].Timed {
			return name, nil
		}
	}
	return "", types.NewError(types.CodeInvalidState, "no timed state configured")
}

// FirstTerminalStateFrom returns the first terminal state reachable from
// current via a single exit, used by the `complete` sugar operation. Falls
// back to a BFS over all exits if no direct terminal exit exists.
func (c *Config) FirstTerminalStateFrom(current types.Status) (string, error) {
	def, ok := c.States[string(current)]
	if !ok {
		return "", types.NewError(types.CodeInvalidState, "unknown state %q", current)
	}
	for _, exit := range def.Exits {
		if c.States[exit].IsTerminal() {
			return exit, nil
		}
	}
	// BFS fallback: find the nearest terminal state reachable by transitions.
	visited := map[string]bool{string(current): true}
	queue := append([]string{}, def.Exits...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if visited[next] {
			continue
		}
		visited[next] = true
		if c.States[next].IsTerminal() {
			return next, nil
		}
		queue = append(queue, c.States[next].Exits...)
	}
	return "", types.NewError(types.CodeInvalidState, "no terminal state reachable from %q", current)
}

func (c *Config) sortedStateNames() []string {
	names := make([]string, 0, len(c.States))
	for n := range c.States {
		names = append(names, n)
	}
	// Simple insertion sort keeps this dependency-free and deterministic;
	// state counts are small (tens, not thousands).
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

// CheckUnknownValue applies policy to a value absent from allowed. It
// returns (warning, error): a non-empty warning under PolicyWarn, or a
// non-nil *types.Error under PolicyReject.
func CheckUnknownValue(policy Policy, kind, value string, allowed []string) (string, error) {
	for _, a := range allowed {
		if a == value {
			return "", nil
		}
	}
	switch policy {
	case PolicyReject:
		return "", types.NewError(types.CodeInvalidFieldValue, "unknown %s %q", kind, value).WithField(kind)
	case PolicyWarn:
		return fmt.Sprintf("unknown %s %q accepted under warn policy", kind, value), nil
	default: // PolicyAllow, or unset
		return "", nil
	}
}
