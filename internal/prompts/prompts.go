// Package prompts implements the transition-prompt contract from
// spec.md §6: on every state or phase change the kernel reports an
// ordered trigger list, exits from specific to general then enters from
// general to specific, emitting only triggers whose underlying dimension
// actually changed. Grounded on original_source/src/prompts/mod.rs
// (get_transition_triggers), translated into Go idiom rather than ported
// line for line.
package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed defaults
var embeddedDefaults embed.FS

const embeddedDefaultsDir = "defaults"

// GetTransitionTriggers returns the ordered trigger names that fire for a
// status/phase change, in the order the kernel must report them: exits
// from specific to general (`exit~STATE%PHASE`, `exit%PHASE`,
// `exit~STATE`), then enters from general to specific (`enter~STATE`,
// `enter%PHASE`, `enter~STATE%PHASE`). A trigger is included only if the
// dimension it names (status, phase, or both) actually changed; an empty
// phase string means "no phase".
func GetTransitionTriggers(oldStatus, oldPhase, newStatus, newPhase string) []string {
	statusChanged := oldStatus != newStatus
	phaseChanged := oldPhase != newPhase

	var triggers []string

	if (statusChanged || phaseChanged) && oldPhase != "" {
		triggers = append(triggers, fmt.Sprintf("exit~%s%%%s", oldStatus, oldPhase))
	}
	if phaseChanged && oldPhase != "" {
		triggers = append(triggers, fmt.Sprintf("exit%%%s", oldPhase))
	}
	if statusChanged {
		triggers = append(triggers, fmt.Sprintf("exit~%s", oldStatus))
	}

	if statusChanged {
		triggers = append(triggers, fmt.Sprintf("enter~%s", newStatus))
	}
	if phaseChanged && newPhase != "" {
		triggers = append(triggers, fmt.Sprintf("enter%%%s", newPhase))
	}
	if (statusChanged || phaseChanged) && newPhase != "" {
		triggers = append(triggers, fmt.Sprintf("enter~%s%%%s", newStatus, newPhase))
	}

	return triggers
}

// Dirs names the tiered prompt directories, highest precedence first:
// user overrides project overrides the embedded defaults.
type Dirs struct {
	UserDir    string
	ProjectDir string
}

// Load resolves one trigger name to its prompt body, checking the user
// directory, then the project directory, then the embedded defaults, in
// that order. It returns ("", false) if no tier defines the trigger.
func Load(trigger string, dirs Dirs) (string, bool) {
	filename := trigger + ".md"

	for _, dir := range []string{dirs.UserDir, dirs.ProjectDir} {
		if dir == "" {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, filename))
		if err == nil {
			return string(body), true
		}
	}

	body, err := embeddedDefaults.ReadFile(embeddedDefaultsDir + "/" + filename)
	if err == nil {
		return string(body), true
	}
	return "", false
}

// LoadAll resolves every trigger in order, dropping triggers with no
// matching prompt in any tier, and returns the resolved bodies for one
// transition as a slice, in trigger order.
func LoadAll(triggers []string, dirs Dirs) []string {
	var bodies []string
	for _, trig := range triggers {
		if body, ok := Load(trig, dirs); ok {
			bodies = append(bodies, body)
		}
	}
	return bodies
}

// List returns every available trigger name across the embedded defaults
// and both tier directories, de-duplicated and sorted.
func List(dirs Dirs) []string {
	seen := make(map[string]bool)
	var names []string

	addFromFS := func(fsys fs.FS, root string) {
		entries, err := fs.ReadDir(fsys, root)
		if err != nil {
			return
		}
		for _, e := range entries {
			name := strings.TrimSuffix(e.Name(), ".md")
			if !strings.HasSuffix(e.Name(), ".md") || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}

	addFromFS(embeddedDefaults, embeddedDefaultsDir)
	for _, dir := range []string{dirs.UserDir, dirs.ProjectDir} {
		if dir == "" {
			continue
		}
		addFromFS(os.DirFS(dir), ".")
	}

	sort.Strings(names)
	return names
}
