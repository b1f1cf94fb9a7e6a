// Package depengine manages the dependency edges between tasks: adding and
// removing edges, rejecting cycles in the blocking subgraph, and computing
// readiness and completion-blocker queries on top of internal/store.
package depengine

import (
	"context"
	"fmt"
	"sort"

	"github.com/graphwork/taskgraphd/internal/config"
	"github.com/graphwork/taskgraphd/internal/store"
	"github.com/graphwork/taskgraphd/internal/types"
)

// Engine wires a Store and Config together for dependency-graph operations.
type Engine struct {
	store *store.Store
	cfg   *config.Config
}

func New(s *store.Store, cfg *config.Config) *Engine {
	return &Engine{store: s, cfg: cfg}
}

// AddEdge validates the edge's kind, checks for a duplicate, and rejects it
// if it would close a cycle in the blocking subgraph (Blocks != none).
// Non-blocking kinds (e.g. "related") are exempt from the cycle check —
// they're informational, not an ordering constraint.
func (e *Engine) AddEdge(ctx context.Context, edge types.DependencyEdge) error {
	kindDef, ok := e.cfg.DependencyKinds[edge.Kind]
	if !ok {
		return types.NewError(types.CodeInvalidFieldValue, "unknown dependency kind %q", edge.Kind).WithField("kind")
	}
	if edge.From == edge.To {
		return types.NewError(types.CodeInvalidFieldValue, "self-referential dependency on %q", edge.From).WithField("to")
	}
	exists, err := e.store.EdgeExists(ctx, edge)
	if err != nil {
		return err
	}
	if exists {
		return types.NewError(types.CodeAlreadyExists, "dependency %s->%s (%s) already exists", edge.From, edge.To, edge.Kind).WithField("kind")
	}
	if kindDef.Blocks != types.BlocksNone {
		cyclic, err := e.wouldCycle(ctx, edge)
		if err != nil {
			return err
		}
		if cyclic {
			return fmt.Errorf("adding %s->%s (%s): %w", edge.From, edge.To, edge.Kind, store.ErrCycle)
		}
	}
	return e.store.InsertDependency(ctx, edge)
}

// RemoveEdge deletes an existing edge.
func (e *Engine) RemoveEdge(ctx context.Context, edge types.DependencyEdge) error {
	return e.store.DeleteDependency(ctx, edge)
}

// wouldCycle reports whether adding edge.From -> edge.To would create a
// cycle in the blocking subgraph, by checking whether To can already reach
// From via existing blocking edges (a DFS from To).
func (e *Engine) wouldCycle(ctx context.Context, edge types.DependencyEdge) (bool, error) {
	all, err := e.store.AllEdges(ctx)
	if err != nil {
		return false, err
	}
	adj := make(map[string][]string)
	for _, ed := range all {
		if e.cfg.DependencyKinds[ed.Kind].Blocks == types.BlocksNone {
			continue
		}
		adj[ed.From] = append(adj[ed.From], ed.To)
	}

	visited := make(map[string]bool)
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if node == edge.From {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, next := range adj[node] {
			if dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(edge.To), nil
}

// IsReady reports whether t is claimable: not soft-deleted, unclaimed, in
// the configured initial state (which must also be a non-timed non-terminal
// status), and every incoming edge whose kind has
// Blocks=start points from a predecessor that is NOT in a configured
// blocking state (blocking_states names what stops successors, not what's
// terminal — a predecessor can be non-terminal and still non-blocking).
func (e *Engine) IsReady(ctx context.Context, t *types.Task) (bool, error) {
	if t.DeletedAt != nil || t.IsTombstone() {
		return false, nil
	}
	if t.OwnerWorker != nil && *t.OwnerWorker != "" {
		return false, nil
	}
	if !e.cfg.IsClaimable(t.Status) || string(t.Status) != e.cfg.Initial {
		return false, nil
	}
	incoming, err := e.store.EdgesTo(ctx, t.ID)
	if err != nil {
		return false, err
	}
	for _, edge := range incoming {
		def, ok := e.cfg.DependencyKinds[edge.Kind]
		if !ok || def.Blocks != types.BlocksStart {
			continue
		}
		pred, err := e.store.GetTask(ctx, edge.From)
		if err != nil {
			return false, err
		}
		if e.cfg.IsBlockingState(pred.Status) {
			return false, nil
		}
	}
	return true, nil
}

// IsCompletable reports whether t may transition to a terminal state: every
// incoming edge whose kind has Blocks=completion points from a predecessor
// that is itself terminal.
func (e *Engine) IsCompletable(ctx context.Context, t *types.Task) (bool, error) {
	incoming, err := e.store.EdgesTo(ctx, t.ID)
	if err != nil {
		return false, err
	}
	for _, edge := range incoming {
		def, ok := e.cfg.DependencyKinds[edge.Kind]
		if !ok || def.Blocks != types.BlocksCompletion {
			continue
		}
		pred, err := e.store.GetTask(ctx, edge.From)
		if err != nil {
			return false, err
		}
		if !e.cfg.IsTerminal(pred.Status) {
			return false, nil
		}
	}
	return true, nil
}

// Blockers returns the unsatisfied start-blocking predecessor tasks
// preventing t from becoming ready (those still in a blocking state).
func (e *Engine) Blockers(ctx context.Context, t *types.Task) ([]*types.Task, error) {
	incoming, err := e.store.EdgesTo(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	var blockers []*types.Task
	for _, edge := range incoming {
		def, ok := e.cfg.DependencyKinds[edge.Kind]
		if !ok || def.Blocks != types.BlocksStart {
			continue
		}
		pred, err := e.store.GetTask(ctx, edge.From)
		if err != nil {
			return nil, err
		}
		if e.cfg.IsBlockingState(pred.Status) {
			blockers = append(blockers, pred)
		}
	}
	return blockers, nil
}

// ReadyTasks filters candidate tasks to those IsReady accepts, preserving
// the input order (internal/store is responsible for the sort policy).
func (e *Engine) ReadyTasks(ctx context.Context, candidates []*types.Task) ([]*types.Task, error) {
	var ready []*types.Task
	for _, t := range candidates {
		ok, err := e.IsReady(ctx, t)
		if err != nil {
			return nil, err
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

// ReadyTasksForWorker filters candidates to those IsReady accepts and
// whose needed_tags are a subset of worker's tags, then stable-sorts the
// result so tasks whose wanted_tags overlap worker's tags more heavily
// rank earlier, breaking ties in the input order (store.ListTasks already
// orders candidates by priority desc, created_at asc) — spec.md §4.4's
// "filter by an optional worker ... rank wanted_tags matches higher".
func (e *Engine) ReadyTasksForWorker(ctx context.Context, candidates []*types.Task, worker *types.Worker) ([]*types.Task, error) {
	if worker == nil {
		return e.ReadyTasks(ctx, candidates)
	}
	have := make(map[string]bool, len(worker.Tags))
	for _, tag := range worker.Tags {
		have[tag] = true
	}

	var ready []*types.Task
	for _, t := range candidates {
		ok, err := e.IsReady(ctx, t)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		eligible := true
		for _, need := range t.NeededTags {
			if !have[need] {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, t)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return wantedMatchCount(ready[i], have) > wantedMatchCount(ready[j], have)
	})
	return ready, nil
}

func wantedMatchCount(t *types.Task, have map[string]bool) int {
	n := 0
	for _, tag := range t.WantedTags {
		if have[tag] {
			n++
		}
	}
	return n
}
