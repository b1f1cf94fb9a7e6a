// Package taskengine is the pivot point for all task mutation: create,
// the unified update operation, and the claim/complete sugar wrapping it.
// It is the only caller of internal/store that also consults
// internal/config and internal/depengine, so every state transition is
// checked against the loaded state machine before it reaches disk.
package taskengine

import (
	"context"
	"slices"
	"time"

	"github.com/graphwork/taskgraphd/internal/config"
	"github.com/graphwork/taskgraphd/internal/depengine"
	"github.com/graphwork/taskgraphd/internal/idgen"
	"github.com/graphwork/taskgraphd/internal/prompts"
	"github.com/graphwork/taskgraphd/internal/store"
	"github.com/graphwork/taskgraphd/internal/types"
)

// Engine wires the store, config, and dependency engine together for
// task-level operations. Clock is overridable so tests control time.
type Engine struct {
	store *store.Store
	cfg   *config.Config
	deps  *depengine.Engine
	Clock func() time.Time
}

func New(s *store.Store, cfg *config.Config, deps *depengine.Engine) *Engine {
	return &Engine{store: s, cfg: cfg, deps: deps, Clock: func() time.Time { return time.Now().UTC() }}
}

// CreateInput describes a task to create.
type CreateInput struct {
	Title       string
	Description string
	Priority    int
	Points      *int
	IssueType   types.IssueType
	Phase       string
	Tags        []string
	NeededTags  []string
	WantedTags  []string
	ParentID    string
	ExternalRef *string
}

// Create inserts a new task in the configured initial state. If an open,
// non-deleted task already shares the same content hash, its id is
// returned instead of creating a duplicate.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*types.Task, error) {
	if in.Title == "" {
		return nil, types.NewError(types.CodeMissingRequiredField, "title is required").WithField("title")
	}
	if in.IssueType == "" {
		in.IssueType = types.TypeTask
	}
	if !in.IssueType.IsValid() {
		return nil, types.NewError(types.CodeInvalidFieldValue, "unknown issue type %q", in.IssueType).WithField("issue_type")
	}
	if in.Phase != "" {
		if _, err := config.CheckUnknownValue(e.cfg.UnknownPhasePolicy, "phase", in.Phase, e.cfg.Phases); err != nil {
			return nil, err
		}
	}
	for _, tag := range in.Tags {
		if _, err := config.CheckUnknownValue(e.cfg.UnknownTagPolicy, "tag", tag, e.cfg.Tags); err != nil {
			return nil, err
		}
	}

	now := e.Clock()
	newID, err := idgen.NewUUID()
	if err != nil {
		return nil, types.NewError(types.CodeInternalError, "generate task id: %v", err)
	}
	t := &types.Task{
		ID:          newID,
		Title:       in.Title,
		Description: in.Description,
		Status:      types.Status(e.cfg.Initial),
		Phase:       in.Phase,
		Priority:    in.Priority,
		Points:      in.Points,
		IssueType:   in.IssueType,
		Tags:        in.Tags,
		NeededTags:  in.NeededTags,
		WantedTags:  in.WantedTags,
		ParentID:    in.ParentID,
		ExternalRef: in.ExternalRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.ContentHash = t.ComputeContentHash()

	if existingID, err := e.store.FindByContentHash(ctx, t.ContentHash); err != nil {
		return nil, err
	} else if existingID != "" {
		return e.store.GetTask(ctx, existingID)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.InsertTask(ctx, t); err != nil {
		return nil, err
	}
	if e.cfg.IsTimed(t.Status) {
		if err := e.store.OpenLedgerInterval(ctx, t.ID, "", "", string(t.Status), now); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// UpdateInput is the unified patch applied to one task: every field is a
// pointer so nil means "leave unchanged".
type UpdateInput struct {
	Title          *string
	Description    *string
	Status         *types.Status
	Phase          *string
	Priority       *int
	Points         **int
	CurrentThought **string
	Tags           []string
	CallerWorkerID string // who is making this change; owner on claim, actor in the ledger
	Force          bool   // bypasses ownership contention and the completion-blocker gate, not the tag/cap/start-blocker checks
}

// Update applies in to the task identified by id as a single transition,
// enforcing ownership, the state machine, tag/claim-cap eligibility, the
// dependency-completion gate, and the ledger's open/close interval
// bookkeeping — the single pivot that claim and complete are sugar over
// (disconnect-release in internal/workers writes through the store
// directly). The second return value is
// the ordered transition-prompt trigger list for this change (§6); it is
// empty when neither status nor phase changed. The third return value
// reports whether anything about the task actually changed — false means
// no store write, ledger row, or event happened.
func (e *Engine) Update(ctx context.Context, id string, in UpdateInput) (*types.Task, []string, bool, error) {
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, nil, false, err
	}
	if t.IsTombstone() {
		return nil, nil, false, types.NewError(types.CodeInvalidState, "task %s is tombstoned", id).WithField("id")
	}

	if t.OwnerWorker != nil && *t.OwnerWorker != "" &&
		*t.OwnerWorker != in.CallerWorkerID && !in.Force {
		return nil, nil, false, types.NewError(types.CodeNotOwner,
			"task %s is owned by %s", id, *t.OwnerWorker).WithField("owner_worker")
	}

	now := e.Clock()
	prevStatus := t.Status
	prevPhase := t.Phase
	changed := false

	if in.Title != nil && *in.Title != t.Title {
		t.Title = *in.Title
		changed = true
	}
	if in.Description != nil && *in.Description != t.Description {
		t.Description = *in.Description
		changed = true
	}
	if in.Phase != nil {
		if _, err := config.CheckUnknownValue(e.cfg.UnknownPhasePolicy, "phase", *in.Phase, e.cfg.Phases); err != nil {
			return nil, nil, false, err
		}
		if *in.Phase != t.Phase {
			t.Phase = *in.Phase
			changed = true
		}
	}
	if in.Priority != nil && *in.Priority != t.Priority {
		t.Priority = *in.Priority
		changed = true
	}
	if in.Points != nil && !intPtrEqual(*in.Points, t.Points) {
		t.Points = *in.Points
		changed = true
	}
	if in.CurrentThought != nil && !stringPtrEqual(*in.CurrentThought, t.CurrentThought) {
		t.CurrentThought = *in.CurrentThought
		changed = true
	}
	if in.Tags != nil {
		for _, tag := range in.Tags {
			if _, err := config.CheckUnknownValue(e.cfg.UnknownTagPolicy, "tag", tag, e.cfg.Tags); err != nil {
				return nil, nil, false, err
			}
		}
		if !slices.Equal(in.Tags, t.Tags) {
			t.Tags = in.Tags
			changed = true
		}
	}

	if in.Status != nil && *in.Status != prevStatus {
		if !e.cfg.CanTransition(prevStatus, *in.Status) {
			return nil, nil, false, types.NewError(types.CodeInvalidState, "cannot transition %s -> %s", prevStatus, *in.Status).WithField("status")
		}
		changed = true

		enteringTimed := e.cfg.IsTimed(*in.Status)
		leavingTimed := e.cfg.IsTimed(prevStatus) && !enteringTimed

		if e.cfg.IsTimed(prevStatus) {
			open, err := e.store.OpenLedgerRow(ctx, t.ID)
			if err != nil {
				return nil, nil, false, err
			}
			if open != nil {
				t.TimeActualMs += now.Sub(open.EnteredAt).Milliseconds()
			}
		}

		if enteringTimed {
			worker, err := e.store.GetWorker(ctx, in.CallerWorkerID)
			if err != nil {
				return nil, nil, false, types.NewError(types.CodeWorkerNotFound, "worker %s not registered", in.CallerWorkerID).WithField("worker_id")
			}
			if !tagsSatisfy(worker.Tags, t.NeededTags) {
				return nil, nil, false, types.NewError(types.CodeTagMismatch,
					"worker %s lacks required tags for task %s", worker.ID, id).WithField("needed_tags")
			}
			if worker.MaxClaims > 0 && worker.ClaimCount >= worker.MaxClaims {
				return nil, nil, false, types.NewError(types.CodeClaimLimitExceeded,
					"worker %s is at its claim limit (%d)", worker.ID, worker.MaxClaims).WithField("max_claims")
			}
			ready, err := e.deps.IsReady(ctx, t)
			if err != nil {
				return nil, nil, false, err
			}
			if !ready {
				return nil, nil, false, types.NewError(types.CodeDependencyNotSatisfied,
					"task %s has unsatisfied start blockers", id).WithField("status")
			}
			owner := worker.ID
			t.OwnerWorker = &owner
			t.ClaimedAt = &now
		} else if leavingTimed {
			t.OwnerWorker = nil
			t.ClaimedAt = nil
		}

		if e.cfg.IsTerminal(*in.Status) {
			completable, err := e.deps.IsCompletable(ctx, t)
			if err != nil {
				return nil, nil, false, err
			}
			if !completable && !in.Force {
				return nil, nil, false, types.NewError(types.CodeDependencyNotSatisfied, "task %s has unsatisfied completion blockers", id).WithField("status")
			}
		}

		t.Status = *in.Status
		if e.cfg.IsTerminal(t.Status) {
			t.ClosedAt = &now
		}
	}

	if !changed {
		return t, nil, false, nil
	}

	t.UpdatedAt = now
	t.ContentHash = t.ComputeContentHash()

	if err := t.Validate(); err != nil {
		return nil, nil, false, err
	}
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return nil, nil, false, err
	}

	if t.Status != prevStatus {
		if err := e.store.CloseLedgerInterval(ctx, t.ID, now); err != nil {
			return nil, nil, false, err
		}
		if e.cfg.IsTimed(t.Status) {
			if err := e.store.OpenLedgerInterval(ctx, t.ID, in.CallerWorkerID, string(prevStatus), string(t.Status), now); err != nil {
				return nil, nil, false, err
			}
		}
	}
	triggers := prompts.GetTransitionTriggers(string(prevStatus), prevPhase, string(t.Status), t.Phase)
	return t, triggers, true, nil
}

// tagsSatisfy reports whether have is a superset of need.
func tagsSatisfy(have, need []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, n := range need {
		if !set[n] {
			return false
		}
	}
	return true
}

// intPtrEqual reports whether a and b point to the same int value, treating
// two nil pointers as equal.
func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// stringPtrEqual reports whether a and b point to the same string value,
// treating two nil pointers as equal.
func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Claim assigns workerID as owner and transitions the task into the first
// configured timed state, the sugar operation over Update for the common
// case of a worker picking up ready work.
func (e *Engine) Claim(ctx context.Context, taskID, workerID string) (*types.Task, []string, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if t.OwnerWorker != nil && *t.OwnerWorker != "" && *t.OwnerWorker != workerID {
		return nil, nil, types.NewError(types.CodeAlreadyClaimed, "task %s already claimed by %s", taskID, *t.OwnerWorker).WithField("owner_worker")
	}
	timedState, err := e.cfg.FirstTimedState()
	if err != nil {
		return nil, nil, err
	}
	status := types.Status(timedState)
	claimed, triggers, _, err := e.Update(ctx, taskID, UpdateInput{
		Status:         &status,
		CallerWorkerID: workerID,
	})
	return claimed, triggers, err
}

// Complete transitions a claimed task to the nearest terminal state
// reachable from its current status, the sugar operation for finishing
// work.
func (e *Engine) Complete(ctx context.Context, taskID, workerID string) (*types.Task, []string, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	terminal, err := e.cfg.FirstTerminalStateFrom(t.Status)
	if err != nil {
		return nil, nil, err
	}
	status := types.Status(terminal)
	done, triggers, _, err := e.Update(ctx, taskID, UpdateInput{Status: &status, CallerWorkerID: workerID})
	return done, triggers, err
}

// SoftDelete marks a task as a tombstone rather than removing its row, so
// it remains visible to history and resolvable by id until the reaper
// purges it past its retention TTL.
func (e *Engine) SoftDelete(ctx context.Context, taskID string) (*types.Task, error) {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	now := e.Clock()
	t.Status = types.StatusTombstone
	t.DeletedAt = &now
	t.UpdatedAt = now
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	if err := e.store.CloseLedgerInterval(ctx, t.ID, now); err != nil {
		return nil, err
	}
	return t, nil
}

// ReapExpiredTombstones hard-deletes tombstoned tasks past their TTL,
// returning the ids removed.
func (e *Engine) ReapExpiredTombstones(ctx context.Context, ttl time.Duration) ([]string, error) {
	all, err := e.store.ListTasks(ctx, types.WorkFilter{IncludeDeleted: true, Status: types.StatusTombstone})
	if err != nil {
		return nil, err
	}
	var reaped []string
	for _, t := range all {
		if t.IsExpired(ttl) {
			if err := e.store.DeleteTask(ctx, t.ID); err != nil {
				return reaped, err
			}
			reaped = append(reaped, t.ID)
		}
	}
	return reaped, nil
}
