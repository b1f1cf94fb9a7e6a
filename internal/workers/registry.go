// Package workers implements the worker lifecycle: connect, heartbeat,
// thought updates, staleness, and disconnect recovery. It sits on top of
// internal/store the same way internal/taskengine does, and is the only
// caller that releases a worker's claims and file marks together (as a
// sequence of store calls, not one transaction).
package workers

import (
	"context"
	"time"

	"github.com/graphwork/taskgraphd/internal/config"
	"github.com/graphwork/taskgraphd/internal/filemarks"
	"github.com/graphwork/taskgraphd/internal/idgen"
	"github.com/graphwork/taskgraphd/internal/store"
	"github.com/graphwork/taskgraphd/internal/types"
)

// Registry wires a Store and Config together for worker-level operations.
type Registry struct {
	store *store.Store
	cfg   *config.Config
	marks *filemarks.Registry
	Clock func() time.Time
}

func New(s *store.Store, cfg *config.Config, marks *filemarks.Registry) *Registry {
	return &Registry{store: s, cfg: cfg, marks: marks, Clock: time.Now}
}

// ConnectInput describes a worker registration request.
type ConnectInput struct {
	ID        string // optional; generated if empty
	Tags      []string
	Workflow  string
	MaxClaims int
	Force     bool
}

// DisconnectResult reports what a disconnect released.
type DisconnectResult struct {
	TasksReleased int
	FilesReleased int
}

// Connect registers a new worker, or re-registers an existing id when
// Force is set (releasing its prior claims and file marks first, the same
// recovery path Disconnect uses). A registration attempt against an
// existing id without Force fails AlreadyExists.
func (r *Registry) Connect(ctx context.Context, in ConnectInput) (*types.Worker, error) {
	now := r.Clock()

	if in.ID != "" {
		existing, err := r.store.GetWorker(ctx, in.ID)
		if err == nil && existing != nil {
			if !in.Force {
				return nil, types.NewError(types.CodeAlreadyExists,
					"worker %s is already registered", in.ID).WithField("id")
			}
			if _, err := r.releaseAll(ctx, in.ID, types.Status(r.cfg.DisconnectState), now); err != nil {
				return nil, err
			}
		}
	}

	id := in.ID
	if id == "" {
		var err error
		id, err = idgen.NewUUID()
		if err != nil {
			return nil, types.NewError(types.CodeInternalError, "generate worker id: %v", err)
		}
	}

	maxClaims := in.MaxClaims
	if maxClaims <= 0 {
		maxClaims = r.cfg.DefaultMaxClaims
	}

	w := &types.Worker{
		ID:            id,
		Tags:          in.Tags,
		Workflow:      in.Workflow,
		MaxClaims:     maxClaims,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	if err := r.store.UpsertWorker(ctx, w); err != nil {
		return nil, err
	}
	return r.store.GetWorker(ctx, id)
}

// Heartbeat refreshes a worker's last_heartbeat and, if provided, its
// current_thought. Returns WorkerNotFound if the worker isn't registered.
func (r *Registry) Heartbeat(ctx context.Context, workerID string, thought *string) error {
	if err := r.store.Heartbeat(ctx, workerID, r.Clock(), thought); err != nil {
		return notFoundToWorkerError(workerID, err)
	}
	return nil
}

// Get loads one worker's registration, including its derived claim count.
func (r *Registry) Get(ctx context.Context, id string) (*types.Worker, error) {
	w, err := r.store.GetWorker(ctx, id)
	if err != nil {
		return nil, notFoundToWorkerError(id, err)
	}
	return w, nil
}

// List returns every registered worker.
func (r *Registry) List(ctx context.Context) ([]*types.Worker, error) {
	return r.store.ListWorkers(ctx)
}

// IsStale reports whether worker w has gone quiet past the configured
// stale timeout. Staleness never auto-releases; a caller can reclaim the
// id with Force on Connect, which releases the prior claims.
func (r *Registry) IsStale(w *types.Worker) bool {
	return w.IsStale(r.Clock(), r.cfg.StaleTimeout())
}

// Disconnect releases every task the worker owns (closing ledger
// intervals, accumulating time_actual_ms, and setting finalState), releases
// every file mark it holds, and removes its registration. finalState
// defaults to the configured disconnect_state and must not be a timed
// state.
func (r *Registry) Disconnect(ctx context.Context, workerID string, finalState types.Status) (DisconnectResult, error) {
	if finalState == "" {
		finalState = types.Status(r.cfg.DisconnectState)
	}
	if r.cfg.IsTimed(finalState) {
		return DisconnectResult{}, types.NewError(types.CodeInvalidFieldValue,
			"final_state %q must not be a timed state", finalState).WithField("final_state")
	}
	if _, ok := r.cfg.States[string(finalState)]; !ok {
		return DisconnectResult{}, types.NewError(types.CodeInvalidFieldValue,
			"final_state %q does not exist", finalState).WithField("final_state")
	}

	if _, err := r.store.GetWorker(ctx, workerID); err != nil {
		return DisconnectResult{}, notFoundToWorkerError(workerID, err)
	}

	now := r.Clock()
	return r.releaseAll(ctx, workerID, finalState, now)
}

// releaseAll performs the shared release-and-deregister sequence used by
// both Disconnect and a forced re-Connect.
func (r *Registry) releaseAll(ctx context.Context, workerID string, finalState types.Status, now time.Time) (DisconnectResult, error) {
	owned, err := r.store.ListTasks(ctx, types.WorkFilter{Assignee: &workerID})
	if err != nil {
		return DisconnectResult{}, err
	}

	for _, t := range owned {
		open, err := r.store.OpenLedgerRow(ctx, t.ID)
		if err != nil {
			return DisconnectResult{}, err
		}
		if open != nil {
			t.TimeActualMs += now.Sub(open.EnteredAt).Milliseconds()
		}
		if err := r.store.CloseLedgerInterval(ctx, t.ID, now); err != nil {
			return DisconnectResult{}, err
		}
		t.Status = finalState
		t.OwnerWorker = nil
		t.ClaimedAt = nil
		t.UpdatedAt = now
		if r.cfg.IsTerminal(finalState) {
			t.ClosedAt = &now
		}
		if err := r.store.UpdateTask(ctx, t); err != nil {
			return DisconnectResult{}, err
		}
	}

	filesReleased := 0
	if r.marks != nil {
		filesReleased, err = r.marks.ReleaseByWorker(ctx, workerID)
		if err != nil {
			return DisconnectResult{}, err
		}
	}

	if err := r.store.DisconnectWorker(ctx, workerID); err != nil {
		return DisconnectResult{}, notFoundToWorkerError(workerID, err)
	}

	return DisconnectResult{TasksReleased: len(owned), FilesReleased: filesReleased}, nil
}

func notFoundToWorkerError(id string, err error) error {
	if _, ok := types.AsError(err); ok {
		return err
	}
	return types.NewError(types.CodeWorkerNotFound, "worker %s not found", id).WithField("id")
}
