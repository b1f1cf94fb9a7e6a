// Package tools implements the canonical operation surface named in
// spec.md §6: the single entry point every transport (unix-socket server,
// CLI, future dashboard) calls into. Service methods are the only callers that
// span multiple engines in one request — wiring the task engine, the
// dependency engine, the worker registry, the file-mark registry, the
// event bus, and the read-only query facility into one coherent API.
package tools

import (
	"context"
	"time"

	"github.com/graphwork/taskgraphd/internal/config"
	"github.com/graphwork/taskgraphd/internal/depengine"
	"github.com/graphwork/taskgraphd/internal/eventbus"
	"github.com/graphwork/taskgraphd/internal/filemarks"
	"github.com/graphwork/taskgraphd/internal/idgen"
	"github.com/graphwork/taskgraphd/internal/migration"
	"github.com/graphwork/taskgraphd/internal/query"
	"github.com/graphwork/taskgraphd/internal/snapshot"
	"github.com/graphwork/taskgraphd/internal/store"
	"github.com/graphwork/taskgraphd/internal/taskengine"
	"github.com/graphwork/taskgraphd/internal/types"
	"github.com/graphwork/taskgraphd/internal/workers"
)

// Service wires every kernel component together behind the canonical
// operation surface.
type Service struct {
	Store      *store.Store
	Config     *config.Config
	Tasks      *taskengine.Engine
	Deps       *depengine.Engine
	Workers    *workers.Registry
	Marks      *filemarks.Registry
	Events     *eventbus.Bus
	Migrations *migration.Registry
	Clock      func() time.Time
}

// New assembles a Service from an opened store and loaded config.
func New(s *store.Store, cfg *config.Config, bus *eventbus.Bus) *Service {
	deps := depengine.New(s, cfg)
	marks := filemarks.New(s)
	return &Service{
		Store:      s,
		Config:     cfg,
		Tasks:      taskengine.New(s, cfg, deps),
		Deps:       deps,
		Workers:    workers.New(s, cfg, marks),
		Marks:      marks,
		Events:     bus,
		Migrations: migration.New(),
		Clock:      time.Now,
	}
}

func (svc *Service) publish(ctx context.Context, kind eventbus.Kind, resourceURI string) {
	if svc.Events == nil {
		return
	}
	svc.Events.Publish(ctx, eventbus.Event{Kind: kind, ResourceURI: resourceURI, At: svc.Clock()})
}

// --- Worker operations ---

func (svc *Service) Connect(ctx context.Context, in workers.ConnectInput) (*types.Worker, error) {
	w, err := svc.Workers.Connect(ctx, in)
	if err != nil {
		return nil, err
	}
	svc.publish(ctx, eventbus.KindWorkerChanged, "worker://"+w.ID)
	return w, nil
}

func (svc *Service) Disconnect(ctx context.Context, workerID string, finalState types.Status) (workers.DisconnectResult, error) {
	res, err := svc.Workers.Disconnect(ctx, workerID, finalState)
	if err != nil {
		return workers.DisconnectResult{}, err
	}
	svc.publish(ctx, eventbus.KindWorkerChanged, "worker://"+workerID)
	if res.TasksReleased > 0 {
		svc.publish(ctx, eventbus.KindTaskChanged, "task://*")
	}
	if res.FilesReleased > 0 {
		svc.publish(ctx, eventbus.KindFileMarkChanged, "file://*")
	}
	return res, nil
}

func (svc *Service) ListWorkers(ctx context.Context) ([]*types.Worker, error) {
	return svc.Workers.List(ctx)
}

func (svc *Service) Heartbeat(ctx context.Context, workerID string, thought *string) error {
	return svc.Workers.Heartbeat(ctx, workerID, thought)
}

// --- Task operations ---

func (svc *Service) Create(ctx context.Context, in taskengine.CreateInput) (*types.Task, error) {
	t, err := svc.Tasks.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	svc.publish(ctx, eventbus.KindTaskChanged, "task://"+t.ID)
	return t, nil
}

// CreateTree creates a root task and then each of its direct children in
// order, setting every child's parent_id to the already-persisted root.
// Children are not nested further: only one level below the root is
// created.
func (svc *Service) CreateTree(ctx context.Context, root taskengine.CreateInput, children []taskengine.CreateInput) ([]*types.Task, error) {
	rootTask, err := svc.Create(ctx, root)
	if err != nil {
		return nil, err
	}
	out := []*types.Task{rootTask}
	for _, child := range children {
		child.ParentID = rootTask.ID
		childTask, err := svc.Create(ctx, child)
		if err != nil {
			return out, err
		}
		out = append(out, childTask)
	}
	return out, nil
}

func (svc *Service) Get(ctx context.Context, id string, includeDeleted bool) (*types.Task, error) {
	t, err := svc.Store.GetTask(ctx, id)
	if err != nil {
		return nil, types.NewError(types.CodeTaskNotFound, "task %s not found", id).WithField("id")
	}
	if !includeDeleted && (t.DeletedAt != nil || t.IsTombstone()) {
		return nil, types.NewError(types.CodeTaskNotFound, "task %s not found", id).WithField("id")
	}
	return t, nil
}

func (svc *Service) ListTasks(ctx context.Context, filter types.WorkFilter) ([]*types.Task, error) {
	return svc.Store.ListTasks(ctx, filter)
}

func (svc *Service) Update(ctx context.Context, id string, in taskengine.UpdateInput) (*TransitionResult, error) {
	t, triggers, changed, err := svc.Tasks.Update(ctx, id, in)
	if err != nil {
		return nil, err
	}
	if changed {
		svc.publish(ctx, eventbus.KindTaskChanged, "task://"+t.ID)
	}
	return &TransitionResult{Task: t, Triggers: triggers}, nil
}

// Delete soft-deletes (tombstones) a task. force allows deleting a task
// another worker currently owns.
func (svc *Service) Delete(ctx context.Context, id, callerWorkerID string, force bool) (*types.Task, error) {
	t, err := svc.Store.GetTask(ctx, id)
	if err != nil {
		return nil, types.NewError(types.CodeTaskNotFound, "task %s not found", id).WithField("id")
	}
	if t.OwnerWorker != nil && *t.OwnerWorker != "" && *t.OwnerWorker != callerWorkerID && !force {
		return nil, types.NewError(types.CodeNotOwner, "task %s is owned by %s", id, *t.OwnerWorker).WithField("owner_worker")
	}
	out, err := svc.Tasks.SoftDelete(ctx, id)
	if err != nil {
		return nil, err
	}
	svc.publish(ctx, eventbus.KindTaskChanged, "task://"+id)
	return out, nil
}

func (svc *Service) Claim(ctx context.Context, taskID, workerID string) (*TransitionResult, error) {
	t, triggers, err := svc.Tasks.Claim(ctx, taskID, workerID)
	if err != nil {
		return nil, err
	}
	svc.publish(ctx, eventbus.KindTaskChanged, "task://"+t.ID)
	return &TransitionResult{Task: t, Triggers: triggers}, nil
}

func (svc *Service) Complete(ctx context.Context, taskID, workerID string) (*TransitionResult, error) {
	t, triggers, err := svc.Tasks.Complete(ctx, taskID, workerID)
	if err != nil {
		return nil, err
	}
	svc.publish(ctx, eventbus.KindTaskChanged, "task://"+t.ID)
	if len(t.ParentID) > 0 {
		svc.publish(ctx, eventbus.KindDependencyChanged, "task://"+t.ID)
	}
	return &TransitionResult{Task: t, Triggers: triggers}, nil
}

func (svc *Service) Think(ctx context.Context, taskID, workerID, thought string) (*types.Task, error) {
	t, _, changed, err := svc.Tasks.Update(ctx, taskID, taskengine.UpdateInput{
		CurrentThought: ptr(&thought),
		CallerWorkerID: workerID,
	})
	if err != nil {
		return nil, err
	}
	if changed {
		svc.publish(ctx, eventbus.KindTaskChanged, "task://"+t.ID)
	}
	return t, nil
}

// TransitionResult wraps a task mutation that may have crossed a
// state/phase boundary together with the ordered transition-prompt
// trigger list (spec.md §6) for delivery by the prompts subsystem.
type TransitionResult struct {
	Task     *types.Task `json:"task"`
	Triggers []string    `json:"triggers,omitempty"`
}

func (svc *Service) LogTime(ctx context.Context, taskID string, ms int64) (*types.Task, error) {
	t, err := svc.Store.GetTask(ctx, taskID)
	if err != nil {
		return nil, types.NewError(types.CodeTaskNotFound, "task %s not found", taskID).WithField("id")
	}
	t.TimeActualMs += ms
	t.UpdatedAt = svc.Clock()
	if err := svc.Store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	svc.publish(ctx, eventbus.KindTaskChanged, "task://"+taskID)
	return t, nil
}

func (svc *Service) LogCost(ctx context.Context, taskID string, usd float64, tokens int64) (*types.Task, error) {
	t, err := svc.Store.GetTask(ctx, taskID)
	if err != nil {
		return nil, types.NewError(types.CodeTaskNotFound, "task %s not found", taskID).WithField("id")
	}
	t.CostUSD += usd
	t.TokenCount += tokens
	t.UpdatedAt = svc.Clock()
	if err := svc.Store.UpdateTask(ctx, t); err != nil {
		return nil, err
	}
	svc.publish(ctx, eventbus.KindTaskChanged, "task://"+taskID)
	return t, nil
}

// --- Dependency operations ---

func (svc *Service) Block(ctx context.Context, edge types.DependencyEdge) error {
	if err := svc.Deps.AddEdge(ctx, edge); err != nil {
		return err
	}
	svc.publish(ctx, eventbus.KindDependencyChanged, "task://"+edge.To)
	return nil
}

func (svc *Service) Unblock(ctx context.Context, edge types.DependencyEdge) error {
	if err := svc.Deps.RemoveEdge(ctx, edge); err != nil {
		return err
	}
	svc.publish(ctx, eventbus.KindDependencyChanged, "task://"+edge.To)
	return nil
}

// Ready lists ready tasks matching filter. When workerID is non-empty, it
// additionally requires the worker's tags to satisfy each task's
// needed_tags and ranks wanted_tags matches higher (spec.md §4.4).
func (svc *Service) Ready(ctx context.Context, filter types.WorkFilter, workerID string) ([]*types.Task, error) {
	candidates, err := svc.Store.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	if workerID == "" {
		return svc.Deps.ReadyTasks(ctx, candidates)
	}
	worker, err := svc.Store.GetWorker(ctx, workerID)
	if err != nil {
		return nil, types.NewError(types.CodeWorkerNotFound, "worker %s not found", workerID).WithField("worker")
	}
	return svc.Deps.ReadyTasksForWorker(ctx, candidates, worker)
}

// Blocked returns every task matching filter that has unsatisfied
// start-blockers, decorated with those blockers; the task's own status is
// not checked.
func (svc *Service) Blocked(ctx context.Context, filter types.WorkFilter) ([]*types.BlockedIssue, error) {
	candidates, err := svc.Store.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	var out []*types.BlockedIssue
	for _, t := range candidates {
		blockers, err := svc.Deps.Blockers(ctx, t)
		if err != nil {
			return nil, err
		}
		if len(blockers) == 0 {
			continue
		}
		ids := make([]string, len(blockers))
		for i, b := range blockers {
			ids[i] = b.ID
		}
		out = append(out, &types.BlockedIssue{Task: *t, BlockedByCount: len(blockers), BlockedBy: ids})
	}
	return out, nil
}

// --- File-mark operations ---

func (svc *Service) MarkFile(ctx context.Context, path, workerID string) (filemarks.MarkResult, error) {
	res, err := svc.Marks.Mark(ctx, path, workerID)
	if err != nil {
		return filemarks.MarkResult{}, err
	}
	svc.publish(ctx, eventbus.KindFileMarkChanged, "file://"+path)
	return res, nil
}

func (svc *Service) UnmarkFile(ctx context.Context, path, workerID string) error {
	if err := svc.Marks.Unmark(ctx, path, workerID); err != nil {
		return err
	}
	svc.publish(ctx, eventbus.KindFileMarkChanged, "file://"+path)
	return nil
}

func (svc *Service) ListMarks(ctx context.Context, path, workerID string) ([]types.FileMark, error) {
	return svc.Marks.List(ctx, path, workerID)
}

// --- Attachment operations ---

const feedbackAttachmentName = "feedback"

func (svc *Service) Attach(ctx context.Context, taskID, name, mimeType, content string, isExternal bool) (*types.Attachment, error) {
	if _, err := svc.Get(ctx, taskID, false); err != nil {
		return nil, err
	}
	keyDef, _ := svc.Config.AttachmentKeys[name]
	mode := keyDef.Mode
	if mode == "" {
		mode = types.AttachmentAppend
		if _, err := config.CheckUnknownValue(svc.Config.UnknownAttachmentKeyPolicy, "attachment key", name, attachmentKeyNames(svc.Config)); err != nil {
			return nil, err
		}
	}

	if mode == types.AttachmentReplace {
		if err := svc.Store.ClearAttachmentsByName(ctx, taskID, name); err != nil {
			return nil, err
		}
	}
	orderIdx, err := svc.Store.NextOrderIndex(ctx, taskID, name)
	if err != nil {
		return nil, err
	}
	id, err := idgen.NewUUID()
	if err != nil {
		return nil, types.NewError(types.CodeInternalError, "generate attachment id: %v", err)
	}
	a := &types.Attachment{
		ID: id, TaskID: taskID, Name: name, MimeType: mimeType, Mode: mode,
		Content: content, IsExternal: isExternal, OrderIndex: orderIdx, CreatedAt: svc.Clock(),
	}
	if err := svc.Store.InsertAttachment(ctx, a); err != nil {
		return nil, err
	}
	svc.publish(ctx, eventbus.KindAttachmentChanged, "task://"+taskID)
	return a, nil
}

func (svc *Service) ListAttachments(ctx context.Context, taskID string) ([]*types.Attachment, error) {
	return svc.Store.ListAttachments(ctx, taskID)
}

func (svc *Service) Detach(ctx context.Context, attachmentID string) error {
	if err := svc.Store.DeleteAttachment(ctx, attachmentID); err != nil {
		return types.NewError(types.CodeAttachmentNotFound, "attachment %s not found", attachmentID).WithField("id")
	}
	svc.publish(ctx, eventbus.KindAttachmentChanged, "attachment://"+attachmentID)
	return nil
}

// GiveFeedback and ListFeedback are thin sugar over the attachment store:
// feedback is metadata text on a task, modeled as an append-mode
// attachment under the reserved "feedback" key rather than a dedicated
// table.
func (svc *Service) GiveFeedback(ctx context.Context, taskID, text string) (*types.Attachment, error) {
	return svc.Attach(ctx, taskID, feedbackAttachmentName, "text/plain", text, false)
}

func (svc *Service) ListFeedback(ctx context.Context, taskID string) ([]*types.Attachment, error) {
	all, err := svc.Store.ListAttachments(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var out []*types.Attachment
	for _, a := range all {
		if a.Name == feedbackAttachmentName {
			out = append(out, a)
		}
	}
	return out, nil
}

// --- Read-only query ---

func (svc *Service) Query(ctx context.Context, in query.Input) (*query.Result, error) {
	return query.Run(ctx, svc.Store.DB(), in)
}

// --- Snapshot ---

func (svc *Service) Export(ctx context.Context, exportedBy string) (*snapshot.Snapshot, error) {
	return snapshot.Export(ctx, svc.Store, exportedBy)
}

func (svc *Service) Import(ctx context.Context, snap *snapshot.Snapshot, opts snapshot.ImportOptions) (*snapshot.ImportResult, error) {
	return snapshot.Import(ctx, svc.Store, snap, svc.Migrations, opts)
}

func ptr(p *string) **string { return &p }

func attachmentKeyNames(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.AttachmentKeys))
	for name := range cfg.AttachmentKeys {
		names = append(names, name)
	}
	return names
}
