package tools

import (
	"context"
	"encoding/json"

	"github.com/graphwork/taskgraphd/internal/query"
	"github.com/graphwork/taskgraphd/internal/snapshot"
	"github.com/graphwork/taskgraphd/internal/taskengine"
	"github.com/graphwork/taskgraphd/internal/types"
	"github.com/graphwork/taskgraphd/internal/workers"
)

// Dispatch routes req to the matching Service method, marshaling its
// result (or error) into the wire Response. It is the single chokepoint
// every transport funnels requests through.
func (svc *Service) Dispatch(ctx context.Context, req Request) Response {
	data, err := svc.route(ctx, req)
	if err != nil {
		return errorResponse(err)
	}
	if data == nil {
		return Response{Success: true}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return errorResponse(types.NewError(types.CodeInternalError, "marshal response: %v", err))
	}
	return Response{Success: true, Data: body}
}

func (svc *Service) route(ctx context.Context, req Request) (any, error) {
	switch req.Operation {
	case OpConnect:
		var a ConnectArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.Connect(ctx, workers.ConnectInput{ID: a.ID, Tags: a.Tags, Workflow: a.Workflow, MaxClaims: a.MaxClaims, Force: a.Force})

	case OpDisconnect:
		var a DisconnectArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		workerID := a.WorkerID
		if workerID == "" {
			workerID = req.WorkerID
		}
		return svc.Disconnect(ctx, workerID, types.Status(a.FinalState))

	case OpListWorkers:
		return svc.ListWorkers(ctx)

	case OpCreate:
		var a CreateArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.Create(ctx, createInputFromArgs(a))

	case OpCreateTree:
		var a CreateTreeArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		children := make([]taskengine.CreateInput, len(a.Children))
		for i, c := range a.Children {
			children[i] = createInputFromArgs(c)
		}
		return svc.CreateTree(ctx, createInputFromArgs(a.Root), children)

	case OpGet:
		var a GetArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.Get(ctx, a.ID, a.IncludeDeleted)

	case OpListTasks:
		var a ListTasksArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.ListTasks(ctx, workFilterFromArgs(a))

	case OpUpdate:
		var a UpdateArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.Update(ctx, a.ID, updateInputFromArgs(a, req.WorkerID))

	case OpDelete:
		var a DeleteArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.Delete(ctx, a.ID, req.WorkerID, a.Force)

	case OpClaim:
		var a ClaimArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.Claim(ctx, a.TaskID, req.WorkerID)

	case OpComplete:
		var a CompleteArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.Complete(ctx, a.TaskID, req.WorkerID)

	case OpBlock:
		var a BlockArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return nil, svc.Block(ctx, types.DependencyEdge{From: a.From, To: a.To, Kind: a.Kind})

	case OpUnblock:
		var a UnblockArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return nil, svc.Unblock(ctx, types.DependencyEdge{From: a.From, To: a.To, Kind: a.Kind})

	case OpReady:
		var a ReadyArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		workerID := a.Worker
		if workerID == "" {
			workerID = req.WorkerID
		}
		return svc.Ready(ctx, workFilterFromArgs(a.ListTasksArgs), workerID)

	case OpBlocked:
		var a BlockedArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.Blocked(ctx, workFilterFromArgs(a.ListTasksArgs))

	case OpThink:
		var a ThinkArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.Think(ctx, a.TaskID, req.WorkerID, a.Thought)

	case OpLogTime:
		var a LogTimeArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.LogTime(ctx, a.TaskID, a.Ms)

	case OpLogCost:
		var a LogCostArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.LogCost(ctx, a.TaskID, a.USD, a.Tokens)

	case OpMarkFile:
		var a MarkFileArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.MarkFile(ctx, a.Path, req.WorkerID)

	case OpUnmarkFile:
		var a UnmarkFileArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return nil, svc.UnmarkFile(ctx, a.Path, req.WorkerID)

	case OpListMarks:
		var a ListMarksArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.ListMarks(ctx, a.Path, a.WorkerID)

	case OpAttach:
		var a AttachArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.Attach(ctx, a.TaskID, a.Name, a.MimeType, a.Content, a.IsExternal)

	case OpListAttachments:
		var a ListAttachmentsArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.ListAttachments(ctx, a.TaskID)

	case OpDetach:
		var a DetachArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return nil, svc.Detach(ctx, a.AttachmentID)

	case OpQuery:
		var a QueryArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.Query(ctx, query.Input{Statement: a.Statement, Params: a.Params, Limit: a.Limit, Format: a.Format})

	case OpGiveFeedback:
		var a GiveFeedbackArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.GiveFeedback(ctx, a.TaskID, a.Text)

	case OpListFeedback:
		var a ListFeedbackArgs
		if err := unmarshal(req.Args, &a); err != nil {
			return nil, err
		}
		return svc.ListFeedback(ctx, a.TaskID)

	default:
		return nil, types.NewError(types.CodeUnknownTool, "unknown operation %q", req.Operation).WithField("operation")
	}
}

func unmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return types.NewError(types.CodeInvalidFieldValue, "invalid arguments: %v", err)
	}
	return nil
}

func createInputFromArgs(a CreateArgs) taskengine.CreateInput {
	return taskengine.CreateInput{
		Title:       a.Title,
		Description: a.Description,
		Priority:    a.Priority,
		Points:      a.Points,
		IssueType:   types.IssueType(a.IssueType),
		Phase:       a.Phase,
		Tags:        a.Tags,
		NeededTags:  a.NeededTags,
		WantedTags:  a.WantedTags,
		ParentID:    a.ParentID,
		ExternalRef: a.ExternalRef,
	}
}

func updateInputFromArgs(a UpdateArgs, callerWorkerID string) taskengine.UpdateInput {
	in := taskengine.UpdateInput{
		Title:          a.Title,
		Description:    a.Description,
		Phase:          a.Phase,
		Priority:       a.Priority,
		CurrentThought: thoughtPtr(a.CurrentThought),
		Tags:           a.Tags,
		CallerWorkerID: callerWorkerID,
		Force:          a.Force,
	}
	if a.Status != nil {
		s := types.Status(*a.Status)
		in.Status = &s
	}
	if a.PointsSet {
		v := a.PointsValue
		in.Points = &v
	}
	return in
}

// thoughtPtr lifts a *string into the **string UpdateInput.CurrentThought
// expects, or returns nil when no change was requested.
func thoughtPtr(p *string) **string {
	if p == nil {
		return nil
	}
	return &p
}

func workFilterFromArgs(a ListTasksArgs) types.WorkFilter {
	return types.WorkFilter{
		Status:         types.Status(a.Status),
		Type:           types.IssueType(a.Type),
		Priority:       a.Priority,
		Phase:          a.Phase,
		Assignee:       a.Assignee,
		Unassigned:     a.Unassigned,
		Tags:           a.Tags,
		TagsAny:        a.TagsAny,
		SortPolicy:     types.SortPolicy(a.SortPolicy),
		Limit:          a.Limit,
		IncludeDeleted: a.IncludeDeleted,
	}
}

func errorResponse(err error) Response {
	if te, ok := types.AsError(err); ok {
		return Response{Error: &ErrorPayload{Code: te.Code, Message: te.Message, Field: te.Field}}
	}
	return Response{Error: &ErrorPayload{Code: types.CodeInternalError, Message: err.Error()}}
}

// ExportSnapshot and ImportSnapshot are thin wire-level wrappers used by the
// export/import transport commands, kept out of the operation switch above
// because they move a whole-database document rather than a single
// task/worker/file argument set.
func (svc *Service) ExportSnapshot(ctx context.Context, exportedBy string) (*snapshot.Snapshot, error) {
	return svc.Export(ctx, exportedBy)
}

func (svc *Service) ImportSnapshot(ctx context.Context, snap *snapshot.Snapshot, dryRun bool) (*snapshot.ImportResult, error) {
	return svc.Import(ctx, snap, snapshot.ImportOptions{DryRun: dryRun})
}
