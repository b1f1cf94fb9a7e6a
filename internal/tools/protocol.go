package tools

import (
	"encoding/json"

	"github.com/graphwork/taskgraphd/internal/query"
	"github.com/graphwork/taskgraphd/internal/types"
)

// Operation constants for every canonical tool.
const (
	OpConnect          = "connect"
	OpDisconnect       = "disconnect"
	OpListWorkers      = "list_workers"
	OpCreate           = "create"
	OpCreateTree       = "create_tree"
	OpGet              = "get"
	OpListTasks        = "list_tasks"
	OpUpdate           = "update"
	OpDelete           = "delete"
	OpClaim            = "claim"
	OpComplete         = "complete"
	OpBlock            = "block"
	OpUnblock          = "unblock"
	OpReady            = "ready"
	OpBlocked          = "blocked"
	OpThink            = "think"
	OpLogTime          = "log_time"
	OpLogCost          = "log_cost"
	OpMarkFile         = "mark_file"
	OpUnmarkFile       = "unmark_file"
	OpListMarks        = "list_marks"
	OpAttach           = "attach"
	OpListAttachments  = "list_attachments"
	OpDetach           = "detach"
	OpQuery            = "query"
	OpGiveFeedback     = "give_feedback"
	OpListFeedback     = "list_feedback"
)

// Request is the wire envelope every transport (unix socket, CLI)
// sends to the dispatcher: an operation name plus its raw arguments, along
// with caller identity used for ownership and ledger attribution.
type Request struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args"`
	WorkerID  string          `json:"worker_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Response is the wire envelope returned for every Request.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload carries the stable error taxonomy code alongside its
// message, so a caller can branch on Code without parsing prose.
type ErrorPayload struct {
	Code    types.Code `json:"code"`
	Message string     `json:"message"`
	Field   string     `json:"field,omitempty"`
}

// ConnectArgs registers a worker.
type ConnectArgs struct {
	ID        string   `json:"id,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Workflow  string   `json:"workflow,omitempty"`
	MaxClaims int      `json:"max_claims,omitempty"`
	Force     bool     `json:"force,omitempty"`
}

// DisconnectArgs releases a worker's claims and marks.
type DisconnectArgs struct {
	WorkerID   string `json:"worker_id"`
	FinalState string `json:"final_state,omitempty"`
}

// CreateArgs describes a task to create.
type CreateArgs struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	Points      *int     `json:"points,omitempty"`
	IssueType   string   `json:"issue_type,omitempty"`
	Phase       string   `json:"phase,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	NeededTags  []string `json:"needed_tags,omitempty"`
	WantedTags  []string `json:"wanted_tags,omitempty"`
	ParentID    string   `json:"parent_id,omitempty"`
	ExternalRef *string  `json:"external_ref,omitempty"`
}

// CreateTreeArgs describes a root task and its direct children, created
// atomically in one request.
type CreateTreeArgs struct {
	Root     CreateArgs   `json:"root"`
	Children []CreateArgs `json:"children,omitempty"`
}

// GetArgs looks up a single task.
type GetArgs struct {
	ID             string `json:"id"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
}

// ListTasksArgs filters the task list.
type ListTasksArgs struct {
	Status         string   `json:"status,omitempty"`
	Type           string   `json:"type,omitempty"`
	Priority       *int     `json:"priority,omitempty"`
	Phase          string   `json:"phase,omitempty"`
	Assignee       *string  `json:"assignee,omitempty"`
	Unassigned     bool     `json:"unassigned,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	TagsAny        []string `json:"tags_any,omitempty"`
	SortPolicy     string   `json:"sort_policy,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	IncludeDeleted bool     `json:"include_deleted,omitempty"`
}

// UpdateArgs is the unified patch request.
type UpdateArgs struct {
	ID             string   `json:"id"`
	Title          *string  `json:"title,omitempty"`
	Description    *string  `json:"description,omitempty"`
	Status         *string  `json:"status,omitempty"`
	Phase          *string  `json:"phase,omitempty"`
	Priority       *int     `json:"priority,omitempty"`
	// PointsSet distinguishes "clear points" (PointsSet=true, PointsValue=nil)
	// from "leave points unchanged" (PointsSet=false) — UpdateInput.Points is
	// a **int, the one field needing a set/value pair over the wire.
	PointsSet      bool     `json:"points_set,omitempty"`
	PointsValue    *int     `json:"points,omitempty"`
	CurrentThought *string  `json:"current_thought,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Force          bool     `json:"force,omitempty"`
}

// DeleteArgs soft-deletes a task.
type DeleteArgs struct {
	ID    string `json:"id"`
	Force bool   `json:"force,omitempty"`
}

// ClaimArgs claims a task for the calling worker.
type ClaimArgs struct {
	TaskID string `json:"task_id"`
}

// CompleteArgs completes a claimed task.
type CompleteArgs struct {
	TaskID string `json:"task_id"`
}

// BlockArgs/UnblockArgs add or remove a dependency edge.
type BlockArgs struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

type UnblockArgs struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// ReadyArgs reuses ListTasksArgs' filter shape, plus the optional
// requesting worker id used to check needed_tags eligibility and rank
// wanted_tags matches higher (spec.md §4.4) — kept separate from
// ListTasksArgs.Assignee, which filters by current owner and would never
// match a ready (unclaimed) task.
type ReadyArgs struct {
	ListTasksArgs
	Worker string `json:"worker,omitempty"`
}

// BlockedArgs reuses ListTasksArgs' filter shape.
type BlockedArgs struct {
	ListTasksArgs
}

// ThinkArgs records a worker's running commentary on a task.
type ThinkArgs struct {
	TaskID  string `json:"task_id"`
	Thought string `json:"thought"`
}

// LogTimeArgs/LogCostArgs record ledger-adjacent accounting directly.
type LogTimeArgs struct {
	TaskID string `json:"task_id"`
	Ms     int64  `json:"ms"`
}

type LogCostArgs struct {
	TaskID string  `json:"task_id"`
	USD    float64 `json:"usd,omitempty"`
	Tokens int64   `json:"tokens,omitempty"`
}

// MarkFileArgs/UnmarkFileArgs/ListMarksArgs cover the file-mark surface.
type MarkFileArgs struct {
	Path string `json:"path"`
}

type UnmarkFileArgs struct {
	Path string `json:"path"`
}

type ListMarksArgs struct {
	Path     string `json:"path,omitempty"`
	WorkerID string `json:"worker_id,omitempty"`
}

// AttachArgs/ListAttachmentsArgs/DetachArgs cover the attachment surface.
type AttachArgs struct {
	TaskID     string `json:"task_id"`
	Name       string `json:"name"`
	MimeType   string `json:"mime_type,omitempty"`
	Content    string `json:"content"`
	IsExternal bool   `json:"is_external,omitempty"`
}

type ListAttachmentsArgs struct {
	TaskID string `json:"task_id"`
}

type DetachArgs struct {
	AttachmentID string `json:"attachment_id"`
}

// QueryArgs is the read-only SQL request.
type QueryArgs struct {
	Statement string        `json:"statement"`
	Params    []any         `json:"params,omitempty"`
	Limit     int           `json:"limit,omitempty"`
	Format    query.Format  `json:"format,omitempty"`
}

// GiveFeedbackArgs/ListFeedbackArgs cover feedback, modeled as a reserved
// attachment key (see Service.GiveFeedback).
type GiveFeedbackArgs struct {
	TaskID string `json:"task_id"`
	Text   string `json:"text"`
}

type ListFeedbackArgs struct {
	TaskID string `json:"task_id"`
}
