// Package types holds the data model shared across the coordination
// kernel: tasks, dependency edges, workers, file marks, attachments, and
// ledger rows, plus the stable error taxonomy in errors.go.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Status names a task's position in the config-driven state machine. It is
// an opaque string validated against the loaded config, not a closed Go
// enum — state names are data (see internal/config).
type Status string

// Built-in status names. Installations may add custom states via config;
// these are the ones the kernel itself ever assigns without being told to.
const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
	StatusTombstone  Status = "tombstone"
)

// IssueType categorizes a task for filtering and reporting. Like Status,
// installations may extend this set via config.
type IssueType string

const (
	TypeBug     IssueType = "bug"
	TypeFeature IssueType = "feature"
	TypeTask    IssueType = "task"
	TypeEpic    IssueType = "epic"
	TypeChore   IssueType = "chore"
)

func (t IssueType) IsValid() bool {
	switch t {
	case TypeBug, TypeFeature, TypeTask, TypeEpic, TypeChore:
		return true
	}
	return false
}

// DependencyType names a built-in edge kind recognized without config.
// Installations may define additional kinds (see internal/config).
type DependencyType string

const (
	DepBlocks         DependencyType = "blocks"
	DepRelated        DependencyType = "related"
	DepParentChild    DependencyType = "parent-child"
	DepDiscoveredFrom DependencyType = "discovered-from"
)

func (d DependencyType) IsValid() bool {
	switch d {
	case DepBlocks, DepRelated, DepParentChild, DepDiscoveredFrom:
		return true
	}
	return false
}

// Display is the rendering orientation of a dependency kind.
type Display string

const (
	DisplayHorizontal Display = "horizontal"
	DisplayVertical   Display = "vertical"
)

// Blocks names what a dependency kind blocks on its predecessor's state.
type Blocks string

const (
	BlocksNone       Blocks = "none"
	BlocksStart      Blocks = "start"
	BlocksCompletion Blocks = "completion"
)

// SortPolicy controls ready-work ordering.
type SortPolicy string

const (
	SortPolicyHybrid   SortPolicy = "hybrid"
	SortPolicyPriority SortPolicy = "priority"
	SortPolicyOldest   SortPolicy = "oldest"
)

func (p SortPolicy) IsValid() bool {
	switch p {
	case SortPolicyHybrid, SortPolicyPriority, SortPolicyOldest, SortPolicy(""):
		return true
	}
	return false
}

// Tombstone retention.
const (
	DefaultTombstoneTTL = 30 * 24 * time.Hour
	MinTombstoneTTL     = 7 * 24 * time.Hour
	ClockSkewGrace       = 1 * time.Hour
)

// Task is the coordinator's unit of work. Validate checks the invariants
// expressible without the config model (state-machine membership is
// checked by internal/config).
type Task struct {
	ID          string
	Title       string
	Description string
	Status      Status
	Phase       string
	Priority    int
	Points      *int
	IssueType   IssueType

	TimeEstimateMs int64
	TimeActualMs   int64

	OwnerWorker   *string
	ClaimedAt     *time.Time
	CurrentThought *string

	ParentID string

	Tags       []string // categorical
	NeededTags []string
	WantedTags []string

	CostUSD     float64
	TokenCount  int64

	ContentHash string
	ExternalRef *string

	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
	DeletedAt *time.Time
}

// Validate checks field-level invariants that don't require the config
// model (title length, priority range, closed_at consistency, ...).
// Status/IssueType membership beyond the built-ins requires config and is
// checked by ValidateWithCustomStatuses.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return NewError(CodeMissingRequiredField, "title is required").WithField("title")
	}
	if len(t.Title) > 500 {
		return NewError(CodeInvalidFieldValue, "title must be 500 characters or less").WithField("title")
	}
	if t.Priority < 0 || t.Priority > 4 {
		return NewError(CodeInvalidFieldValue, "priority must be between 0 and 4").WithField("priority")
	}
	if !t.Status.IsValid() {
		return NewError(CodeInvalidFieldValue, "invalid status %q", t.Status).WithField("status")
	}
	if t.IssueType != "" && !t.IssueType.IsValid() {
		return NewError(CodeInvalidFieldValue, "invalid issue type %q", t.IssueType).WithField("issue_type")
	}
	if t.Points != nil && *t.Points < 0 {
		return NewError(CodeInvalidFieldValue, "points cannot be negative").WithField("points")
	}
	if t.Status == StatusClosed && t.ClosedAt == nil {
		return NewError(CodeInvalidFieldValue, "closed issues must have closed_at timestamp").WithField("closed_at")
	}
	if t.Status != StatusClosed && t.ClosedAt != nil {
		return NewError(CodeInvalidFieldValue, "non-closed issues cannot have closed_at timestamp").WithField("closed_at")
	}
	return nil
}

// ValidateWithCustomStatuses additionally accepts any status named in
// customStatuses, for installations whose config defines states beyond the
// built-ins.
func (t *Task) ValidateWithCustomStatuses(customStatuses []string) error {
	if !t.Status.IsValidWithCustom(customStatuses) {
		return NewError(CodeInvalidFieldValue, "invalid status %q", t.Status).WithField("status")
	}
	saved := t.Status
	t.Status = StatusOpen // bypass the built-in check inside Validate; already checked above
	err := t.Validate()
	t.Status = saved
	return err
}

func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusClosed, StatusTombstone:
		return true
	}
	return false
}

// IsValidWithCustom reports whether s is a built-in status or named in
// customStatuses (the config-declared extra states for this installation).
func (s Status) IsValidWithCustom(customStatuses []string) bool {
	if s.IsValid() {
		return true
	}
	for _, c := range customStatuses {
		if string(s) == c {
			return true
		}
	}
	return false
}

// IsTombstone reports whether the task is a soft-deleted tombstone.
func (t *Task) IsTombstone() bool {
	return t.Status == StatusTombstone
}

// IsExpired reports whether a tombstoned task is past its retention TTL
// (with a clock-skew grace window), and so eligible for hard deletion by
// the reaper. ttl <= 0 uses DefaultTombstoneTTL.
func (t *Task) IsExpired(ttl time.Duration) bool {
	if !t.IsTombstone() || t.DeletedAt == nil {
		return false
	}
	if ttl <= 0 {
		ttl = DefaultTombstoneTTL
	}
	return time.Since(*t.DeletedAt) > ttl+ClockSkewGrace
}

// ComputeContentHash hashes the durable content of a task (title,
// description, priority, type, estimate, external ref) but not its id or
// timestamps, so identical-content tasks hash identically regardless of
// when or as what id they were created. Used for create-time dedup and by
// snapshot round-trip tests.
func (t *Task) ComputeContentHash() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s\x00", t.Title, t.Description, t.Priority, t.IssueType)
	if t.Points != nil {
		fmt.Fprintf(h, "%d", *t.Points)
	}
	h.Write([]byte{0})
	if t.ExternalRef != nil {
		fmt.Fprintf(h, "%s", *t.ExternalRef)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ParseHierarchicalID splits a dotted task id like "proj-42.1.3" into its
// root prefix ("proj-42"), immediate parent id ("proj-42.1"), and depth (2).
// depth is 0 for a root id (no dots).
func ParseHierarchicalID(id string) (prefix, parentID string, depth int) {
	parts := strings.Split(id, ".")
	if len(parts) == 1 {
		return id, "", 0
	}
	prefix = parts[0]
	depth = len(parts) - 1
	parentID = strings.Join(parts[:len(parts)-1], ".")
	return prefix, parentID, depth
}

// DependencyEdge is a directed edge between two tasks carrying a named
// kind. Uniqueness on (From, To, Kind) and acyclicity of the blocks!=none
// subgraph are enforced by internal/depengine + internal/store.
type DependencyEdge struct {
	From string
	To   string
	Kind string
}

// Worker is an actor registered with the coordinator.
type Worker struct {
	ID             string
	Tags           []string
	Workflow       string
	MaxClaims      int
	ClaimCount     int // derived, not stored
	CurrentThought *string
	RegisteredAt   time.Time
	LastHeartbeat  time.Time
}

// IsStale reports whether the worker's last heartbeat predates now by more
// than staleTimeout. Staleness licenses forced reclaim; it never
// auto-releases.
func (w *Worker) IsStale(now time.Time, staleTimeout time.Duration) bool {
	return now.Sub(w.LastHeartbeat) > staleTimeout
}

// FileMark is an advisory (path, worker) association.
type FileMark struct {
	Path      string
	WorkerID  string
	MarkedAt  time.Time
	IsFirst   bool // true if this worker was the first to mark this path
}

// AttachmentMode controls whether same-key attachments accumulate or
// overwrite.
type AttachmentMode string

const (
	AttachmentAppend  AttachmentMode = "append"
	AttachmentReplace AttachmentMode = "replace"
)

// Attachment is a named piece of metadata (or reference to an external
// payload) attached to a task.
type Attachment struct {
	ID         string
	TaskID     string
	Name       string
	MimeType   string
	Mode       AttachmentMode
	Content    string // inline text, or an external path reference
	IsExternal bool
	OrderIndex int
	CreatedAt  time.Time
}

// LedgerRow is one append-only interval of a task's occupancy of a timed
// state. ExitedAt is nil while the interval is open; exactly one open row
// may exist per task.
type LedgerRow struct {
	ID         int64
	TaskID     string
	WorkerID   string
	FromState  string
	ToState    string
	EnteredAt  time.Time
	ExitedAt   *time.Time
}

// DurationMs returns the closed interval length in milliseconds, or 0 if
// the row is still open.
func (r *LedgerRow) DurationMs() int64 {
	if r.ExitedAt == nil {
		return 0
	}
	return r.ExitedAt.Sub(r.EnteredAt).Milliseconds()
}

// WorkFilter narrows a ready/list query.
type WorkFilter struct {
	Status      Status
	Type        IssueType
	Priority    *int
	Phase       string
	Assignee    *string
	Unassigned  bool
	Tags        []string // AND semantics
	TagsAny     []string // OR semantics
	SortPolicy  SortPolicy
	Limit       int
	IncludeDeleted bool
}

// BlockedIssue decorates a Task with its unsatisfied-blocker count, for
// the `blocked` operation.
type BlockedIssue struct {
	Task
	BlockedByCount int
	BlockedBy      []string
}

// TreeNode decorates a Task with its position in a parent/child traversal.
// Neither `get` nor `create_tree` returns it; both return plain tasks.
type TreeNode struct {
	Task
	Depth     int
	Truncated bool
}

// IntPtr/TimePtr/StringPtr are small constructor helpers used throughout
// the kernel and its tests to take the address of a literal.
func IntPtr(i int) *int              { return &i }
func TimePtr(t time.Time) *time.Time { return &t }
func StringPtr(s string) *string     { return &s }
