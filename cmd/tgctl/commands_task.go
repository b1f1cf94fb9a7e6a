package main

import (
	"github.com/spf13/cobra"

	"github.com/graphwork/taskgraphd/internal/tools"
)

var createArgs tools.CreateArgs

func bindCreateFlags(cmd *cobra.Command, a *tools.CreateArgs) {
	cmd.Flags().StringVar(&a.Title, "title", "", "task title (required)")
	cmd.Flags().StringVar(&a.Description, "description", "", "task description")
	cmd.Flags().IntVar(&a.Priority, "priority", 0, "priority")
	cmd.Flags().StringVar(&a.IssueType, "type", "", "issue type")
	cmd.Flags().StringVar(&a.Phase, "phase", "", "phase")
	cmd.Flags().StringSliceVar(&a.Tags, "tag", nil, "tags carried by the task")
	cmd.Flags().StringSliceVar(&a.NeededTags, "needed-tag", nil, "tags a claiming worker must carry")
	cmd.Flags().StringSliceVar(&a.WantedTags, "wanted-tag", nil, "tags preferred in a claiming worker")
	cmd.Flags().StringVar(&a.ParentID, "parent", "", "parent task ID")
	_ = cmd.MarkFlagRequired("title")
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task",
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpCreate, createArgs)
	},
}

var createTreeRoot tools.CreateArgs
var createTreeChildTitles []string

var createTreeCmd = &cobra.Command{
	Use:   "create-tree",
	Short: "Create a root task with a batch of children in one request",
	RunE: func(cmd *cobra.Command, args []string) error {
		children := make([]tools.CreateArgs, len(createTreeChildTitles))
		for i, t := range createTreeChildTitles {
			children[i] = tools.CreateArgs{Title: t}
		}
		return send(tools.OpCreateTree, tools.CreateTreeArgs{Root: createTreeRoot, Children: children})
	},
}

var getIncludeDeleted bool

var getCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Fetch a single task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpGet, tools.GetArgs{ID: args[0], IncludeDeleted: getIncludeDeleted})
	},
}

var listTasksArgs tools.ListTasksArgs
var listAssignee string

func bindListFilterFlags(cmd *cobra.Command, a *tools.ListTasksArgs) {
	cmd.Flags().StringVar(&a.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&a.Type, "type", "", "filter by issue type")
	cmd.Flags().StringVar(&a.Phase, "phase", "", "filter by phase")
	cmd.Flags().StringVar(&listAssignee, "assignee", "", "filter by assigned worker")
	cmd.Flags().BoolVar(&a.Unassigned, "unassigned", false, "only unassigned tasks")
	cmd.Flags().StringSliceVar(&a.Tags, "tag", nil, "require all of these tags")
	cmd.Flags().StringSliceVar(&a.TagsAny, "tag-any", nil, "require any of these tags")
	cmd.Flags().StringVar(&a.SortPolicy, "sort", "", "sort policy")
	cmd.Flags().IntVar(&a.Limit, "limit", 0, "maximum rows returned")
	cmd.Flags().BoolVar(&a.IncludeDeleted, "include-deleted", false, "include soft-deleted tasks")
}

var listTasksCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks matching a filter",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("assignee") {
			listTasksArgs.Assignee = &listAssignee
		}
		return send(tools.OpListTasks, listTasksArgs)
	},
}

var updateArgs tools.UpdateArgs
var updateTitle string
var updateDescription string
var updatePhase string
var updatePriority int
var updateThought string
var updateStatus string
var updatePoints int
var updatePointsSet bool

var updateCmd = &cobra.Command{
	Use:   "update <task-id>",
	Short: "Patch a task's mutable fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		updateArgs.ID = args[0]
		if cmd.Flags().Changed("title") {
			updateArgs.Title = &updateTitle
		}
		if cmd.Flags().Changed("description") {
			updateArgs.Description = &updateDescription
		}
		if cmd.Flags().Changed("phase") {
			updateArgs.Phase = &updatePhase
		}
		if cmd.Flags().Changed("priority") {
			updateArgs.Priority = &updatePriority
		}
		if cmd.Flags().Changed("thought") {
			updateArgs.CurrentThought = &updateThought
		}
		if cmd.Flags().Changed("status") {
			updateArgs.Status = &updateStatus
		}
		if updatePointsSet {
			updateArgs.PointsSet = true
			updateArgs.PointsValue = &updatePoints
		}
		return send(tools.OpUpdate, updateArgs)
	},
}

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Soft-delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpDelete, tools.DeleteArgs{ID: args[0], Force: deleteForce})
	},
}

func init() {
	bindCreateFlags(createCmd, &createArgs)
	bindCreateFlags(createTreeCmd, &createTreeRoot)
	createTreeCmd.Flags().StringSliceVar(&createTreeChildTitles, "child", nil, "title of a child task (repeatable)")

	getCmd.Flags().BoolVar(&getIncludeDeleted, "include-deleted", false, "return the task even if soft-deleted")

	bindListFilterFlags(listTasksCmd, &listTasksArgs)

	updateCmd.Flags().StringVar(&updateTitle, "title", "", "new title")
	updateCmd.Flags().StringVar(&updateDescription, "description", "", "new description")
	updateCmd.Flags().StringVar(&updatePhase, "phase", "", "new phase")
	updateCmd.Flags().IntVar(&updatePriority, "priority", 0, "new priority")
	updateCmd.Flags().StringVar(&updateThought, "thought", "", "new current-thought note")
	updateCmd.Flags().StringVar(&updateStatus, "status", "", "new status")
	updateCmd.Flags().IntVar(&updatePoints, "points", 0, "new points value")
	updateCmd.Flags().BoolVar(&updatePointsSet, "set-points", false, "apply --points (distinguishes 0 from unset)")
	updateCmd.Flags().StringSliceVar(&updateArgs.Tags, "tag", nil, "replace the task's tags")
	updateCmd.Flags().BoolVar(&updateArgs.Force, "force", false, "bypass the ownership check and the completion-blocker check")

	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "delete even if claimed by another worker")
}
