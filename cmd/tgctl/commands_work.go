package main

import (
	"github.com/spf13/cobra"

	"github.com/graphwork/taskgraphd/internal/tools"
)

var claimCmd = &cobra.Command{
	Use:   "claim <task-id>",
	Short: "Claim a task for the current worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpClaim, tools.ClaimArgs{TaskID: args[0]})
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Complete a task claimed by the current worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpComplete, tools.CompleteArgs{TaskID: args[0]})
	},
}

var blockKind string

var blockCmd = &cobra.Command{
	Use:   "block <from> <to>",
	Short: "Add a dependency edge: <from> blocks <to>",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpBlock, tools.BlockArgs{From: args[0], To: args[1], Kind: blockKind})
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <from> <to>",
	Short: "Remove a dependency edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpUnblock, tools.UnblockArgs{From: args[0], To: args[1], Kind: blockKind})
	},
}

var readyArgs tools.ReadyArgs
var blockedArgs tools.BlockedArgs

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List claimable tasks with no outstanding blockers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("assignee") {
			readyArgs.Assignee = &listAssignee
		}
		return send(tools.OpReady, readyArgs)
	},
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List tasks with outstanding blockers, and what blocks them",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("assignee") {
			blockedArgs.Assignee = &listAssignee
		}
		return send(tools.OpBlocked, blockedArgs)
	},
}

var thinkText string

var thinkCmd = &cobra.Command{
	Use:   "think <task-id>",
	Short: "Record the current worker's running commentary on a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpThink, tools.ThinkArgs{TaskID: args[0], Thought: thinkText})
	},
}

var logTimeMs int64

var logTimeCmd = &cobra.Command{
	Use:   "log-time <task-id>",
	Short: "Add to a task's accumulated time-actual ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpLogTime, tools.LogTimeArgs{TaskID: args[0], Ms: logTimeMs})
	},
}

var logCostUSD float64
var logCostTokens int64

var logCostCmd = &cobra.Command{
	Use:   "log-cost <task-id>",
	Short: "Add to a task's accumulated cost ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpLogCost, tools.LogCostArgs{TaskID: args[0], USD: logCostUSD, Tokens: logCostTokens})
	},
}

func init() {
	blockCmd.Flags().StringVar(&blockKind, "kind", "", "dependency kind")
	unblockCmd.Flags().StringVar(&blockKind, "kind", "", "dependency kind")

	bindListFilterFlags(readyCmd, &readyArgs.ListTasksArgs)
	readyCmd.Flags().StringVar(&readyArgs.Worker, "worker", "", "filter by this worker's tag eligibility, ranking wanted_tags matches higher")
	bindListFilterFlags(blockedCmd, &blockedArgs.ListTasksArgs)

	thinkCmd.Flags().StringVar(&thinkText, "text", "", "thought text")

	logTimeCmd.Flags().Int64Var(&logTimeMs, "ms", 0, "milliseconds to add")
	logCostCmd.Flags().Float64Var(&logCostUSD, "usd", 0, "USD to add")
	logCostCmd.Flags().Int64Var(&logCostTokens, "tokens", 0, "tokens to add")
}
