package main

import (
	"github.com/spf13/cobra"

	"github.com/graphwork/taskgraphd/internal/tools"
)

var markFileCmd = &cobra.Command{
	Use:   "mark-file <path>",
	Short: "Advisory-mark a file as being worked on by the current worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpMarkFile, tools.MarkFileArgs{Path: args[0]})
	},
}

var unmarkFileCmd = &cobra.Command{
	Use:   "unmark-file <path>",
	Short: "Release a file mark held by the current worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpUnmarkFile, tools.UnmarkFileArgs{Path: args[0]})
	},
}

var listMarksPath string
var listMarksWorker string

var listMarksCmd = &cobra.Command{
	Use:   "list-marks",
	Short: "List file marks, optionally filtered by path or worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpListMarks, tools.ListMarksArgs{Path: listMarksPath, WorkerID: listMarksWorker})
	},
}

func init() {
	listMarksCmd.Flags().StringVar(&listMarksPath, "path", "", "filter by path")
	listMarksCmd.Flags().StringVar(&listMarksWorker, "worker", "", "filter by holding worker")
}
