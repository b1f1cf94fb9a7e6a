// Command tgctl is the command-line front end for tgraphd: every
// subcommand builds a tools.Request, sends it to the daemon over its
// Unix socket, and prints the tools.Response.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/graphwork/taskgraphd/internal/config"
)

var (
	socketPath string
	workerID   string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "tgctl",
	Short: "tgctl - client for the taskgraphd coordinator",
	Long:  `tgctl talks to a running tgraphd daemon over its Unix socket and issues the canonical task-graph operations.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", os.Getenv("TASK_GRAPH_SOCKET_PATH"), "path to the tgraphd Unix socket (defaults to $TASK_GRAPH_SOCKET_PATH)")
	rootCmd.PersistentFlags().StringVar(&workerID, "worker", "", "worker ID to act as for this request")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON responses instead of a formatted summary")

	rootCmd.AddCommand(
		connectCmd, disconnectCmd, listWorkersCmd,
		createCmd, createTreeCmd, getCmd, listTasksCmd, updateCmd, deleteCmd,
		claimCmd, completeCmd, blockCmd, unblockCmd, readyCmd, blockedCmd,
		thinkCmd, logTimeCmd, logCostCmd,
		markFileCmd, unmarkFileCmd, listMarksCmd,
		attachCmd, listAttachmentsCmd, detachCmd, giveFeedbackCmd, listFeedbackCmd,
		queryCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveSocketPath() string {
	if socketPath != "" {
		return socketPath
	}
	env := config.ReadEnv()
	if env.DBPath != "" {
		return env.DBPath + ".sock"
	}
	return "taskgraph.db.sock"
}
