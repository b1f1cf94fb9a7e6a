package main

import (
	"github.com/spf13/cobra"

	"github.com/graphwork/taskgraphd/internal/tools"
)

var (
	connectTags      []string
	connectWorkflow  string
	connectMaxClaims int
	connectForce     bool
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Register this worker with the coordinator",
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpConnect, tools.ConnectArgs{
			ID:        workerID,
			Tags:      connectTags,
			Workflow:  connectWorkflow,
			MaxClaims: connectMaxClaims,
			Force:     connectForce,
		})
	},
}

var disconnectFinalState string

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect a worker, releasing its claims and file marks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpDisconnect, tools.DisconnectArgs{
			WorkerID:   workerID,
			FinalState: disconnectFinalState,
		})
	},
}

var listWorkersCmd = &cobra.Command{
	Use:   "list-workers",
	Short: "List connected workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(tools.OpListWorkers, struct{}{})
	},
}

func init() {
	connectCmd.Flags().StringSliceVar(&connectTags, "tag", nil, "tags this worker carries")
	connectCmd.Flags().StringVar(&connectWorkflow, "workflow", "", "workflow name this worker runs")
	connectCmd.Flags().IntVar(&connectMaxClaims, "max-claims", 0, "maximum concurrent claims (0 = configured default_max_claims)")
	connectCmd.Flags().BoolVar(&connectForce, "force", false, "re-register an existing worker ID, releasing its claims and file marks")

	disconnectCmd.Flags().StringVar(&disconnectFinalState, "final-state", "", "status to leave claimed tasks in (default: configured disconnect state)")
}
