package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/jobflow/internal/flowctl"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobflow",
		Short: "jobflow submits the operations of a workspace of jobs to a cluster scheduler as they become eligible.",
		// Errors are user facing, not a reason to print usage.
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringSlice("config", []string{}, "Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	cmd.PersistentFlags().String("workspace", "", "Workspace directory, overriding workspace.root of the configuration")

	cmd.AddCommand(
		statusCmd(flowctl.New()),
		submitCmd(flowctl.New()),
		scriptCmd(flowctl.New()),
		refreshCmd(flowctl.New()),
		cancelCmd(flowctl.New()),
		labelsCmd(flowctl.New()),
		clearCompletedCmd(flowctl.New()),
		runCmd(flowctl.New()),
		versionCmd(flowctl.New()),
	)

	return cmd
}
