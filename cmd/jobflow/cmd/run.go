package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/armadaproject/jobflow/internal/common"
	"github.com/armadaproject/jobflow/internal/flowctl"
)

func runCmd(a *flowctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the jobflow daemon",
		Long: `Keeps tracked submissions in sync with the scheduler and submits operations as they become eligible,
until interrupted. Status and metrics are served over HTTP when daemon.httpPort is set.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			common.ConfigureLogging()
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
	return cmd
}

func versionCmd(a *flowctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print client version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Version()
		},
	}
	return cmd
}
