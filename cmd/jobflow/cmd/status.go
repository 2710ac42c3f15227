package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armadaproject/jobflow/internal/flowctl"
)

func statusCmd(a *flowctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every operation instance",
		Long: `Shows, per operation, how many aggregates are eligible, tracked by the scheduler or done.

The scheduler is queried first so that tracked instances show their current status.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := filterFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			detailed, err := cmd.Flags().GetBool("detailed")
			if err != nil {
				return fmt.Errorf("error reading detailed: %s", err)
			}
			noRefresh, err := cmd.Flags().GetBool("no-refresh")
			if err != nil {
				return fmt.Errorf("error reading no-refresh: %s", err)
			}
			return a.Status(cmd.Context(), filter, !noRefresh, detailed)
		},
	}
	addFilterFlags(cmd.Flags())
	cmd.Flags().BoolP("detailed", "d", false, "List every operation instance")
	cmd.Flags().Bool("no-refresh", false, "Show the last known scheduler statuses without querying the scheduler")
	return cmd
}

func refreshCmd(a *flowctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Query the scheduler and show every tracked submission",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Refresh(cmd.Context())
		},
	}
	return cmd
}

func labelsCmd(a *flowctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labels",
		Short: "Show the labels of every job",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := filterFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			return a.Labels(cmd.Context(), filter)
		},
	}
	addFilterFlags(cmd.Flags())
	return cmd
}
