package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/armadaproject/jobflow/internal/flowctl"
)

func submitCmd(a *flowctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit eligible operations to the scheduler",
		Long: `Submits every eligible operation instance, in bundles, to the cluster scheduler.

Instances already submitted and still tracked are never submitted again.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := filterFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			submitArgs, err := submitArgsFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			if submitArgs.Pretend, err = cmd.Flags().GetBool("pretend"); err != nil {
				return fmt.Errorf("error reading pretend: %s", err)
			}
			return a.Submit(cmd.Context(), filter, submitArgs)
		},
	}
	addFilterFlags(cmd.Flags())
	addSubmitFlags(cmd.Flags())
	cmd.Flags().Bool("pretend", false, "Show what would be submitted without submitting")
	return cmd
}

func scriptCmd(a *flowctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Print the scripts that submit would submit",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := filterFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			submitArgs, err := submitArgsFromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			return a.Script(cmd.Context(), filter, submitArgs)
		},
	}
	addFilterFlags(cmd.Flags())
	addSubmitFlags(cmd.Flags())
	return cmd
}

func cancelCmd(a *flowctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <scheduler-job-id> [<scheduler-job-id> ...]",
		Short: "Cancel submitted scheduler jobs",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Cancel(cmd.Context(), args)
		},
	}
	return cmd
}

func clearCompletedCmd(a *flowctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-completed [<fingerprint> ...]",
		Short: "Let operations without post-conditions run again",
		Long: `Operations without post-conditions run once per aggregate: once finished, their completion is remembered.
This forgets the completion of the given fingerprints, or of every instance when none are given.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initParams(cmd, a.Params)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ClearCompleted(cmd.Context(), args)
		},
	}
	return cmd
}
