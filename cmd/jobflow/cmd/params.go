package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/armadaproject/jobflow/internal/flowctl"
	"github.com/armadaproject/jobflow/internal/jobflow/eligibility"
)

func initParams(cmd *cobra.Command, params *flowctl.Params) error {
	configPaths, err := cmd.Flags().GetStringSlice("config")
	if err != nil {
		return fmt.Errorf("error reading config: %s", err)
	}
	workspace, err := cmd.Flags().GetString("workspace")
	if err != nil {
		return fmt.Errorf("error reading workspace: %s", err)
	}
	params.ConfigPaths = configPaths
	params.Workspace = workspace
	return nil
}

func addFilterFlags(flags *pflag.FlagSet) {
	flags.StringSliceP("operation", "o", []string{}, "Only consider these operations")
	flags.StringP("group", "g", "", "Only consider the operations of this group")
	flags.StringSliceP("job", "j", []string{}, "Only consider aggregates with a job whose id matches one of these glob patterns")
}

func filterFromFlags(flags *pflag.FlagSet) (eligibility.Filter, error) {
	operations, err := flags.GetStringSlice("operation")
	if err != nil {
		return eligibility.Filter{}, fmt.Errorf("error reading operation: %s", err)
	}
	group, err := flags.GetString("group")
	if err != nil {
		return eligibility.Filter{}, fmt.Errorf("error reading group: %s", err)
	}
	jobIds, err := flags.GetStringSlice("job")
	if err != nil {
		return eligibility.Filter{}, fmt.Errorf("error reading job: %s", err)
	}
	return eligibility.Filter{Operations: operations, Group: group, JobIds: jobIds}, nil
}

func addSubmitFlags(flags *pflag.FlagSet) {
	flags.IntP("bundle-size", "b", -1, "Maximum number of operation instances per bundle, 0 for a single bundle (default: from configuration)")
	flags.Int("parallel", -1, "Maximum number of outstanding scheduler jobs, 0 for no limit (default: from configuration)")
	flags.IntP("num", "n", 0, "Submit at most this many operation instances")
}

func submitArgsFromFlags(flags *pflag.FlagSet) (flowctl.SubmitArgs, error) {
	args := flowctl.SubmitArgs{}
	var err error
	if args.BundleSize, err = flags.GetInt("bundle-size"); err != nil {
		return args, fmt.Errorf("error reading bundle-size: %s", err)
	}
	if args.MaxParallel, err = flags.GetInt("parallel"); err != nil {
		return args, fmt.Errorf("error reading parallel: %s", err)
	}
	if args.Limit, err = flags.GetInt("num"); err != nil {
		return args, fmt.Errorf("error reading num: %s", err)
	}
	if args.Limit < 0 {
		return args, fmt.Errorf("num must not be negative, got %d", args.Limit)
	}
	return args, nil
}
