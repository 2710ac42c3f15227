package flowctl

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/armadaproject/jobflow/internal/common/util"
	"github.com/armadaproject/jobflow/internal/jobflow"
	"github.com/armadaproject/jobflow/internal/jobflow/eligibility"
)

var summaryStates = []eligibility.State{
	eligibility.Eligible,
	eligibility.Submitted,
	eligibility.Queued,
	eligibility.Active,
	eligibility.Inactive,
	eligibility.NotEligible,
}

// Status prints how many instances of each operation are in each state. With detailed set every instance is
// listed as well. The scheduler is queried first unless refresh is false.
func (a *App) Status(ctx context.Context, filter eligibility.Filter, refresh bool, detailed bool) error {
	return a.withProject(ctx, func(project *jobflow.Project) error {
		if refresh {
			if _, err := project.Refresh(ctx); err != nil {
				fmt.Fprintf(a.Out, "Warning: showing last known scheduler statuses: %s\n", err)
			}
		}
		result, err := project.Status(ctx, filter)
		if err != nil {
			return err
		}

		counts := result.Counts()
		sb := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
		header := []string{"OPERATION"}
		for _, state := range summaryStates {
			header = append(header, strings.ToUpper(state.String()))
		}
		sb.WriteRow(header...)
		for _, op := range project.Catalog().Operations() {
			if _, ok := counts[op.Name]; !ok {
				continue
			}
			row := []string{op.Name}
			for _, state := range summaryStates {
				row = append(row, strconv.Itoa(counts[op.Name][state]))
			}
			sb.WriteRow(row...)
		}
		fmt.Fprint(a.Out, sb.String())

		if detailed {
			fmt.Fprintln(a.Out)
			sb = util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
			sb.WriteRow("OPERATION", "AGGREGATE", "JOBS", "STATE", "EXTERNAL ID")
			for _, instance := range result.Instances {
				sb.WriteRow(
					instance.Operation.Name,
					instance.Aggregate.Id(),
					strings.Join(instance.Aggregate.JobIds(), ","),
					instance.State.String(),
					instance.ExternalId,
				)
			}
			fmt.Fprint(a.Out, sb.String())
		}

		if result.Errors != nil {
			fmt.Fprintf(a.Out, "\nSome instances could not be evaluated:\n%s\n", result.Errors)
		}
		return nil
	})
}

// Refresh queries the scheduler and prints the status of every tracked record.
func (a *App) Refresh(ctx context.Context) error {
	return a.withProject(ctx, func(project *jobflow.Project) error {
		if _, err := project.Refresh(ctx); err != nil {
			return err
		}
		records := project.Tracker().Records()
		if len(records) == 0 {
			fmt.Fprintln(a.Out, "No operations are tracked")
			return nil
		}
		sb := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
		sb.WriteRow("OPERATION", "AGGREGATE", "EXTERNAL ID", "STATUS", "SUBMITTED")
		for _, record := range records {
			sb.WriteRow(
				record.Operation,
				record.AggregateId,
				record.ExternalId,
				record.Status.String(),
				record.SubmittedAt.Format("2006-01-02 15:04:05"),
			)
		}
		fmt.Fprint(a.Out, sb.String())
		return nil
	})
}
