package flowctl

import (
	"context"
	"fmt"
	"strings"

	"github.com/armadaproject/jobflow/internal/jobflow"
)

// Cancel asks the scheduler to cancel the given scheduler jobs.
func (a *App) Cancel(ctx context.Context, externalIds []string) error {
	fmt.Fprintf(a.Out, "Requesting cancellation of jobs %s\n", strings.Join(externalIds, ", "))
	return a.withProject(ctx, func(project *jobflow.Project) error {
		cancelled, err := project.Cancel(ctx, externalIds...)
		if len(cancelled) > 0 {
			fmt.Fprintf(a.Out, "Requested cancellation for jobs %s\n", strings.Join(cancelled, ", "))
		} else {
			fmt.Fprintln(a.Out, "No jobs were cancelled")
		}
		return err
	})
}

// ClearCompleted forgets the completion of operations without post-conditions so that they run again.
func (a *App) ClearCompleted(ctx context.Context, fingerprints []string) error {
	return a.withProject(ctx, func(project *jobflow.Project) error {
		if err := project.ClearCompleted(ctx, fingerprints...); err != nil {
			return err
		}
		if len(fingerprints) == 0 {
			fmt.Fprintln(a.Out, "Cleared all completion markers")
		} else {
			fmt.Fprintf(a.Out, "Cleared completion markers %s\n", strings.Join(fingerprints, ", "))
		}
		return nil
	})
}
