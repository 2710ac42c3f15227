package flowctl

import (
	"context"
	"fmt"
	"strings"

	"github.com/armadaproject/jobflow/internal/jobflow"
	"github.com/armadaproject/jobflow/internal/jobflow/eligibility"
)

// SubmitArgs are the command line overrides of the submission configuration. Negative sizes keep the
// configured value.
type SubmitArgs struct {
	BundleSize  int
	MaxParallel int
	Limit       int
	Pretend     bool
}

func (args SubmitArgs) options(project *jobflow.Project) jobflow.SubmitOptions {
	opts := project.DefaultSubmitOptions()
	if args.BundleSize >= 0 {
		opts.MaxBundleSize = args.BundleSize
	}
	if args.MaxParallel >= 0 {
		opts.MaxParallel = args.MaxParallel
	}
	opts.Limit = args.Limit
	opts.Pretend = opts.Pretend || args.Pretend
	return opts
}

// Submit submits every eligible instance selected by filter.
func (a *App) Submit(ctx context.Context, filter eligibility.Filter, args SubmitArgs) error {
	return a.withProject(ctx, func(project *jobflow.Project) error {
		result, err := project.Submit(ctx, filter, args.options(project))
		if result == nil {
			return err
		}
		for _, submission := range result.Submissions {
			if submission.ExternalId == "" {
				fmt.Fprintf(a.Out, "Would submit %s: %s\n", submission.Label, describe(submission.Instances))
			} else {
				fmt.Fprintf(a.Out, "Submitted %s as %s: %s\n", submission.Label, submission.ExternalId, describe(submission.Instances))
			}
		}
		if len(result.Deferred) > 0 {
			fmt.Fprintf(a.Out, "Deferred %d instances until running submissions finish\n", len(result.Deferred))
		}
		if len(result.Submissions) == 0 && len(result.Failed) == 0 && len(result.Deferred) == 0 {
			fmt.Fprintln(a.Out, "Nothing to submit")
		}
		return err
	})
}

// Script prints the scripts Submit would submit without submitting them.
func (a *App) Script(ctx context.Context, filter eligibility.Filter, args SubmitArgs) error {
	return a.withProject(ctx, func(project *jobflow.Project) error {
		submissions, err := project.Script(ctx, filter, args.options(project))
		for i, submission := range submissions {
			if i > 0 {
				fmt.Fprintln(a.Out)
			}
			fmt.Fprint(a.Out, submission.Script)
		}
		return err
	})
}

func describe(instances []eligibility.Instance) string {
	parts := make([]string, len(instances))
	for i, instance := range instances {
		parts[i] = fmt.Sprintf("%s(%s)", instance.Operation.Name, instance.Aggregate.Id())
	}
	return strings.Join(parts, ", ")
}
