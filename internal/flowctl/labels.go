package flowctl

import (
	"context"
	"fmt"
	"strings"

	"github.com/armadaproject/jobflow/internal/common/util"
	"github.com/armadaproject/jobflow/internal/jobflow"
	"github.com/armadaproject/jobflow/internal/jobflow/eligibility"
)

// Labels prints the labels of every job matched by filter.
func (a *App) Labels(ctx context.Context, filter eligibility.Filter) error {
	return a.withProject(ctx, func(project *jobflow.Project) error {
		labels, err := project.Labels(ctx, filter)
		if err != nil {
			return err
		}
		sb := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
		sb.WriteRow("JOB", "LABELS")
		for _, id := range jobflow.JobIds(labels) {
			sb.WriteRow(id, strings.Join(labels[id], ","))
		}
		fmt.Fprint(a.Out, sb.String())
		return nil
	})
}
