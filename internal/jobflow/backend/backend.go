// Package backend contains the cluster scheduler backends jobs are submitted to.
package backend

import (
	"context"

	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

// Backend is a cluster scheduler reached through submit, query and cancel primitives. Calls are synchronous
// and must honour ctx cancellation.
type Backend interface {
	// Submit submits script as a job named label and returns the scheduler's id for it.
	Submit(ctx context.Context, script string, label string) (string, error)
	// ListActiveJobs returns every job the scheduler still knows about in a single call.
	ListActiveJobs(ctx context.Context) ([]schedulerobjects.ClusterJob, error)
	// Cancel cancels the job, returning false if the scheduler did not know it.
	Cancel(ctx context.Context, externalId string) (bool, error)
}
