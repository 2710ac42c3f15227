package tracker

import (
	"context"

	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

// Persister stores submission records and completion markers so that tracking survives a restart.
type Persister interface {
	Load(ctx context.Context) ([]*schedulerobjects.SubmissionRecord, error)
	Save(ctx context.Context, records ...*schedulerobjects.SubmissionRecord) error
	Delete(ctx context.Context, fingerprints ...string) error
	LoadCompleted(ctx context.Context) ([]*schedulerobjects.CompletionMarker, error)
	MarkCompleted(ctx context.Context, markers ...*schedulerobjects.CompletionMarker) error
	// ClearCompleted removes the markers of the given fingerprints, or every marker if none are given.
	ClearCompleted(ctx context.Context, fingerprints ...string) error
}
