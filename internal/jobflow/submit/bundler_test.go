package submit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/jobflow/aggregation"
	"github.com/armadaproject/jobflow/internal/jobflow/backend"
	"github.com/armadaproject/jobflow/internal/jobflow/catalog"
	"github.com/armadaproject/jobflow/internal/jobflow/eligibility"
	"github.com/armadaproject/jobflow/internal/jobflow/jobs"
	"github.com/armadaproject/jobflow/internal/jobflow/metrics"
	"github.com/armadaproject/jobflow/internal/jobflow/repository"
	"github.com/armadaproject/jobflow/internal/jobflow/tracker"
)

// labelRenderer renders the label followed by one line per instance.
type labelRenderer struct {
	fail string
}

func (r labelRenderer) Render(label string, instances []eligibility.Instance) (string, error) {
	lines := []string{label}
	for _, instance := range instances {
		if instance.Operation.Name == r.fail {
			return "", errors.New("cannot render")
		}
		lines = append(lines, instance.Operation.Name+" "+instance.Aggregate.Id())
	}
	return strings.Join(lines, "\n"), nil
}

func newTracker(t *testing.T) (*tracker.Tracker, *backend.Fake) {
	clock := clocktesting.NewFakeClock(time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC))
	fake := backend.NewFake(clock)
	tr, err := tracker.New(fake, repository.NewInMemoryPersister(), clock, tracker.Config{SubmitTimeout: time.Second}, nil)
	require.NoError(t, err)
	return tr, fake
}

func testInstances(t *testing.T, operations ...string) []eligibility.Instance {
	result := []eligibility.Instance{}
	for i, name := range operations {
		spec, err := catalog.NewOperation(name, "run "+name)
		require.NoError(t, err)
		agg := aggregation.NewAggregate([]*jobs.Job{jobs.NewJob(fmt.Sprintf("job%d", i), nil, nil)})
		result = append(result, eligibility.Instance{
			Operation:   spec,
			Aggregate:   agg,
			Fingerprint: spec.Fingerprint(agg.Id()),
			State:       eligibility.Eligible,
		})
	}
	return result
}

func TestBundleAndSubmit_BundlesAndDefers(t *testing.T) {
	tr, fake := newTracker(t)
	bundler := NewBundler(tr, labelRenderer{}, metrics.New(prometheus.NewRegistry()), false)
	instances := testInstances(t, "a", "b", "c", "d", "e", "f")

	result, err := bundler.BundleAndSubmit(context.Background(), instances, 2, 2)
	require.NoError(t, err)
	require.Len(t, result.Submissions, 2)
	for i, submission := range result.Submissions {
		assert.Len(t, submission.Instances, 2)
		assert.True(t, strings.HasPrefix(submission.Label, "bundle-"))
		script, ok := fake.Script(submission.ExternalId)
		require.True(t, ok)
		assert.Equal(t, submission.Script, script)
		assert.Equal(t, instances[2*i:2*i+2], submission.Instances)
	}
	assert.Len(t, result.ExternalIds(), 2)
	assert.Equal(t, instances[4:], result.Deferred)
	assert.Len(t, tr.Records(), 4)

	// Once the scheduler is done with the outstanding jobs the deferred instances go through.
	fake.Step()
	fake.Step()
	fake.Step()
	_, err = tr.Refresh(context.Background())
	require.NoError(t, err)

	result, err = bundler.BundleAndSubmit(context.Background(), result.Deferred, 2, 2)
	require.NoError(t, err)
	require.Len(t, result.Submissions, 1)
	assert.Empty(t, result.Deferred)
}

func TestBundleAndSubmit_Unbounded(t *testing.T) {
	tr, _ := newTracker(t)
	bundler := NewBundler(tr, labelRenderer{}, nil, false)

	result, err := bundler.BundleAndSubmit(context.Background(), testInstances(t, "a", "b", "c", "d"), 0, 0)
	require.NoError(t, err)
	require.Len(t, result.Submissions, 1)
	assert.Len(t, result.Submissions[0].Instances, 4)
}

func TestBundleAndSubmit_SingleInstanceLabel(t *testing.T) {
	tr, _ := newTracker(t)
	bundler := NewBundler(tr, labelRenderer{}, nil, false)
	instances := testInstances(t, "a", "b")

	result, err := bundler.BundleAndSubmit(context.Background(), instances, 1, 0)
	require.NoError(t, err)
	require.Len(t, result.Submissions, 2)
	assert.Equal(t, instances[0].Fingerprint, result.Submissions[0].Label)
	assert.Equal(t, instances[1].Fingerprint, result.Submissions[1].Label)
	record, ok := tr.Record(instances[0].Fingerprint)
	require.True(t, ok)
	assert.Equal(t, instances[0].Fingerprint, record.Label)
}

func TestBundleAndSubmit_SkipsLiveRecords(t *testing.T) {
	tr, _ := newTracker(t)
	bundler := NewBundler(tr, labelRenderer{}, nil, false)
	instances := testInstances(t, "a", "b", "c")

	_, err := bundler.BundleAndSubmit(context.Background(), instances[:1], 0, 0)
	require.NoError(t, err)

	result, err := bundler.BundleAndSubmit(context.Background(), instances, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, instances[:1], result.Skipped)
	require.Len(t, result.Submissions, 1)
	assert.Equal(t, instances[1:], result.Submissions[0].Instances)
}

func TestBundleAndSubmit_FailureIsolatedToBundle(t *testing.T) {
	tr, _ := newTracker(t)
	bundler := NewBundler(tr, labelRenderer{fail: "c"}, nil, false)
	instances := testInstances(t, "a", "b", "c", "d", "e", "f")

	result, err := bundler.BundleAndSubmit(context.Background(), instances, 2, 0)
	require.Error(t, err)
	assert.Len(t, result.Submissions, 2)
	assert.Equal(t, instances[2:4], result.Failed)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 1)
	var submitErr *flowerrors.ErrSubmission
	require.ErrorAs(t, merr.Errors[0], &submitErr)
	assert.Equal(t, []string{"c", "d"}, submitErr.Operations)
	assert.Equal(t, []string{"job2", "job3"}, submitErr.Aggregates)

	// Instances of the failed bundle are not tracked and can be submitted again.
	assert.Len(t, tr.Records(), 4)
	_, ok := tr.Record(instances[2].Fingerprint)
	assert.False(t, ok)
}

func TestBundleAndSubmit_BackendFailure(t *testing.T) {
	tr, fake := newTracker(t)
	bundler := NewBundler(tr, labelRenderer{}, nil, false)
	fake.FailSubmit(errors.New("sbatch: error"))

	result, err := bundler.BundleAndSubmit(context.Background(), testInstances(t, "a", "b"), 1, 0)
	assert.True(t, flowerrors.IsRetryable(err))
	assert.Empty(t, result.Submissions)
	assert.Len(t, result.Failed, 2)
	assert.Empty(t, tr.Records())

	fake.FailSubmit(nil)
	result, err = bundler.BundleAndSubmit(context.Background(), result.Failed, 1, 0)
	require.NoError(t, err)
	assert.Len(t, result.Submissions, 2)
}

func TestBundleAndSubmit_Pretend(t *testing.T) {
	tr, fake := newTracker(t)
	bundler := NewBundler(tr, labelRenderer{}, nil, true)
	instances := testInstances(t, "a", "b", "c", "d", "e")

	result, err := bundler.BundleAndSubmit(context.Background(), instances, 2, 2)
	require.NoError(t, err)
	require.Len(t, result.Submissions, 2)
	assert.Empty(t, result.Submissions[0].ExternalId)
	assert.Contains(t, result.Submissions[0].Script, "a job0")
	assert.Equal(t, instances[4:], result.Deferred)

	assert.Empty(t, tr.Records())
	clusterJobs, err := fake.ListActiveJobs(context.Background())
	require.NoError(t, err)
	assert.Empty(t, clusterJobs)
	_, ok := tr.AcquireSlot(1)
	assert.True(t, ok)
}

func TestBundleAndSubmit_CancelledContextDefers(t *testing.T) {
	tr, _ := newTracker(t)
	bundler := NewBundler(tr, labelRenderer{}, nil, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	instances := testInstances(t, "a", "b")
	result, err := bundler.BundleAndSubmit(ctx, instances, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, instances, result.Deferred)
}

func TestBundleAndSubmit_ConcurrentCallsSubmitOnce(t *testing.T) {
	tr, fake := newTracker(t)
	bundler := NewBundler(tr, labelRenderer{}, nil, false)
	instances := testInstances(t, "a", "b", "c", "d", "e", "f", "g", "h")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bundler.BundleAndSubmit(context.Background(), instances, 3, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, tr.Records(), len(instances))
	submitted := 0
	clusterJobs, err := fake.ListActiveJobs(context.Background())
	require.NoError(t, err)
	for _, job := range clusterJobs {
		script, _ := fake.Script(job.Id)
		submitted += strings.Count(script, "\n")
	}
	assert.Equal(t, len(instances), submitted)
}
