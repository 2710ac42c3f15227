package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/jobflow/backend"
	"github.com/armadaproject/jobflow/internal/jobflow/metrics"
	"github.com/armadaproject/jobflow/internal/jobflow/repository"
	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

var testConfig = Config{
	SubmitTimeout:  time.Second,
	RefreshTimeout: time.Second,
}

type testHarness struct {
	tracker   *Tracker
	backend   *backend.Fake
	persister *repository.InMemoryPersister
	clock     *clocktesting.FakeClock
}

func newHarness(t *testing.T, config Config) *testHarness {
	clock := clocktesting.NewFakeClock(time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC))
	fake := backend.NewFake(clock)
	persister := repository.NewInMemoryPersister()
	tracker, err := New(fake, persister, clock, config, metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)
	return &testHarness{tracker: tracker, backend: fake, persister: persister, clock: clock}
}

func entry(operation string, aggregateId string) schedulerobjects.BundleEntry {
	return schedulerobjects.BundleEntry{
		Fingerprint: schedulerobjects.Fingerprint(operation, aggregateId),
		Operation:   operation,
		AggregateId: aggregateId,
	}
}

// submit reserves and submits a bundle of entries.
func (h *testHarness) submit(t *testing.T, label string, entries ...schedulerobjects.BundleEntry) string {
	for _, e := range entries {
		require.True(t, h.tracker.Reserve(e.Fingerprint, e.Operation, e.AggregateId))
	}
	id, err := h.tracker.Submit(context.Background(), &schedulerobjects.Bundle{Label: label, Script: "#!/bin/sh", Entries: entries})
	require.NoError(t, err)
	return id
}

func (h *testHarness) refresh(t *testing.T) map[string]schedulerobjects.Status {
	result, err := h.tracker.Refresh(context.Background())
	require.NoError(t, err)
	return result
}

func TestTracker_ReserveAndRelease(t *testing.T) {
	h := newHarness(t, testConfig)
	e := entry("compute", "job-a")

	assert.True(t, h.tracker.Reserve(e.Fingerprint, e.Operation, e.AggregateId))
	assert.False(t, h.tracker.Reserve(e.Fingerprint, e.Operation, e.AggregateId))

	record, ok := h.tracker.Record(e.Fingerprint)
	require.True(t, ok)
	assert.True(t, record.Pending())
	assert.Equal(t, schedulerobjects.StatusUnknown, record.Status)

	h.tracker.Release(e.Fingerprint)
	_, ok = h.tracker.Record(e.Fingerprint)
	assert.False(t, ok)
	assert.True(t, h.tracker.Reserve(e.Fingerprint, e.Operation, e.AggregateId))
}

func TestTracker_ReleaseKeepsAcceptedRecords(t *testing.T) {
	h := newHarness(t, testConfig)
	e := entry("compute", "job-a")
	h.submit(t, "bundle", e)

	h.tracker.Release(e.Fingerprint)
	_, ok := h.tracker.Record(e.Fingerprint)
	assert.True(t, ok)
}

func TestTracker_ConcurrentReserve(t *testing.T) {
	h := newHarness(t, testConfig)
	e := entry("compute", "job-a")

	var wg sync.WaitGroup
	var mu sync.Mutex
	reserved := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.tracker.Reserve(e.Fingerprint, e.Operation, e.AggregateId) {
				mu.Lock()
				reserved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, reserved)
}

func TestTracker_Submit(t *testing.T) {
	h := newHarness(t, testConfig)
	a := entry("compute", "job-a")
	b := entry("compute", "job-b")
	id := h.submit(t, "bundle-1", a, b)

	for _, e := range []schedulerobjects.BundleEntry{a, b} {
		record, ok := h.tracker.Record(e.Fingerprint)
		require.True(t, ok)
		assert.Equal(t, id, record.ExternalId)
		assert.Equal(t, "bundle-1", record.Label)
		assert.Equal(t, schedulerobjects.StatusSubmitted, record.Status)
	}

	persisted, err := h.persister.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestTracker_SubmitFailureReleasesReservations(t *testing.T) {
	h := newHarness(t, testConfig)
	h.backend.FailSubmit(errors.New("scheduler unavailable"))
	a := entry("compute", "job-a")
	require.True(t, h.tracker.Reserve(a.Fingerprint, a.Operation, a.AggregateId))

	_, err := h.tracker.Submit(context.Background(), &schedulerobjects.Bundle{Label: "bundle", Entries: []schedulerobjects.BundleEntry{a}})
	var e *flowerrors.ErrSubmission
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{"compute"}, e.Operations)
	assert.Equal(t, []string{"job-a"}, e.Aggregates)
	assert.True(t, flowerrors.IsRetryable(err))

	_, ok := h.tracker.Record(a.Fingerprint)
	assert.False(t, ok)
	assert.Empty(t, h.tracker.Records())
}

func TestTracker_SubmitTimeout(t *testing.T) {
	h := newHarness(t, Config{SubmitTimeout: 10 * time.Millisecond, RefreshTimeout: time.Second})
	h.backend.SetDelay(time.Hour)
	a := entry("compute", "job-a")
	require.True(t, h.tracker.Reserve(a.Fingerprint, a.Operation, a.AggregateId))

	_, err := h.tracker.Submit(context.Background(), &schedulerobjects.Bundle{Label: "bundle", Entries: []schedulerobjects.BundleEntry{a}})
	var e *flowerrors.ErrSubmission
	assert.ErrorAs(t, err, &e)
	assert.Empty(t, h.tracker.Records())
}

func TestTracker_RefreshFollowsLifecycle(t *testing.T) {
	h := newHarness(t, testConfig)
	a := entry("compute", "job-a")
	h.submit(t, "bundle", a)

	var evicted []*schedulerobjects.SubmissionRecord
	h.tracker.OnEvict(func(record *schedulerobjects.SubmissionRecord) {
		evicted = append(evicted, record)
	})

	assert.Equal(t, map[string]schedulerobjects.Status{a.Fingerprint: schedulerobjects.StatusSubmitted}, h.refresh(t))
	for _, expected := range []schedulerobjects.Status{schedulerobjects.StatusQueued, schedulerobjects.StatusActive, schedulerobjects.StatusInactive} {
		h.backend.Step()
		assert.Equal(t, map[string]schedulerobjects.Status{a.Fingerprint: expected}, h.refresh(t))
	}

	_, ok := h.tracker.Record(a.Fingerprint)
	assert.False(t, ok)
	assert.True(t, h.tracker.Completed(a.Fingerprint))
	require.Len(t, evicted, 1)
	assert.Equal(t, a.Fingerprint, evicted[0].Fingerprint)
	assert.Equal(t, schedulerobjects.StatusInactive, evicted[0].Status)

	// The next refresh no longer reports the evicted instance.
	assert.Empty(t, h.refresh(t))

	persisted, err := h.persister.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, persisted)
	markers, err := h.persister.LoadCompleted(context.Background())
	require.NoError(t, err)
	require.Len(t, markers, 1)
	assert.Equal(t, "bundle", markers[0].Label)
}

func TestTracker_MissingJobIsInactive(t *testing.T) {
	h := newHarness(t, testConfig)
	a := entry("compute", "job-a")
	id := h.submit(t, "bundle", a)
	ok, err := h.tracker.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, map[string]schedulerobjects.Status{a.Fingerprint: schedulerobjects.StatusInactive}, h.refresh(t))
	assert.Empty(t, h.tracker.Records())
}

// pausingBackend holds ListActiveJobs open after taking the listing until release is closed.
type pausingBackend struct {
	*backend.Fake
	listed  chan struct{}
	release chan struct{}
}

func (b *pausingBackend) ListActiveJobs(ctx context.Context) ([]schedulerobjects.ClusterJob, error) {
	jobs, err := b.Fake.ListActiveJobs(ctx)
	close(b.listed)
	<-b.release
	return jobs, err
}

func TestTracker_SubmitDuringRefreshIsKept(t *testing.T) {
	h := newHarness(t, testConfig)
	paused := &pausingBackend{Fake: h.backend, listed: make(chan struct{}), release: make(chan struct{})}
	tracker, err := New(paused, h.persister, h.clock, testConfig, metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)
	h.tracker = tracker

	var evicted []*schedulerobjects.SubmissionRecord
	h.tracker.OnEvict(func(record *schedulerobjects.SubmissionRecord) {
		evicted = append(evicted, record)
	})

	type refreshResult struct {
		statuses map[string]schedulerobjects.Status
		err      error
	}
	done := make(chan refreshResult)
	go func() {
		statuses, err := h.tracker.Refresh(context.Background())
		done <- refreshResult{statuses: statuses, err: err}
	}()
	<-paused.listed

	a := entry("compute", "job-a")
	h.submit(t, "bundle", a)
	close(paused.release)
	result := <-done
	require.NoError(t, result.err)
	assert.Equal(t, map[string]schedulerobjects.Status{a.Fingerprint: schedulerobjects.StatusSubmitted}, result.statuses)

	record, ok := h.tracker.Record(a.Fingerprint)
	require.True(t, ok)
	assert.Equal(t, schedulerobjects.StatusSubmitted, record.Status)
	assert.False(t, h.tracker.Completed(a.Fingerprint))
	assert.Empty(t, evicted)
	assert.False(t, h.tracker.Reserve(a.Fingerprint, a.Operation, a.AggregateId))

	// The next refresh sees the job and keeps following it.
	paused.listed = make(chan struct{})
	h.backend.Step()
	assert.Equal(t, map[string]schedulerobjects.Status{a.Fingerprint: schedulerobjects.StatusQueued}, h.refresh(t))
}

func TestTracker_RefreshIsMonotonic(t *testing.T) {
	h := newHarness(t, testConfig)
	a := entry("compute", "job-a")
	id := h.submit(t, "bundle", a)

	h.backend.SetStatus(id, schedulerobjects.StatusActive)
	assert.Equal(t, schedulerobjects.StatusActive, h.refresh(t)[a.Fingerprint])

	h.backend.SetStatus(id, schedulerobjects.StatusQueued)
	assert.Equal(t, schedulerobjects.StatusActive, h.refresh(t)[a.Fingerprint])
	record, ok := h.tracker.Record(a.Fingerprint)
	require.True(t, ok)
	assert.Equal(t, schedulerobjects.StatusActive, record.Status)
}

func TestTracker_RefreshTimeoutLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, Config{SubmitTimeout: time.Second, RefreshTimeout: 10 * time.Millisecond})
	a := entry("compute", "job-a")
	id := h.submit(t, "bundle", a)
	h.backend.SetStatus(id, schedulerobjects.StatusActive)
	h.backend.SetDelay(time.Hour)

	_, err := h.tracker.Refresh(context.Background())
	var e *flowerrors.ErrStatusRefresh
	require.ErrorAs(t, err, &e)
	assert.True(t, flowerrors.IsRetryable(err))

	record, ok := h.tracker.Record(a.Fingerprint)
	require.True(t, ok)
	assert.Equal(t, schedulerobjects.StatusSubmitted, record.Status)
}

func TestTracker_RefreshFailure(t *testing.T) {
	h := newHarness(t, testConfig)
	a := entry("compute", "job-a")
	h.submit(t, "bundle", a)
	h.backend.FailList(errors.New("squeue failed"))

	_, err := h.tracker.Refresh(context.Background())
	var e *flowerrors.ErrStatusRefresh
	assert.ErrorAs(t, err, &e)
	assert.Len(t, h.tracker.Records(), 1)
}

func TestTracker_MinRefreshInterval(t *testing.T) {
	h := newHarness(t, Config{SubmitTimeout: time.Second, RefreshTimeout: time.Second, MinRefreshInterval: time.Minute})
	a := entry("compute", "job-a")
	id := h.submit(t, "bundle", a)

	assert.Equal(t, schedulerobjects.StatusSubmitted, h.refresh(t)[a.Fingerprint])

	// Too soon: the last snapshot is returned without querying the scheduler.
	h.backend.SetStatus(id, schedulerobjects.StatusQueued)
	assert.Equal(t, schedulerobjects.StatusSubmitted, h.refresh(t)[a.Fingerprint])

	h.clock.Step(2 * time.Minute)
	assert.Equal(t, schedulerobjects.StatusQueued, h.refresh(t)[a.Fingerprint])
}

func TestTracker_AdoptsJobReportedAfterCompletion(t *testing.T) {
	h := newHarness(t, testConfig)
	a := entry("compute", "job-a")
	id := h.submit(t, "bundle", a)
	h.backend.SetStatus(id, schedulerobjects.StatusInactive)
	h.refresh(t)
	require.True(t, h.tracker.Completed(a.Fingerprint))

	adoptedId := h.backend.Inject("bundle", schedulerobjects.StatusActive)
	assert.Equal(t, schedulerobjects.StatusActive, h.refresh(t)[a.Fingerprint])

	record, ok := h.tracker.Record(a.Fingerprint)
	require.True(t, ok)
	assert.Equal(t, adoptedId, record.ExternalId)
	assert.False(t, h.tracker.Completed(a.Fingerprint))

	markers, err := h.persister.LoadCompleted(context.Background())
	require.NoError(t, err)
	assert.Empty(t, markers)
}

func TestTracker_IgnoresUnknownJobs(t *testing.T) {
	h := newHarness(t, testConfig)
	h.backend.Inject("someone-else", schedulerobjects.StatusActive)
	assert.Empty(t, h.refresh(t))
	assert.Empty(t, h.tracker.Records())
}

func TestTracker_AcquireSlot(t *testing.T) {
	h := newHarness(t, testConfig)

	release, ok := h.tracker.AcquireSlot(2)
	require.True(t, ok)
	h.submit(t, "bundle-1", entry("compute", "job-a"), entry("compute", "job-b"))
	release()
	release() // Calling release twice has no effect.

	// One scheduler job is outstanding however many instances it holds.
	release, ok = h.tracker.AcquireSlot(2)
	require.True(t, ok)
	_, ok = h.tracker.AcquireSlot(2)
	assert.False(t, ok)
	release()

	_, ok = h.tracker.AcquireSlot(0)
	assert.True(t, ok)
}

func TestTracker_Recover(t *testing.T) {
	h := newHarness(t, testConfig)
	a := entry("compute", "job-a")
	b := entry("compute", "job-b")
	h.submit(t, "bundle", a)
	h.submit(t, "other", b)
	h.backend.SetStatus(h.tracker.Records()[0].ExternalId, schedulerobjects.StatusInactive)
	h.refresh(t)
	require.NoError(t, h.persister.Save(context.Background(), &schedulerobjects.SubmissionRecord{Fingerprint: "pending", Operation: "x"}))

	restarted, err := New(h.backend, h.persister, h.clock, testConfig, nil)
	require.NoError(t, err)
	require.NoError(t, restarted.Recover(context.Background()))

	assert.ElementsMatch(t, h.tracker.Records(), restarted.Records())
	assert.Equal(t, h.tracker.CompletionMarkers(), restarted.CompletionMarkers())
	_, ok := restarted.Record("pending")
	assert.False(t, ok)
}

func TestTracker_ClearCompleted(t *testing.T) {
	h := newHarness(t, testConfig)
	a := entry("compute", "job-a")
	b := entry("analyze", "job-a")
	h.submit(t, "bundle", a, b)
	h.backend.SetStatus(h.tracker.Records()[0].ExternalId, schedulerobjects.StatusInactive)
	h.refresh(t)
	require.Len(t, h.tracker.CompletionMarkers(), 2)

	require.NoError(t, h.tracker.ClearCompleted(context.Background(), a.Fingerprint))
	assert.False(t, h.tracker.Completed(a.Fingerprint))
	assert.True(t, h.tracker.Completed(b.Fingerprint))

	require.NoError(t, h.tracker.ClearCompleted(context.Background()))
	assert.Empty(t, h.tracker.CompletionMarkers())
	markers, err := h.persister.LoadCompleted(context.Background())
	require.NoError(t, err)
	assert.Empty(t, markers)
}
