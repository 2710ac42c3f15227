package eligibility

import (
	"fmt"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/jobflow/aggregation"
	"github.com/armadaproject/jobflow/internal/jobflow/catalog"
	"github.com/armadaproject/jobflow/internal/jobflow/condition"
	"github.com/armadaproject/jobflow/internal/jobflow/jobs"
	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

type fakeRecords struct {
	records   map[string]*schedulerobjects.SubmissionRecord
	completed map[string]bool
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: map[string]*schedulerobjects.SubmissionRecord{}, completed: map[string]bool{}}
}

func (f *fakeRecords) Record(fingerprint string) (*schedulerobjects.SubmissionRecord, bool) {
	record, ok := f.records[fingerprint]
	return record, ok
}

func (f *fakeRecords) Completed(fingerprint string) bool {
	return f.completed[fingerprint]
}

// gridJobs returns the 9 jobs {a in 0..2, b in 0..2}.
func gridJobs() []*jobs.Job {
	result := []*jobs.Job{}
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			result = append(result, jobs.NewJob(
				fmt.Sprintf("job-%d-%d", a, b),
				map[string]interface{}{"a": float64(a), "b": float64(b)},
				jobs.NewMapDocument(nil),
			))
		}
	}
	return result
}

func newCatalog(t *testing.T, specs ...*catalog.OperationSpec) *catalog.Catalog {
	c := catalog.New()
	for _, spec := range specs {
		require.NoError(t, c.Register(spec))
	}
	return c
}

func mustOperation(t *testing.T, name string, opts ...catalog.OperationOption) *catalog.OperationSpec {
	spec, err := catalog.NewOperation(name, "run "+name, opts...)
	require.NoError(t, err)
	return spec
}

func TestResolve_CompletionScenario(t *testing.T) {
	input := gridJobs()
	compute := mustOperation(t, "compute", catalog.WithPre(condition.Always()), catalog.WithPost(condition.DocumentFlag("done")))
	resolver := NewResolver(newCatalog(t, compute), newFakeRecords(), nil)

	result, err := resolver.Resolve(input)
	require.NoError(t, err)
	assert.NoError(t, result.Errors)
	assert.Len(t, result.Eligible, 9)

	for _, job := range input[:3] {
		job.Document().(*jobs.MapDocument).Set("done", true)
	}
	result, err = resolver.Resolve(input)
	require.NoError(t, err)
	assert.Len(t, result.Eligible, 6)
	for _, job := range input[:3] {
		assert.Equal(t, Inactive, result.States[compute.Fingerprint(job.Id())])
	}
	for _, instance := range result.Eligible {
		assert.NotContains(t, []string{"job-0-0", "job-0-1", "job-0-2"}, instance.Aggregate.Id())
	}
}

func TestResolve_TrackedRecords(t *testing.T) {
	input := gridJobs()[:4]
	compute := mustOperation(t, "compute", catalog.WithPost(condition.DocumentFlag("done")))
	records := newFakeRecords()
	statuses := []schedulerobjects.Status{schedulerobjects.StatusUnknown, schedulerobjects.StatusQueued, schedulerobjects.StatusActive}
	for i, status := range statuses {
		fingerprint := compute.Fingerprint(input[i].Id())
		records.records[fingerprint] = &schedulerobjects.SubmissionRecord{Fingerprint: fingerprint, Status: status, ExternalId: "42"}
	}

	result, err := NewResolver(newCatalog(t, compute), records, nil).Resolve(input)
	require.NoError(t, err)
	expected := []State{Submitted, Queued, Active, Eligible}
	for i, job := range input {
		assert.Equal(t, expected[i], result.States[compute.Fingerprint(job.Id())], job.Id())
	}
	require.Len(t, result.Eligible, 1)
	assert.Equal(t, input[3].Id(), result.Eligible[0].Aggregate.Id())
	assert.Equal(t, "42", result.Instances[0].ExternalId)
}

func TestResolve_PreConditionsNotMet(t *testing.T) {
	input := gridJobs()
	compute := mustOperation(t, "compute",
		catalog.WithPre(condition.StatePointEquals("a", 1)),
		catalog.WithPost(condition.DocumentFlag("done")),
	)
	result, err := NewResolver(newCatalog(t, compute), nil, nil).Resolve(input)
	require.NoError(t, err)
	assert.Len(t, result.Eligible, 3)
	assert.Equal(t, NotEligible, result.States[compute.Fingerprint("job-0-0")])
	assert.Equal(t, map[State]int{Eligible: 3, NotEligible: 6}, result.Counts()["compute"])
}

func TestResolve_OperationWithoutPostConditionsRunsOnce(t *testing.T) {
	input := gridJobs()[:2]
	setup := mustOperation(t, "setup")
	records := newFakeRecords()

	resolver := NewResolver(newCatalog(t, setup), records, nil)
	result, err := resolver.Resolve(input)
	require.NoError(t, err)
	assert.Len(t, result.Eligible, 2)

	records.completed[setup.Fingerprint(input[0].Id())] = true
	result, err = resolver.Resolve(input)
	require.NoError(t, err)
	require.Len(t, result.Eligible, 1)
	assert.Equal(t, input[1].Id(), result.Eligible[0].Aggregate.Id())
	assert.Equal(t, Inactive, result.States[setup.Fingerprint(input[0].Id())])
}

func TestResolve_CompletionMarkerIgnoredWithPostConditions(t *testing.T) {
	input := gridJobs()[:1]
	compute := mustOperation(t, "compute", catalog.WithPost(condition.DocumentFlag("done")))
	records := newFakeRecords()
	records.completed[compute.Fingerprint(input[0].Id())] = true

	result, err := NewResolver(newCatalog(t, compute), records, nil).Resolve(input)
	require.NoError(t, err)
	assert.Len(t, result.Eligible, 1)
}

func TestResolve_EvaluationErrorSkipsPair(t *testing.T) {
	input := gridJobs()[:3]
	flaky := condition.Func("flaky", func(target condition.Target) (interface{}, error) {
		if target.Id() == "job-0-1" {
			return nil, errors.New("document unreadable")
		}
		return true, nil
	})
	compute := mustOperation(t, "compute", catalog.WithPre(flaky), catalog.WithPost(condition.DocumentFlag("done")))
	analyze := mustOperation(t, "analyze", catalog.WithPost(condition.DocumentFlag("analyzed")))

	result, err := NewResolver(newCatalog(t, compute, analyze), nil, nil).Resolve(input)
	require.NoError(t, err)
	assert.Len(t, result.Eligible, 5)
	_, ok := result.States[compute.Fingerprint("job-0-1")]
	assert.False(t, ok)
	assert.Equal(t, Eligible, result.States[analyze.Fingerprint("job-0-1")])

	var merr *multierror.Error
	require.ErrorAs(t, result.Errors, &merr)
	require.Len(t, merr.Errors, 1)
	var evalErr *flowerrors.ErrEvaluation
	assert.ErrorAs(t, merr.Errors[0], &evalErr)
}

func TestResolve_KeyLookupErrorIsFatal(t *testing.T) {
	input := gridJobs()
	grouped := mustOperation(t, "grouped", catalog.WithAggregation(aggregation.GroupBy(aggregation.Field("missing"))))
	_, err := NewResolver(newCatalog(t, grouped), nil, nil).Resolve(input)
	var keyErr *flowerrors.ErrKeyLookup
	assert.ErrorAs(t, err, &keyErr)
}

func TestResolve_ByAggregate(t *testing.T) {
	input := gridJobs()
	compute := mustOperation(t, "compute", catalog.WithPost(condition.DocumentFlag("done")))
	analyze := mustOperation(t, "analyze", catalog.WithPost(condition.DocumentFlag("analyzed")))
	summarize := mustOperation(t, "summarize",
		catalog.WithAggregation(aggregation.GroupBy(aggregation.Field("a"))),
		catalog.WithPost(condition.DocumentFlag("summarized")),
	)
	input[0].Document().(*jobs.MapDocument).Set("done", true)

	result, err := NewResolver(newCatalog(t, compute, analyze, summarize), nil, nil).Resolve(input)
	require.NoError(t, err)
	assert.Equal(t, []*catalog.OperationSpec{analyze}, result.ByAggregate[input[0].Id()])
	assert.Equal(t, []*catalog.OperationSpec{compute, analyze}, result.ByAggregate[input[1].Id()])
	assert.Len(t, result.Aggregates, 12)

	groups := 0
	for _, agg := range result.Aggregates {
		if agg.Len() == 3 {
			groups++
			assert.Equal(t, []*catalog.OperationSpec{summarize}, result.ByAggregate[agg.Id()])
		}
	}
	assert.Equal(t, 3, groups)
}

func TestResolve_EligibleOrder(t *testing.T) {
	input := gridJobs()[:2]
	compute := mustOperation(t, "compute", catalog.WithPost(condition.DocumentFlag("done")))
	analyze := mustOperation(t, "analyze", catalog.WithPost(condition.DocumentFlag("analyzed")))

	result, err := NewResolver(newCatalog(t, compute, analyze), nil, nil).Resolve(input)
	require.NoError(t, err)
	order := []string{}
	for _, instance := range result.Eligible {
		order = append(order, instance.Operation.Name+"/"+instance.Aggregate.Id())
	}
	assert.Equal(t, []string{"compute/job-0-0", "compute/job-0-1", "analyze/job-0-0", "analyze/job-0-1"}, order)
}

func TestResolveFiltered(t *testing.T) {
	input := gridJobs()
	compute := mustOperation(t, "compute", catalog.InGroup("sim"), catalog.WithPost(condition.DocumentFlag("done")))
	analyze := mustOperation(t, "analyze", catalog.WithPost(condition.DocumentFlag("analyzed")))
	resolver := NewResolver(newCatalog(t, compute, analyze), nil, nil)

	tests := map[string]struct {
		filter   Filter
		expected int
	}{
		"no filter":        {filter: Filter{}, expected: 18},
		"by operation":     {filter: Filter{Operations: []string{"analyze"}}, expected: 9},
		"by group":         {filter: Filter{Group: "sim"}, expected: 9},
		"by job glob":      {filter: Filter{JobIds: []string{"job-1-*"}}, expected: 6},
		"operation + glob": {filter: Filter{Operations: []string{"compute"}, JobIds: []string{"job-?-0", "job-2-2"}}, expected: 4},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			result, err := resolver.ResolveFiltered(input, tc.filter)
			require.NoError(t, err)
			assert.Len(t, result.Eligible, tc.expected)
		})
	}
}

func TestResolveFiltered_Invalid(t *testing.T) {
	resolver := NewResolver(newCatalog(t, mustOperation(t, "compute")), nil, nil)
	var configErr *flowerrors.ErrConfiguration

	_, err := resolver.ResolveFiltered(gridJobs(), Filter{Operations: []string{"missing"}})
	assert.ErrorAs(t, err, &configErr)

	_, err = resolver.ResolveFiltered(gridJobs(), Filter{Group: "missing"})
	assert.ErrorAs(t, err, &configErr)

	_, err = resolver.ResolveFiltered(gridJobs(), Filter{JobIds: []string{"job-[0"}})
	assert.ErrorAs(t, err, &configErr)
}
