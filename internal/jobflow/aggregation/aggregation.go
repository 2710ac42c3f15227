// Package aggregation partitions an ordered sequence of jobs into aggregates according to a Policy.
// For a given job sequence and policy the output is always the same, so aggregate ids are stable across calls.
package aggregation

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/jobflow/jobs"
)

// Build applies policy to input. The selection runs first, then the stable sort, then the grouping.
func Build(input []*jobs.Job, policy *Policy) ([]*Aggregate, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	selected, err := selectJobs(input, policy.selector)
	if err != nil {
		return nil, err
	}
	if policy.sortBy != "" {
		if selected, err = sortJobs(selected, policy.sortBy, policy.reverse); err != nil {
			return nil, err
		}
	}

	switch policy.kind {
	case IdentityType:
		result := make([]*Aggregate, len(selected))
		for i, job := range selected {
			result[i] = NewAggregate([]*jobs.Job{job})
		}
		return result, nil
	case AllType:
		if len(selected) == 0 {
			return []*Aggregate{}, nil
		}
		return []*Aggregate{NewAggregate(selected)}, nil
	case GroupsOfType:
		return groupsOf(selected, policy.groupSize), nil
	default:
		return groupBy(selected, policy)
	}
}

// Contains returns true if aggregating input with policy produces an aggregate with the same identity as agg.
func (p *Policy) Contains(agg *Aggregate, input []*jobs.Job) (bool, error) {
	aggregates, err := Build(input, p)
	if err != nil {
		return false, err
	}
	for _, a := range aggregates {
		if a.Id() == agg.Id() {
			return true, nil
		}
	}
	return false, nil
}

func selectJobs(input []*jobs.Job, selector Selector) ([]*jobs.Job, error) {
	if selector == nil {
		result := make([]*jobs.Job, len(input))
		copy(result, input)
		return result, nil
	}
	result := make([]*jobs.Job, 0, len(input))
	for _, job := range input {
		keep, err := selector(job)
		if err != nil {
			return nil, errors.WithMessagef(err, "selecting job %s", job.Id())
		}
		if keep {
			result = append(result, job)
		}
	}
	return result, nil
}

type keyedJob struct {
	job *jobs.Job
	key interface{}
}

func sortJobs(input []*jobs.Job, field string, reverse bool) ([]*jobs.Job, error) {
	keyed := make([]keyedJob, len(input))
	for i, job := range input {
		v, ok := job.Get(field)
		if !ok {
			return nil, errors.WithStack(&flowerrors.ErrKeyLookup{Key: field, Job: job.Id()})
		}
		keyed[i] = keyedJob{job: job, key: v}
	}
	slices.SortStableFunc(keyed, func(a, b keyedJob) bool {
		if reverse {
			return Compare(a.key, b.key) > 0
		}
		return Compare(a.key, b.key) < 0
	})
	result := make([]*jobs.Job, len(keyed))
	for i, k := range keyed {
		result[i] = k.job
	}
	return result, nil
}

func groupsOf(input []*jobs.Job, n int) []*Aggregate {
	result := make([]*Aggregate, 0, len(input)/n+1)
	for start := 0; start < len(input); start += n {
		slots := make([]*jobs.Job, n)
		copy(slots, input[start:])
		result = append(result, NewAggregate(slots))
	}
	return result
}

func groupBy(input []*jobs.Job, policy *Policy) ([]*Aggregate, error) {
	keyed := make([]keyedJob, len(input))
	for i, job := range input {
		key, err := policy.keyOf(job)
		if err != nil {
			return nil, err
		}
		keyed[i] = keyedJob{job: job, key: key}
	}
	slices.SortStableFunc(keyed, func(a, b keyedJob) bool {
		return Compare(a.key, b.key) < 0
	})

	result := []*Aggregate{}
	for start := 0; start < len(keyed); {
		end := start + 1
		for end < len(keyed) && Compare(keyed[start].key, keyed[end].key) == 0 {
			end++
		}
		members := make([]*jobs.Job, 0, end-start)
		for _, k := range keyed[start:end] {
			members = append(members, k.job)
		}
		result = append(result, NewAggregate(members))
		start = end
	}
	return result, nil
}

// keyOf returns the group key of job: a single value for one field, a list for several fields.
func (p *Policy) keyOf(job *jobs.Job) (interface{}, error) {
	if p.key.fn != nil {
		v, err := p.key.fn(job)
		if err != nil {
			return nil, errors.WithMessagef(err, "computing group key of job %s", job.Id())
		}
		return v, nil
	}
	values := make([]interface{}, len(p.key.fields))
	for i, field := range p.key.fields {
		v, ok := job.Get(field)
		if !ok {
			if !p.hasDefault {
				return nil, errors.WithStack(&flowerrors.ErrKeyLookup{Key: field, Job: job.Id()})
			}
			v = p.defaultFor(i)
		}
		values[i] = v
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}

// defaultFor returns the default of the i-th key field. A list default with one entry per field is applied
// positionally; any other default applies to every field.
func (p *Policy) defaultFor(i int) interface{} {
	if defaults, ok := p.defaultVal.([]interface{}); ok && len(defaults) == len(p.key.fields) && len(defaults) > 1 {
		return defaults[i]
	}
	return p.defaultVal
}
