// Package eligibility decides, for every operation and aggregate, whether the operation should be submitted,
// is already tracked by the cluster scheduler or is done.
package eligibility

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/jobflow/internal/common/logging"
	"github.com/armadaproject/jobflow/internal/jobflow/aggregation"
	"github.com/armadaproject/jobflow/internal/jobflow/catalog"
	"github.com/armadaproject/jobflow/internal/jobflow/jobs"
	"github.com/armadaproject/jobflow/internal/jobflow/metrics"
	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

// RecordSource exposes the submission records the resolver consults. It is satisfied by *tracker.Tracker.
type RecordSource interface {
	Record(fingerprint string) (*schedulerobjects.SubmissionRecord, bool)
	Completed(fingerprint string) bool
}

// Instance is one (operation, aggregate) pair and its state at resolution time.
type Instance struct {
	Operation   *catalog.OperationSpec
	Aggregate   *aggregation.Aggregate
	Fingerprint string
	State       State
	// Scheduler job id of the live record, if any.
	ExternalId string
}

type Result struct {
	// Every pair that could be evaluated, in operation then aggregate order.
	Instances []Instance
	// Pairs in state Eligible, in operation then aggregate order.
	Eligible []Instance
	// State of every evaluated pair by fingerprint.
	States map[string]State
	// Eligible operations of each aggregate by aggregate id, in registration order.
	ByAggregate map[string][]*catalog.OperationSpec
	// Aggregates in the order they were first produced.
	Aggregates []*aggregation.Aggregate
	// Evaluation errors of pairs that were skipped, as a *multierror.Error.
	Errors error
}

// Counts returns the number of pairs in each state per operation.
func (r *Result) Counts() map[string]map[State]int {
	counts := map[string]map[State]int{}
	for _, instance := range r.Instances {
		byState, ok := counts[instance.Operation.Name]
		if !ok {
			byState = map[State]int{}
			counts[instance.Operation.Name] = byState
		}
		byState[instance.State]++
	}
	return counts
}

type Resolver struct {
	catalog *catalog.Catalog
	records RecordSource
	metrics *metrics.Metrics
	logger  *log.Entry
}

// NewResolver returns a resolver over the operations of c. records may be nil, in which case no pair is tracked.
func NewResolver(c *catalog.Catalog, records RecordSource, m *metrics.Metrics) *Resolver {
	return &Resolver{
		catalog: c,
		records: records,
		metrics: m,
		logger:  logging.ForComponent("eligibility"),
	}
}

func (r *Resolver) Resolve(input []*jobs.Job) (*Result, error) {
	return r.ResolveFiltered(input, Filter{})
}

// ResolveFiltered computes the state of every selected (operation, aggregate) pair.
// Configuration and key lookup errors abort the resolution. A predicate failing on one pair only skips that pair;
// such failures are collected in Result.Errors.
func (r *Resolver) ResolveFiltered(input []*jobs.Job, filter Filter) (*Result, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	specs, err := filter.operations(r.catalog)
	if err != nil {
		return nil, err
	}

	result := &Result{
		States:      map[string]State{},
		ByAggregate: map[string][]*catalog.OperationSpec{},
	}
	var evaluationErrors *multierror.Error
	seen := map[string]bool{}
	for _, spec := range specs {
		aggregates, err := aggregation.Build(input, spec.Policy)
		if err != nil {
			return nil, errors.WithMessagef(err, "aggregating jobs for operation %s", spec.Name)
		}
		for _, agg := range aggregates {
			if !filter.matches(agg) {
				continue
			}
			if !seen[agg.Id()] {
				seen[agg.Id()] = true
				result.Aggregates = append(result.Aggregates, agg)
			}
			instance, err := r.resolve(spec, agg)
			if err != nil {
				evaluationErrors = multierror.Append(evaluationErrors, err)
				logging.WithStacktrace(logging.WithInstance(r.logger, spec.Name, agg.Id(), instance.Fingerprint), err).
					Warn("skipping operation instance")
				continue
			}
			result.Instances = append(result.Instances, instance)
			result.States[instance.Fingerprint] = instance.State
			if instance.State == Eligible {
				result.Eligible = append(result.Eligible, instance)
				result.ByAggregate[agg.Id()] = append(result.ByAggregate[agg.Id()], spec)
			}
		}
	}
	result.Errors = evaluationErrors.ErrorOrNil()

	eligible := map[string]int{}
	for _, spec := range specs {
		eligible[spec.Name] = 0
	}
	for _, instance := range result.Eligible {
		eligible[instance.Operation.Name]++
	}
	r.metrics.SetEligible(eligible)
	if evaluationErrors != nil {
		r.metrics.RecordEvaluationErrors(len(evaluationErrors.Errors))
	}
	r.logger.Debugf("resolved %d operation instances, %d eligible", len(result.Instances), len(result.Eligible))
	return result, nil
}

func (r *Resolver) resolve(spec *catalog.OperationSpec, agg *aggregation.Aggregate) (Instance, error) {
	instance := Instance{
		Operation:   spec,
		Aggregate:   agg,
		Fingerprint: spec.Fingerprint(agg.Id()),
	}
	if r.records != nil {
		if record, ok := r.records.Record(instance.Fingerprint); ok {
			instance.State = FromStatus(record.Status)
			instance.ExternalId = record.ExternalId
			return instance, nil
		}
	}

	complete, err := r.catalog.Complete(spec, agg)
	if err != nil {
		return instance, errors.WithMessagef(err, "operation %s on %s", spec.Name, agg.Id())
	}
	if complete || (!spec.HasPost() && r.records != nil && r.records.Completed(instance.Fingerprint)) {
		instance.State = Inactive
		return instance, nil
	}
	ready, err := r.catalog.Ready(spec, agg)
	if err != nil {
		return instance, errors.WithMessagef(err, "operation %s on %s", spec.Name, agg.Id())
	}
	if ready {
		instance.State = Eligible
	}
	return instance, nil
}
