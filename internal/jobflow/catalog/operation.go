package catalog

import (
	"github.com/pkg/errors"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/jobflow/aggregation"
	"github.com/armadaproject/jobflow/internal/jobflow/condition"
	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

// OperationSpec describes an operation: what to run, on which aggregates and when.
// An OperationSpec must not be modified once registered.
type OperationSpec struct {
	Name string
	// Command template, rendered per aggregate by the script renderer.
	Command    string
	Directives Directives
	Pre        []condition.Predicate
	Post       []condition.Predicate
	Policy     *aggregation.Policy
	Group      string
}

type OperationOption func(*OperationSpec)

func WithDirectives(directives Directives) OperationOption {
	return func(spec *OperationSpec) {
		spec.Directives = directives.Copy()
	}
}

// WithPre adds pre-conditions. All of them must hold for the operation to be eligible.
func WithPre(predicates ...condition.Predicate) OperationOption {
	return func(spec *OperationSpec) {
		spec.Pre = append(spec.Pre, predicates...)
	}
}

// WithPost adds post-conditions. The operation is complete once all of them hold.
func WithPost(predicates ...condition.Predicate) OperationOption {
	return func(spec *OperationSpec) {
		spec.Post = append(spec.Post, predicates...)
	}
}

func WithAggregation(policy *aggregation.Policy) OperationOption {
	return func(spec *OperationSpec) {
		spec.Policy = policy
	}
}

func InGroup(group string) OperationOption {
	return func(spec *OperationSpec) {
		spec.Group = group
	}
}

// NewOperation builds an OperationSpec. Operations aggregate with the identity policy unless told otherwise.
func NewOperation(name string, command string, opts ...OperationOption) (*OperationSpec, error) {
	spec := &OperationSpec{
		Name:       name,
		Command:    command,
		Directives: Directives{},
		Policy:     aggregation.Identity(),
	}
	for _, opt := range opts {
		opt(spec)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func (spec *OperationSpec) Validate() error {
	if spec.Name == "" {
		return errors.WithStack(&flowerrors.ErrConfiguration{Name: "operation", Value: spec.Name, Message: "name is required"})
	}
	if spec.Policy == nil {
		return errors.WithStack(&flowerrors.ErrConfiguration{Name: "aggregation", Value: nil, Message: "operation " + spec.Name + " has no aggregation policy"})
	}
	if err := spec.Policy.Validate(); err != nil {
		return errors.WithMessagef(err, "operation %s", spec.Name)
	}
	for _, p := range append(append([]condition.Predicate{}, spec.Pre...), spec.Post...) {
		if err := p.Validate(); err != nil {
			return errors.WithMessagef(err, "operation %s", spec.Name)
		}
	}
	return nil
}

// Fingerprint identifies this operation on the given aggregate.
func (spec *OperationSpec) Fingerprint(aggregateId string) string {
	return schedulerobjects.Fingerprint(spec.Name, aggregateId)
}

// HasPost returns true if the operation declares post-conditions.
func (spec *OperationSpec) HasPost() bool {
	return len(spec.Post) > 0
}
