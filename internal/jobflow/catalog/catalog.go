// Package catalog is the registry of operations, their groups and the labels used to classify jobs.
package catalog

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/jobflow/aggregation"
	"github.com/armadaproject/jobflow/internal/jobflow/condition"
	"github.com/armadaproject/jobflow/internal/jobflow/jobs"
)

// Catalog maps operation names to their specs. Operations are returned in registration order.
type Catalog struct {
	mu         sync.RWMutex
	operations []*OperationSpec
	index      map[string]*OperationSpec
	groupNames []string
	groups     map[string][]*OperationSpec
	evaluator  *condition.Evaluator
}

func New() *Catalog {
	evaluator, _ := condition.NewEvaluator()
	return &Catalog{
		index:     map[string]*OperationSpec{},
		groups:    map[string][]*OperationSpec{},
		evaluator: evaluator,
	}
}

// Register adds spec to the catalog. Names must be unique.
func (c *Catalog) Register(spec *OperationSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.index[spec.Name]; exists {
		return errors.WithStack(&flowerrors.ErrDuplicateName{Type: "operation", Value: spec.Name})
	}
	c.operations = append(c.operations, spec)
	c.index[spec.Name] = spec
	if spec.Group != "" {
		if _, exists := c.groups[spec.Group]; !exists {
			c.groupNames = append(c.groupNames, spec.Group)
		}
		c.groups[spec.Group] = append(c.groups[spec.Group], spec)
	}
	return nil
}

// AddLabel registers a label with the catalog's evaluator.
func (c *Catalog) AddLabel(label condition.Label) error {
	return c.evaluator.AddLabel(label)
}

func (c *Catalog) Evaluator() *condition.Evaluator {
	return c.evaluator
}

func (c *Catalog) Get(name string) (*OperationSpec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.index[name]
	return spec, ok
}

func (c *Catalog) Operations() []*OperationSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]*OperationSpec, len(c.operations))
	copy(result, c.operations)
	return result
}

// Groups returns the group names in the order they were first used.
func (c *Catalog) Groups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]string, len(c.groupNames))
	copy(result, c.groupNames)
	return result
}

// Group returns the operations of the named group in registration order.
func (c *Catalog) Group(name string) ([]*OperationSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ops, ok := c.groups[name]
	if !ok {
		return nil, errors.WithStack(&flowerrors.ErrConfiguration{Name: "group", Value: name, Message: "no such group"})
	}
	result := make([]*OperationSpec, len(ops))
	copy(result, ops)
	return result, nil
}

// After returns a pre-condition that holds once every post-condition of the named operation holds.
func (c *Catalog) After(name string) (condition.Predicate, error) {
	spec, ok := c.Get(name)
	if !ok {
		return condition.Predicate{}, errors.WithStack(&flowerrors.ErrConfiguration{Name: "after", Value: name, Message: "no such operation"})
	}
	if !spec.HasPost() {
		return condition.Predicate{}, errors.WithStack(&flowerrors.ErrConfiguration{Name: "after", Value: name, Message: "operation has no post-conditions"})
	}
	return condition.Func(fmt.Sprintf("after(%s)", name), func(target condition.Target) (interface{}, error) {
		return c.evaluator.EvaluateAll(spec.Post, target)
	}), nil
}

// Complete returns true if every post-condition of spec holds on target. An operation without post-conditions
// is never complete.
func (c *Catalog) Complete(spec *OperationSpec, target condition.Target) (bool, error) {
	if !spec.HasPost() {
		return false, nil
	}
	return c.evaluator.EvaluateAll(spec.Post, target)
}

// Ready returns true if every pre-condition of spec holds on target.
func (c *Catalog) Ready(spec *OperationSpec, target condition.Target) (bool, error) {
	return c.evaluator.EvaluateAll(spec.Pre, target)
}

// EligibleFor returns the operations, in registration order, whose policy produces agg from input, whose
// pre-conditions all hold and whose post-conditions do not all hold.
// Configuration and key lookup errors are returned immediately. Evaluation errors only exclude the affected
// operation and are returned together with the operations that could be evaluated.
func (c *Catalog) EligibleFor(agg *aggregation.Aggregate, input []*jobs.Job) ([]*OperationSpec, error) {
	var evaluationErrors *multierror.Error
	result := []*OperationSpec{}
	for _, spec := range c.Operations() {
		member, err := spec.Policy.Contains(agg, input)
		if err != nil {
			return nil, errors.WithMessagef(err, "aggregating jobs for operation %s", spec.Name)
		}
		if !member {
			continue
		}
		ready, err := c.Ready(spec, agg)
		if err == nil && ready {
			var complete bool
			complete, err = c.Complete(spec, agg)
			ready = !complete
		}
		if err != nil {
			evaluationErrors = multierror.Append(evaluationErrors, errors.WithMessagef(err, "operation %s on %s", spec.Name, agg.Id()))
			continue
		}
		if ready {
			result = append(result, spec)
		}
	}
	return result, evaluationErrors.ErrorOrNil()
}
