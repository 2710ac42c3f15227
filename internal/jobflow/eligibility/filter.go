package eligibility

import (
	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/common/util"
	"github.com/armadaproject/jobflow/internal/jobflow/aggregation"
	"github.com/armadaproject/jobflow/internal/jobflow/catalog"
)

// Filter restricts a resolution. The zero Filter matches everything.
type Filter struct {
	// Operation names. Empty means every operation.
	Operations []string
	// Operation group. Empty means every group.
	Group string
	// Glob patterns matched against job ids, e.g. "abc*" or "runs/**". An aggregate matches if any of its jobs
	// matches any pattern.
	JobIds []string
}

func (f Filter) Validate() error {
	for _, pattern := range f.JobIds {
		if !doublestar.ValidatePattern(pattern) {
			return errors.WithStack(&flowerrors.ErrConfiguration{Name: "job", Value: pattern, Message: "invalid glob pattern"})
		}
	}
	return nil
}

// operations returns the operations of c selected by the filter, in registration order.
func (f Filter) operations(c *catalog.Catalog) ([]*catalog.OperationSpec, error) {
	specs := c.Operations()
	if f.Group != "" {
		group, err := c.Group(f.Group)
		if err != nil {
			return nil, err
		}
		specs = group
	}
	if len(f.Operations) == 0 {
		return specs, nil
	}
	for _, name := range f.Operations {
		if _, ok := c.Get(name); !ok {
			return nil, errors.WithStack(&flowerrors.ErrConfiguration{Name: "operation", Value: name, Message: "no such operation"})
		}
	}
	names := util.StringListToSet(f.Operations)
	return util.Filter(specs, func(spec *catalog.OperationSpec) bool { return names[spec.Name] }), nil
}

func (f Filter) matches(agg *aggregation.Aggregate) bool {
	if len(f.JobIds) == 0 {
		return true
	}
	for _, id := range agg.JobIds() {
		if f.MatchesJob(id) {
			return true
		}
	}
	return false
}

// MatchesJob returns true if the job id matches one of the JobIds patterns, or if there are none.
func (f Filter) MatchesJob(id string) bool {
	if len(f.JobIds) == 0 {
		return true
	}
	for _, pattern := range f.JobIds {
		if ok, _ := doublestar.Match(pattern, id); ok {
			return true
		}
	}
	return false
}
