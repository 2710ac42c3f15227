package catalog

import (
	"github.com/pkg/errors"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/jobflow/aggregation"
	"github.com/armadaproject/jobflow/internal/jobflow/condition"
	"github.com/armadaproject/jobflow/internal/jobflow/configuration"
	"github.com/armadaproject/jobflow/internal/jobflow/jobs"
)

// builtins are the func conditions that can be referenced from config by name.
var builtins = map[string]func() condition.Predicate{
	"always": condition.Always,
}

// FromConfig builds a catalog from its declarative configuration. Labels are registered first so that
// operations can refer to them; operations are registered in the order given, so "after" may only refer to
// operations listed earlier.
func FromConfig(config configuration.CatalogConfig) (*Catalog, error) {
	c := New()
	for _, labelConfig := range config.Labels {
		p, err := predicateFromConfig(labelConfig.Condition)
		if err != nil {
			return nil, errors.WithMessagef(err, "label %s", labelConfig.Name)
		}
		if err := c.AddLabel(condition.Label{Name: labelConfig.Name, Predicate: p}); err != nil {
			return nil, err
		}
	}
	for _, opConfig := range config.Operations {
		spec, err := c.operationFromConfig(opConfig)
		if err != nil {
			return nil, err
		}
		if err := c.Register(spec); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) operationFromConfig(config configuration.OperationConfig) (*OperationSpec, error) {
	pre, err := predicatesFromConfig(config.Pre)
	if err != nil {
		return nil, errors.WithMessagef(err, "operation %s", config.Name)
	}
	for _, name := range config.After {
		p, err := c.After(name)
		if err != nil {
			return nil, errors.WithMessagef(err, "operation %s", config.Name)
		}
		pre = append(pre, p)
	}
	post, err := predicatesFromConfig(config.Post)
	if err != nil {
		return nil, errors.WithMessagef(err, "operation %s", config.Name)
	}
	policy, err := policyFromConfig(config.Aggregation, c.evaluator)
	if err != nil {
		return nil, errors.WithMessagef(err, "operation %s", config.Name)
	}
	return NewOperation(
		config.Name,
		config.Command,
		WithDirectives(config.Directives),
		WithPre(pre...),
		WithPost(post...),
		WithAggregation(policy),
		InGroup(config.Group),
	)
}

func policyFromConfig(config configuration.AggregationConfig, evaluator *condition.Evaluator) (*aggregation.Policy, error) {
	var opts []aggregation.Option
	if config.SortBy != "" {
		opts = append(opts, aggregation.SortBy(config.SortBy))
	}
	if config.Reverse {
		opts = append(opts, aggregation.Reverse())
	}
	if config.Default != nil {
		opts = append(opts, aggregation.WithDefault(config.Default))
	}
	if len(config.Select) > 0 {
		predicates, err := predicatesFromConfig(config.Select)
		if err != nil {
			return nil, err
		}
		opts = append(opts, aggregation.Select(func(job *jobs.Job) (bool, error) {
			return evaluator.EvaluateAll(predicates, job)
		}))
	}

	var policy *aggregation.Policy
	switch config.Type {
	case aggregation.IdentityType:
		policy = aggregation.Identity(opts...)
	case aggregation.AllType:
		policy = aggregation.All(opts...)
	case aggregation.GroupsOfType:
		policy = aggregation.GroupsOf(config.GroupSize, opts...)
	case aggregation.GroupByType:
		policy = aggregation.GroupBy(aggregation.Fields(config.Keys...), opts...)
	default:
		return nil, errors.WithStack(&flowerrors.ErrConfiguration{Name: "aggregation", Value: config.Type})
	}
	return policy, policy.Validate()
}

func predicatesFromConfig(configs []configuration.ConditionConfig) ([]condition.Predicate, error) {
	result := make([]condition.Predicate, 0, len(configs))
	for _, config := range configs {
		p, err := predicateFromConfig(config)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

func predicateFromConfig(config configuration.ConditionConfig) (condition.Predicate, error) {
	var p condition.Predicate
	if config.Kind == condition.FuncKind {
		builtin, ok := builtins[config.Key]
		if !ok {
			return p, errors.WithStack(&flowerrors.ErrConfiguration{Name: "func", Value: config.Key, Message: "no such builtin condition"})
		}
		p = builtin()
	} else {
		p = condition.Predicate{Kind: config.Kind, Key: config.Key, Value: config.Value}
	}
	if config.Negate {
		p = condition.Not(p)
	}
	return p, p.Validate()
}
