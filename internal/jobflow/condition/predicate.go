package condition

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/jobflow/jobs"
)

// Target is anything a predicate can be evaluated against: a single job or an aggregate.
// Members must not include padding.
type Target interface {
	Id() string
	Members() []*jobs.Job
}

type Kind int

const (
	StatePointKind Kind = iota
	DocumentKind
	LabelKind
	FuncKind
)

var kindNames = map[Kind]string{
	StatePointKind: "statepoint",
	DocumentKind:   "document",
	LabelKind:      "label",
	FuncKind:       "func",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k *Kind) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for kind, v := range kindNames {
		if v == name {
			*k = kind
			return nil
		}
	}
	return errors.WithStack(&flowerrors.ErrConfiguration{
		Name:    "condition",
		Value:   string(text),
		Message: "must be one of statepoint, document, label or func",
	})
}

// Predicate is a condition over a job or aggregate.
//
// StatePoint and Document predicates hold iff every member of the target has Key and its value equals Value,
// or is truthy when Value is nil. Label predicates look up the named label of the evaluator. Func predicates call
// Func and interpret its result as truthy or not. Negate inverts the outcome.
type Predicate struct {
	Kind   Kind
	Name   string
	Key    string
	Value  interface{}
	Negate bool
	Func   func(Target) (interface{}, error)
}

func StatePoint(key string) Predicate {
	return Predicate{Kind: StatePointKind, Key: key}
}

func StatePointEquals(key string, value interface{}) Predicate {
	return Predicate{Kind: StatePointKind, Key: key, Value: value}
}

// DocumentFlag holds when the document entry key is truthy for all members, e.g. a "done" flag.
func DocumentFlag(key string) Predicate {
	return Predicate{Kind: DocumentKind, Key: key}
}

func DocumentEquals(key string, value interface{}) Predicate {
	return Predicate{Kind: DocumentKind, Key: key, Value: value}
}

func HasLabel(name string) Predicate {
	return Predicate{Kind: LabelKind, Key: name}
}

func Func(name string, fn func(Target) (interface{}, error)) Predicate {
	return Predicate{Kind: FuncKind, Name: name, Func: fn}
}

// Always holds for every target.
func Always() Predicate {
	return Func("always", func(Target) (interface{}, error) { return true, nil })
}

func Not(p Predicate) Predicate {
	p.Negate = !p.Negate
	return p
}

func (p Predicate) String() string {
	name := p.Name
	if name == "" {
		switch {
		case p.Kind == FuncKind:
			name = "func"
		case p.Value != nil:
			name = fmt.Sprintf("%s.%s==%v", p.Kind, p.Key, p.Value)
		default:
			name = fmt.Sprintf("%s.%s", p.Kind, p.Key)
		}
	}
	if p.Negate {
		return "not " + name
	}
	return name
}

// Validate returns a configuration error for predicates that cannot be evaluated.
func (p Predicate) Validate() error {
	switch p.Kind {
	case StatePointKind, DocumentKind, LabelKind:
		if p.Key == "" {
			return errors.WithStack(&flowerrors.ErrConfiguration{Name: p.Kind.String(), Value: p.Key, Message: "key is required"})
		}
	case FuncKind:
		if p.Func == nil {
			return errors.WithStack(&flowerrors.ErrConfiguration{Name: p.String(), Value: nil, Message: "function is required"})
		}
	default:
		return errors.WithStack(&flowerrors.ErrConfiguration{Name: "condition", Value: p.Kind})
	}
	return nil
}
