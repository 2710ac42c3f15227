package aggregation

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/jobflow/jobs"
)

// Type identifies the grouping function of a policy.
type Type int

const (
	IdentityType Type = iota
	AllType
	GroupsOfType
	GroupByType
)

var typeNames = map[Type]string{
	IdentityType: "identity",
	AllType:      "all",
	GroupsOfType: "groupsof",
	GroupByType:  "groupby",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

func (t *Type) UnmarshalText(text []byte) error {
	name := strings.ToLower(string(text))
	for k, v := range typeNames {
		if v == name {
			*t = k
			return nil
		}
	}
	return errors.WithStack(&flowerrors.ErrConfiguration{
		Name:    "aggregation",
		Value:   string(text),
		Message: "must be one of identity, all, groupsof or groupby",
	})
}

// Key derives the grouping value of a job: a single state point field, a tuple of fields or a custom function.
type Key struct {
	fields []string
	fn     func(*jobs.Job) (interface{}, error)
}

func Field(name string) Key {
	return Key{fields: []string{name}}
}

// Fields groups by the tuple of the given fields.
func Fields(names ...string) Key {
	return Key{fields: names}
}

func KeyFunc(fn func(*jobs.Job) (interface{}, error)) Key {
	return Key{fn: fn}
}

func (k Key) String() string {
	if k.fn != nil {
		return "<func>"
	}
	return strings.Join(k.fields, ",")
}

// Selector filters the jobs a policy considers.
type Selector func(*jobs.Job) (bool, error)

// Policy describes how an operation's jobs are grouped into aggregates.
// A Policy is immutable once built; options are applied only by the constructors.
type Policy struct {
	kind       Type
	groupSize  int
	key        Key
	defaultVal interface{}
	hasDefault bool
	sortBy     string
	reverse    bool
	selector   Selector
}

type Option func(*Policy)

// SortBy stable-sorts the jobs by a state point field before grouping.
func SortBy(field string) Option {
	return func(p *Policy) {
		p.sortBy = field
	}
}

// Reverse sorts descending. Only meaningful together with SortBy.
func Reverse() Option {
	return func(p *Policy) {
		p.reverse = true
	}
}

// Select only aggregates the jobs for which selector returns true.
func Select(selector Selector) Option {
	return func(p *Policy) {
		p.selector = selector
	}
}

// WithDefault supplies the group key value for jobs missing a key field.
func WithDefault(value interface{}) Option {
	return func(p *Policy) {
		p.defaultVal = value
		p.hasDefault = true
	}
}

func newPolicy(kind Type, opts []Option) *Policy {
	p := &Policy{kind: kind}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Identity puts every job in an aggregate of its own.
func Identity(opts ...Option) *Policy {
	return newPolicy(IdentityType, opts)
}

// All puts the whole job space into a single aggregate.
func All(opts ...Option) *Policy {
	return newPolicy(AllType, opts)
}

// GroupsOf chunks jobs into aggregates of n, padding the last one. n must be positive.
func GroupsOf(n int, opts ...Option) *Policy {
	p := newPolicy(GroupsOfType, opts)
	p.groupSize = n
	return p
}

// GroupBy groups consecutive jobs with equal keys after sorting by key.
func GroupBy(key Key, opts ...Option) *Policy {
	p := newPolicy(GroupByType, opts)
	p.key = key
	return p
}

func (p *Policy) Type() Type {
	return p.kind
}

// MaxGroupSize bounds GroupsOf since every aggregate allocates all of its slots, padding included.
const MaxGroupSize = 1 << 16

// Validate returns a configuration error if the policy can never produce aggregates.
func (p *Policy) Validate() error {
	switch p.kind {
	case IdentityType, AllType:
	case GroupsOfType:
		if p.groupSize <= 0 {
			return errors.WithStack(&flowerrors.ErrConfiguration{
				Name:    "groupsof",
				Value:   p.groupSize,
				Message: "group size must be a positive integer",
			})
		}
		if p.groupSize > MaxGroupSize {
			return errors.WithStack(&flowerrors.ErrConfiguration{
				Name:    "groupsof",
				Value:   p.groupSize,
				Message: fmt.Sprintf("group size must not exceed %d", MaxGroupSize),
			})
		}
	case GroupByType:
		if p.key.fn == nil && len(p.key.fields) == 0 {
			return errors.WithStack(&flowerrors.ErrConfiguration{
				Name:    "groupby",
				Value:   p.key.String(),
				Message: "a key field or function is required",
			})
		}
	default:
		return errors.WithStack(&flowerrors.ErrConfiguration{Name: "aggregation", Value: p.kind})
	}
	return nil
}

func (p *Policy) String() string {
	var sb strings.Builder
	sb.WriteString(p.kind.String())
	switch p.kind {
	case GroupsOfType:
		fmt.Fprintf(&sb, "(%d)", p.groupSize)
	case GroupByType:
		fmt.Fprintf(&sb, "(%s)", p.key)
	}
	if p.sortBy != "" {
		fmt.Fprintf(&sb, " sort=%s", p.sortBy)
		if p.reverse {
			sb.WriteString(" reverse")
		}
	}
	if p.selector != nil {
		sb.WriteString(" select")
	}
	return sb.String()
}
