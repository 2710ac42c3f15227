// Package condition evaluates pre-conditions, post-conditions and labels against jobs and aggregates.
package condition

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
)

// Label is a named predicate used to classify jobs for display. A label may also yield a string tag:
// a Func predicate returning a non-empty string marks the label present and uses the string as its tag.
type Label struct {
	Name      string
	Predicate Predicate
}

// Result is the normalized outcome of a label.
type Result struct {
	Present bool
	Tag     string
}

// Evaluator evaluates predicates. It holds the labels that Label predicates and Classify refer to.
// It is safe for concurrent use.
type Evaluator struct {
	mu     sync.RWMutex
	labels []Label
	index  map[string]int
}

func NewEvaluator(labels ...Label) (*Evaluator, error) {
	e := &Evaluator{index: map[string]int{}}
	for _, label := range labels {
		if err := e.AddLabel(label); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddLabel registers a label. Names must be unique.
func (e *Evaluator) AddLabel(label Label) error {
	if label.Name == "" {
		return errors.WithStack(&flowerrors.ErrConfiguration{Name: "label", Value: label.Name, Message: "name is required"})
	}
	if err := label.Predicate.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.index[label.Name]; exists {
		return errors.WithStack(&flowerrors.ErrDuplicateName{Type: "label", Value: label.Name})
	}
	if path := e.referencePath(label); path != nil {
		return errors.WithStack(&flowerrors.ErrConfiguration{
			Name:    "label",
			Value:   label.Name,
			Message: fmt.Sprintf("labels refer to each other in a cycle: %s", strings.Join(path, " -> ")),
		})
	}
	e.index[label.Name] = len(e.labels)
	e.labels = append(e.labels, label)
	return nil
}

// referencePath follows the label references starting at label and returns the path if it leads back to label.
// Registered labels never form a cycle, so a new cycle must pass through the label being added.
// The caller must hold the lock.
func (e *Evaluator) referencePath(label Label) []string {
	path := []string{label.Name}
	for p := label.Predicate; p.Kind == LabelKind; {
		path = append(path, p.Key)
		if p.Key == label.Name {
			return path
		}
		i, ok := e.index[p.Key]
		if !ok {
			return nil
		}
		p = e.labels[i].Predicate
	}
	return nil
}

// Labels returns the label names in registration order.
func (e *Evaluator) Labels() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, len(e.labels))
	for i, label := range e.labels {
		names[i] = label.Name
	}
	return names
}

// Evaluate returns the boolean outcome of p on target. Errors and panics raised while evaluating are returned
// as ErrEvaluation naming the predicate and target; they are never treated as false.
func (e *Evaluator) Evaluate(p Predicate, target Target) (result bool, err error) {
	value, err := e.value(p, target)
	if err != nil {
		return false, err
	}
	return Truthy(value) != p.Negate, nil
}

// EvaluateAll returns true iff every predicate holds. An empty list holds vacuously.
func (e *Evaluator) EvaluateAll(predicates []Predicate, target Target) (bool, error) {
	for _, p := range predicates {
		ok, err := e.Evaluate(p, target)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// LabelResult evaluates the named label.
func (e *Evaluator) LabelResult(name string, target Target) (Result, error) {
	label, ok := e.label(name)
	if !ok {
		return Result{}, errors.WithStack(&flowerrors.ErrEvaluation{
			Predicate: "label." + name,
			Target:    target.Id(),
			Err:       fmt.Errorf("label %q is not registered", name),
		})
	}
	value, err := e.value(label.Predicate, target)
	if err != nil {
		return Result{}, err
	}
	return normalize(value, label.Predicate.Negate), nil
}

// Classify returns the present labels of target in registration order, using the tag in place of the name
// for labels that yield one.
func (e *Evaluator) Classify(target Target) ([]string, error) {
	e.mu.RLock()
	labels := make([]Label, len(e.labels))
	copy(labels, e.labels)
	e.mu.RUnlock()

	result := []string{}
	for _, label := range labels {
		r, err := e.LabelResult(label.Name, target)
		if err != nil {
			return nil, err
		}
		if !r.Present {
			continue
		}
		if r.Tag != "" {
			result = append(result, r.Tag)
		} else {
			result = append(result, label.Name)
		}
	}
	return result, nil
}

func (e *Evaluator) label(name string) (Label, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	i, ok := e.index[name]
	if !ok {
		return Label{}, false
	}
	return e.labels[i], true
}

// value computes the raw, un-negated outcome of p.
func (e *Evaluator) value(p Predicate, target Target) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WithStack(&flowerrors.ErrEvaluation{
				Predicate: p.String(),
				Target:    target.Id(),
				Err:       fmt.Errorf("panic: %v", r),
			})
		}
	}()
	if err := p.Validate(); err != nil {
		return nil, err
	}

	switch p.Kind {
	case StatePointKind, DocumentKind:
		members := target.Members()
		if len(members) == 0 {
			return false, nil
		}
		for _, job := range members {
			var v interface{}
			var found bool
			if p.Kind == StatePointKind {
				v, found = job.Get(p.Key)
			} else {
				v, found = job.Document().Get(p.Key)
			}
			if !found {
				return false, nil
			}
			if p.Value == nil && !Truthy(v) || p.Value != nil && !Equal(v, p.Value) {
				return false, nil
			}
		}
		return true, nil
	case LabelKind:
		r, err := e.LabelResult(p.Key, target)
		if err != nil {
			return nil, err
		}
		return r.Present, nil
	default:
		v, err := p.Func(target)
		if err != nil {
			return nil, errors.WithStack(&flowerrors.ErrEvaluation{Predicate: p.String(), Target: target.Id(), Err: err})
		}
		return v, nil
	}
}

func normalize(value interface{}, negate bool) Result {
	if s, ok := value.(string); ok && s != "" && !negate {
		return Result{Present: true, Tag: s}
	}
	return Result{Present: Truthy(value) != negate}
}
