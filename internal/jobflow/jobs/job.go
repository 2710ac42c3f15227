package jobs

import (
	"strings"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Document is read access to the mutable per-job key-value store.
type Document interface {
	Get(key string) (interface{}, bool)
}

// Job is a point in the parameter space. The state point is immutable once the job is created; the document
// may be changed concurrently by whatever runs the job's operations.
type Job struct {
	id         string
	statePoint map[string]interface{}
	document   Document
}

// NewJob returns a job with the given id. The state point is copied; a nil document is treated as empty.
func NewJob(id string, statePoint map[string]interface{}, document Document) *Job {
	if document == nil {
		document = NewMapDocument(nil)
	}
	return &Job{
		id:         id,
		statePoint: maps.Clone(statePoint),
		document:   document,
	}
}

func (job *Job) Id() string {
	return job.id
}

// StatePoint returns a copy of the state point.
func (job *Job) StatePoint() map[string]interface{} {
	return maps.Clone(job.statePoint)
}

func (job *Job) Document() Document {
	return job.document
}

// Get looks up a state point value. Keys may address nested mappings with dots, e.g. "system.size",
// but an exact match on the full key takes precedence.
func (job *Job) Get(key string) (interface{}, bool) {
	return Lookup(job.statePoint, key)
}

// Members returns the job itself, so that a single job can be evaluated wherever an aggregate can.
func (job *Job) Members() []*Job {
	return []*Job{job}
}

// Lookup finds key in m, descending into nested maps for dotted keys.
func Lookup(m map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	head, rest, found := strings.Cut(key, ".")
	if !found {
		return nil, false
	}
	nested, ok := m[head].(map[string]interface{})
	if !ok {
		return nil, false
	}
	return Lookup(nested, rest)
}

// MapDocument is an in-memory Document that is safe for concurrent use.
type MapDocument struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

func NewMapDocument(values map[string]interface{}) *MapDocument {
	if values == nil {
		values = map[string]interface{}{}
	}
	return &MapDocument{values: maps.Clone(values)}
}

func (d *MapDocument) Get(key string) (interface{}, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Lookup(d.values, key)
}

func (d *MapDocument) Set(key string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[key] = value
}

func (d *MapDocument) Delete(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.values, key)
}

// Keys returns the top level keys in sorted order.
func (d *MapDocument) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := maps.Keys(d.values)
	slices.Sort(keys)
	return keys
}
