// Package repository contains the stores that persist submission records and completion markers.
package repository

import (
	"context"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

// InMemoryPersister keeps records for the lifetime of the process. It is used when persistence is disabled and
// in tests.
type InMemoryPersister struct {
	mu        sync.Mutex
	records   map[string]*schedulerobjects.SubmissionRecord
	completed map[string]*schedulerobjects.CompletionMarker
}

func NewInMemoryPersister() *InMemoryPersister {
	return &InMemoryPersister{
		records:   map[string]*schedulerobjects.SubmissionRecord{},
		completed: map[string]*schedulerobjects.CompletionMarker{},
	}
}

func (p *InMemoryPersister) Load(_ context.Context) ([]*schedulerobjects.SubmissionRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := maps.Keys(p.records)
	slices.Sort(keys)
	result := make([]*schedulerobjects.SubmissionRecord, len(keys))
	for i, key := range keys {
		result[i] = p.records[key].DeepCopy()
	}
	return result, nil
}

func (p *InMemoryPersister) Save(_ context.Context, records ...*schedulerobjects.SubmissionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, record := range records {
		p.records[record.Fingerprint] = record.DeepCopy()
	}
	return nil
}

func (p *InMemoryPersister) Delete(_ context.Context, fingerprints ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, fingerprint := range fingerprints {
		delete(p.records, fingerprint)
	}
	return nil
}

func (p *InMemoryPersister) LoadCompleted(_ context.Context) ([]*schedulerobjects.CompletionMarker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := maps.Keys(p.completed)
	slices.Sort(keys)
	result := make([]*schedulerobjects.CompletionMarker, len(keys))
	for i, key := range keys {
		marker := *p.completed[key]
		result[i] = &marker
	}
	return result, nil
}

func (p *InMemoryPersister) MarkCompleted(_ context.Context, markers ...*schedulerobjects.CompletionMarker) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, marker := range markers {
		copied := *marker
		p.completed[marker.Fingerprint] = &copied
		delete(p.records, marker.Fingerprint)
	}
	return nil
}

func (p *InMemoryPersister) ClearCompleted(_ context.Context, fingerprints ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(fingerprints) == 0 {
		p.completed = map[string]*schedulerobjects.CompletionMarker{}
		return nil
	}
	for _, fingerprint := range fingerprints {
		delete(p.completed, fingerprint)
	}
	return nil
}

func (p *InMemoryPersister) HealthCheck(_ context.Context) error {
	return nil
}
