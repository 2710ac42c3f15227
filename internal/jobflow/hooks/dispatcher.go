package hooks

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/jobflow/internal/common/logging"
	"github.com/armadaproject/jobflow/internal/jobflow/aggregation"
	"github.com/armadaproject/jobflow/internal/jobflow/catalog"
	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

// Dispatcher turns evicted submission records into events and fans them out to hooks.
// Aggregates are looked up among those passed to Observe, so post-conditions can be checked.
type Dispatcher struct {
	catalog *catalog.Catalog
	hooks   []Hook
	clock   clock.Clock
	logger  *log.Entry

	mu         sync.RWMutex
	aggregates map[string]*aggregation.Aggregate
}

func NewDispatcher(c *catalog.Catalog, clock clock.Clock, hooks ...Hook) *Dispatcher {
	return &Dispatcher{
		catalog:    c,
		hooks:      hooks,
		clock:      clock,
		logger:     logging.ForComponent("hooks"),
		aggregates: map[string]*aggregation.Aggregate{},
	}
}

// Observe replaces the known aggregates, typically with those of the latest resolution.
func (d *Dispatcher) Observe(aggregates []*aggregation.Aggregate) {
	known := make(map[string]*aggregation.Aggregate, len(aggregates))
	for _, agg := range aggregates {
		known[agg.Id()] = agg
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aggregates = known
}

// Notify calls every hook for record. Hook failures are logged.
func (d *Dispatcher) Notify(ctx context.Context, record *schedulerobjects.SubmissionRecord) {
	event := d.event(record)
	for _, hook := range d.hooks {
		if err := hook.OnFinish(ctx, event); err != nil {
			logging.WithStacktrace(logging.WithInstance(d.logger, record.Operation, record.AggregateId, record.Fingerprint), err).
				Warn("finish hook failed")
		}
	}
}

// Listener returns a function suitable for tracker.OnEvict.
func (d *Dispatcher) Listener(ctx context.Context) func(record *schedulerobjects.SubmissionRecord) {
	return func(record *schedulerobjects.SubmissionRecord) {
		d.Notify(ctx, record)
	}
}

func (d *Dispatcher) event(record *schedulerobjects.SubmissionRecord) Event {
	event := Event{
		Operation:   record.Operation,
		AggregateId: record.AggregateId,
		Label:       record.Label,
		ExternalId:  record.ExternalId,
		FinishedAt:  d.clock.Now(),
	}
	d.mu.RLock()
	agg, ok := d.aggregates[record.AggregateId]
	d.mu.RUnlock()
	if !ok {
		return event
	}
	event.JobIds = agg.JobIds()
	spec, ok := d.catalog.Get(record.Operation)
	if !ok || !spec.HasPost() {
		return event
	}
	complete, err := d.catalog.Complete(spec, agg)
	if err != nil {
		event.Err = err
	} else if !complete {
		event.Err = fmt.Errorf("post-conditions of %s are not met for %s", record.Operation, record.AggregateId)
	}
	return event
}
