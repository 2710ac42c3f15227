package aggregation

import (
	"github.com/armadaproject/jobflow/internal/common/util"
	"github.com/armadaproject/jobflow/internal/jobflow/jobs"
)

const idPrefix = "agg-"

// Aggregate is an ordered, immutable tuple of jobs. Trailing slots may hold nil padding when a fixed-size
// policy runs out of jobs; padding is part of the aggregate's identity but is never evaluated.
type Aggregate struct {
	id    string
	slots []*jobs.Job
}

// NewAggregate creates an aggregate over slots, where nil entries are padding.
func NewAggregate(slots []*jobs.Job) *Aggregate {
	copied := make([]*jobs.Job, len(slots))
	copy(copied, slots)
	return &Aggregate{
		id:    aggregateId(copied),
		slots: copied,
	}
}

// aggregateId is the job id for a single unpadded job, otherwise a digest of the member ids in order.
func aggregateId(slots []*jobs.Job) string {
	if len(slots) == 1 && slots[0] != nil {
		return slots[0].Id()
	}
	ids := make([]string, len(slots))
	for i, job := range slots {
		if job != nil {
			ids[i] = job.Id()
		}
	}
	return idPrefix + util.Md5Hex(ids...)
}

func (a *Aggregate) Id() string {
	return a.id
}

// Slots returns every slot including padding.
func (a *Aggregate) Slots() []*jobs.Job {
	result := make([]*jobs.Job, len(a.slots))
	copy(result, a.slots)
	return result
}

// Members returns the genuine jobs of the aggregate in order, skipping padding.
func (a *Aggregate) Members() []*jobs.Job {
	result := make([]*jobs.Job, 0, len(a.slots))
	for _, job := range a.slots {
		if job != nil {
			result = append(result, job)
		}
	}
	return result
}

func (a *Aggregate) Len() int {
	return len(a.slots)
}

// Padding returns the number of padded slots.
func (a *Aggregate) Padding() int {
	n := 0
	for _, job := range a.slots {
		if job == nil {
			n++
		}
	}
	return n
}

// IsPadding returns true if slot i holds no job.
func (a *Aggregate) IsPadding(i int) bool {
	return a.slots[i] == nil
}

// JobIds returns the ids of the genuine members.
func (a *Aggregate) JobIds() []string {
	return util.Map(a.Members(), func(job *jobs.Job) string { return job.Id() })
}
