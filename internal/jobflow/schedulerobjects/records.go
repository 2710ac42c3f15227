package schedulerobjects

import (
	"time"

	"github.com/armadaproject/jobflow/internal/common/util"
)

// Fingerprint identifies an (operation, aggregate) pair. At most one live SubmissionRecord exists per fingerprint.
func Fingerprint(operation string, aggregateId string) string {
	return operation + "-" + util.Md5Hex(operation, aggregateId)
}

// SubmissionRecord tracks one operation instance submitted to the cluster scheduler.
// Records stored by the tracker must not be modified in place; use DeepCopy.
type SubmissionRecord struct {
	Fingerprint string `json:"fingerprint"`
	Operation   string `json:"operation"`
	AggregateId string `json:"aggregateId"`
	// Scheduler job name of the bundle this instance was submitted in.
	Label string `json:"label,omitempty"`
	// Assigned by the scheduler backend. Empty while the submission is reserved but not yet accepted.
	ExternalId    string    `json:"externalId,omitempty"`
	Status        Status    `json:"status"`
	SubmittedAt   time.Time `json:"submittedAt"`
	LastRefreshed time.Time `json:"lastRefreshed"`
}

// Pending returns true while the record is a reservation that the backend has not yet accepted.
func (r *SubmissionRecord) Pending() bool {
	return r.ExternalId == ""
}

func (r *SubmissionRecord) DeepCopy() *SubmissionRecord {
	if r == nil {
		return nil
	}
	copied := *r
	return &copied
}

// CompletionMarker records that an instance reached Inactive. Operations without post-conditions consult it to
// avoid being resubmitted forever.
type CompletionMarker struct {
	Fingerprint string    `json:"fingerprint"`
	Operation   string    `json:"operation"`
	AggregateId string    `json:"aggregateId"`
	Label       string    `json:"label,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// MarkerFor returns the completion marker of a record evicted at completedAt.
func MarkerFor(record *SubmissionRecord, completedAt time.Time) *CompletionMarker {
	return &CompletionMarker{
		Fingerprint: record.Fingerprint,
		Operation:   record.Operation,
		AggregateId: record.AggregateId,
		Label:       record.Label,
		CompletedAt: completedAt,
	}
}

// ClusterJob is a job as reported by the scheduler backend.
type ClusterJob struct {
	Id     string
	Name   string
	Status Status
}

// BundleEntry is one operation instance inside a bundle.
type BundleEntry struct {
	Fingerprint string
	Operation   string
	AggregateId string
}

// Bundle is a set of operation instances submitted to the scheduler as a single job.
type Bundle struct {
	Label   string
	Script  string
	Entries []BundleEntry
}

func (b *Bundle) Fingerprints() []string {
	return util.Map(b.Entries, func(e BundleEntry) string { return e.Fingerprint })
}

func (b *Bundle) Operations() []string {
	return util.Map(b.Entries, func(e BundleEntry) string { return e.Operation })
}

func (b *Bundle) AggregateIds() []string {
	return util.Map(b.Entries, func(e BundleEntry) string { return e.AggregateId })
}
