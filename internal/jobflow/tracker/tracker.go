// Package tracker keeps the submission records of operation instances in sync with the cluster scheduler.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/common/logging"
	"github.com/armadaproject/jobflow/internal/common/util"
	"github.com/armadaproject/jobflow/internal/jobflow/backend"
	"github.com/armadaproject/jobflow/internal/jobflow/metrics"
	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

type Config struct {
	SubmitTimeout  time.Duration
	RefreshTimeout time.Duration
	// Minimum time between two scheduler queries. Refreshes arriving sooner return the last snapshot.
	MinRefreshInterval time.Duration
}

// EvictionListener is notified, outside of any lock, of every record that reached Inactive.
type EvictionListener func(record *schedulerobjects.SubmissionRecord)

// Tracker maps fingerprints to the scheduler status of their submission.
//
// All record mutations happen in a single memdb write transaction taken under mu, so no reader observes a record
// mid-transition. Calls to the scheduler and the persister are made without holding mu.
type Tracker struct {
	mu        sync.Mutex
	db        *RecordDb
	backend   backend.Backend
	persister Persister
	clock     clock.Clock
	config    Config
	metrics   *metrics.Metrics
	logger    *log.Entry

	limiter   *rate.Limiter
	refreshes singleflight.Group
	// Submissions started by AcquireSlot that have not yet completed.
	inFlight  int
	snapshot  map[string]schedulerobjects.Status
	listeners []EvictionListener
}

func New(
	backend backend.Backend,
	persister Persister,
	clock clock.Clock,
	config Config,
	metrics *metrics.Metrics,
) (*Tracker, error) {
	db, err := NewRecordDb()
	if err != nil {
		return nil, err
	}
	limit := rate.Inf
	if config.MinRefreshInterval > 0 {
		limit = rate.Every(config.MinRefreshInterval)
	}
	return &Tracker{
		db:        db,
		backend:   backend,
		persister: persister,
		clock:     clock,
		config:    config,
		metrics:   metrics,
		logger:    logging.ForComponent("tracker"),
		limiter:   rate.NewLimiter(limit, 1),
		snapshot:  map[string]schedulerobjects.Status{},
	}, nil
}

// OnEvict registers a listener for records reaching Inactive.
func (t *Tracker) OnEvict(listener EvictionListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, listener)
}

// Recover loads persisted records and completion markers. Records already tracked are kept.
func (t *Tracker) Recover(ctx context.Context) error {
	records, err := t.persister.Load(ctx)
	if err != nil {
		return errors.WithMessage(err, "loading submission records")
	}
	markers, err := t.persister.LoadCompleted(ctx)
	if err != nil {
		return errors.WithMessage(err, "loading completion markers")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	txn := t.db.WriteTxn()
	defer txn.Abort()
	recovered := 0
	for _, record := range records {
		existing, err := t.db.GetByFingerprint(txn, record.Fingerprint)
		if err != nil {
			return err
		}
		if existing != nil || record.Pending() {
			continue
		}
		if err := t.db.Upsert(txn, record); err != nil {
			return err
		}
		recovered++
	}
	if err := t.db.MarkCompleted(txn, markers...); err != nil {
		return err
	}
	txn.Commit()
	t.logger.Infof("recovered %d submission records and %d completion markers", recovered, len(markers))
	return nil
}

// Reserve inserts a pending record for fingerprint unless a live record already exists, in which case it
// returns false. A reservation is either committed by Submit or dropped by Release.
func (t *Tracker) Reserve(fingerprint string, operation string, aggregateId string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	txn := t.db.WriteTxn()
	defer txn.Abort()
	existing, err := t.db.GetByFingerprint(txn, fingerprint)
	if err != nil || existing != nil {
		return false
	}
	record := &schedulerobjects.SubmissionRecord{
		Fingerprint: fingerprint,
		Operation:   operation,
		AggregateId: aggregateId,
		Status:      schedulerobjects.StatusUnknown,
		SubmittedAt: t.clock.Now(),
	}
	if err := t.db.Upsert(txn, record); err != nil {
		logging.WithStacktrace(t.logger, err).Error("failed to reserve submission record")
		return false
	}
	txn.Commit()
	return true
}

// Release drops pending reservations. Records already accepted by the scheduler are not affected.
func (t *Tracker) Release(fingerprints ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	txn := t.db.WriteTxn()
	defer txn.Abort()
	for _, fingerprint := range fingerprints {
		record, err := t.db.GetByFingerprint(txn, fingerprint)
		if err != nil || record == nil || !record.Pending() {
			continue
		}
		if err := t.db.BatchDelete(txn, fingerprint); err != nil {
			logging.WithStacktrace(t.logger, err).Error("failed to release reservation")
			return
		}
	}
	txn.Commit()
}

// AcquireSlot claims one of max outstanding submissions, where outstanding counts the distinct scheduler jobs of
// live records plus submissions in progress. max <= 0 means unlimited. The returned release func must be called
// once the submission has completed, successfully or not.
func (t *Tracker) AcquireSlot(max int) (release func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if max > 0 {
		outstanding, err := t.outstanding()
		if err != nil {
			logging.WithStacktrace(t.logger, err).Error("failed to count outstanding submissions")
			return func() {}, false
		}
		if outstanding+t.inFlight >= max {
			return func() {}, false
		}
	}
	t.inFlight++
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.inFlight--
		})
	}, true
}

func (t *Tracker) outstanding() (int, error) {
	records, err := t.db.GetAll(t.db.ReadTxn())
	if err != nil {
		return 0, err
	}
	ids := map[string]bool{}
	for _, record := range records {
		if !record.Pending() {
			ids[record.ExternalId] = true
		}
	}
	return len(ids), nil
}

// Submit hands bundle to the scheduler. Every entry must have been reserved. On success the reservations become
// Submitted records carrying the scheduler's id; on failure or timeout they are released and ErrSubmission is
// returned.
func (t *Tracker) Submit(ctx context.Context, bundle *schedulerobjects.Bundle) (string, error) {
	submitCtx, cancel := withTimeout(ctx, t.config.SubmitTimeout)
	defer cancel()
	externalId, err := t.backend.Submit(submitCtx, bundle.Script, bundle.Label)
	if err == nil && externalId == "" {
		err = errors.New("scheduler returned an empty job id")
	}
	if err != nil {
		t.Release(bundle.Fingerprints()...)
		return "", errors.WithStack(&flowerrors.ErrSubmission{
			Label:      bundle.Label,
			Operations: bundle.Operations(),
			Aggregates: bundle.AggregateIds(),
			Err:        err,
		})
	}

	now := t.clock.Now()
	committed := make([]*schedulerobjects.SubmissionRecord, 0, len(bundle.Entries))
	t.mu.Lock()
	txn := t.db.WriteTxn()
	for _, entry := range bundle.Entries {
		record := &schedulerobjects.SubmissionRecord{
			Fingerprint:   entry.Fingerprint,
			Operation:     entry.Operation,
			AggregateId:   entry.AggregateId,
			Label:         bundle.Label,
			ExternalId:    externalId,
			Status:        schedulerobjects.StatusSubmitted,
			SubmittedAt:   now,
			LastRefreshed: now,
		}
		if err = t.db.Upsert(txn, record); err != nil {
			break
		}
		committed = append(committed, record)
	}
	if err != nil {
		txn.Abort()
		t.mu.Unlock()
		return externalId, err
	}
	txn.Commit()
	t.mu.Unlock()

	t.persist(ctx, committed, nil, nil)
	return externalId, nil
}

// Refresh queries the scheduler once for every tracked job and returns the status of each fingerprint that was
// tracked at the time, including those that just became Inactive. Concurrent calls share one query; calls made
// sooner than MinRefreshInterval after the previous query return its snapshot.
// If the scheduler cannot be reached in time, records are left unchanged and ErrStatusRefresh is returned.
func (t *Tracker) Refresh(ctx context.Context) (map[string]schedulerobjects.Status, error) {
	if !t.limiter.AllowN(t.clock.Now(), 1) {
		return t.Snapshot(), nil
	}
	result, err, _ := t.refreshes.Do("refresh", func() (interface{}, error) {
		return t.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return maps.Clone(result.(map[string]schedulerobjects.Status)), nil
}

// Snapshot returns the statuses reported by the last successful refresh.
func (t *Tracker) Snapshot() map[string]schedulerobjects.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.snapshot)
}

func (t *Tracker) refresh(ctx context.Context) (map[string]schedulerobjects.Status, error) {
	queried, err := t.acceptedJobs()
	if err != nil {
		return nil, err
	}
	start := t.clock.Now()
	refreshCtx, cancel := withTimeout(ctx, t.config.RefreshTimeout)
	defer cancel()
	clusterJobs, err := t.backend.ListActiveJobs(refreshCtx)
	t.metrics.ObserveRefresh(t.clock.Since(start), err)
	if err != nil {
		return nil, errors.WithStack(&flowerrors.ErrStatusRefresh{Err: err})
	}
	reported := make(map[string]schedulerobjects.ClusterJob, len(clusterJobs))
	for _, job := range clusterJobs {
		reported[job.Id] = job
	}

	now := t.clock.Now()
	var updated, evicted []*schedulerobjects.SubmissionRecord
	var markers []*schedulerobjects.CompletionMarker
	var cleared []string

	t.mu.Lock()
	txn := t.db.WriteTxn()
	snapshot, err := t.applyStatuses(txn, queried, reported, now, &updated, &evicted, &markers)
	if err == nil {
		err = t.adopt(txn, clusterJobs, now, snapshot, &updated, &cleared)
	}
	if err != nil {
		txn.Abort()
		t.mu.Unlock()
		return nil, err
	}
	txn.Commit()
	t.snapshot = snapshot
	listeners := append([]EvictionListener{}, t.listeners...)
	tracked, _ := t.db.GetAll(t.db.ReadTxn())
	t.mu.Unlock()

	t.metrics.SetTracked(len(tracked))
	t.metrics.RecordEvictions(len(evicted))
	t.persist(ctx, updated, evicted, markers)
	if len(cleared) > 0 {
		if err := t.persister.ClearCompleted(ctx, cleared...); err != nil {
			logging.WithStacktrace(t.logger, err).Warn("failed to clear persisted completion markers")
		}
	}
	for _, record := range evicted {
		for _, listener := range listeners {
			listener(record)
		}
	}
	return maps.Clone(snapshot), nil
}

// acceptedJobs maps the fingerprint of every record accepted by the scheduler to its external id.
func (t *Tracker) acceptedJobs() (map[string]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	records, err := t.db.GetAll(t.db.ReadTxn())
	if err != nil {
		return nil, err
	}
	accepted := make(map[string]string, len(records))
	for _, record := range records {
		if !record.Pending() {
			accepted[record.Fingerprint] = record.ExternalId
		}
	}
	return accepted, nil
}

// applyStatuses moves every record in queried forward to its reported status. Jobs the scheduler no longer reports
// are Inactive. Inactive records are evicted and leave a completion marker behind.
// Records accepted after the query started may be missing from reported and are left unchanged.
func (t *Tracker) applyStatuses(
	txn *memdb.Txn,
	queried map[string]string,
	reported map[string]schedulerobjects.ClusterJob,
	now time.Time,
	updated *[]*schedulerobjects.SubmissionRecord,
	evicted *[]*schedulerobjects.SubmissionRecord,
	markers *[]*schedulerobjects.CompletionMarker,
) (map[string]schedulerobjects.Status, error) {
	records, err := t.db.GetAll(txn)
	if err != nil {
		return nil, err
	}
	snapshot := make(map[string]schedulerobjects.Status, len(records))
	for _, current := range records {
		if current.Pending() {
			continue
		}
		if externalId, ok := queried[current.Fingerprint]; !ok || externalId != current.ExternalId {
			snapshot[current.Fingerprint] = current.Status
			continue
		}
		status := schedulerobjects.StatusInactive
		if job, ok := reported[current.ExternalId]; ok {
			status = job.Status
		}
		record := current.DeepCopy()
		record.LastRefreshed = now
		if status.Less(current.Status) {
			anomaly := &flowerrors.Anomaly{
				Fingerprint: current.Fingerprint,
				ExternalId:  current.ExternalId,
				Current:     current.Status.String(),
				Reported:    status.String(),
			}
			logging.WithInstance(t.logger, current.Operation, current.AggregateId, current.Fingerprint).
				WithField(logging.ExternalIdField, current.ExternalId).
				Warn(anomaly.Error())
			t.metrics.RecordAnomaly()
		} else {
			record.Status = status
		}
		snapshot[record.Fingerprint] = record.Status

		if record.Status.IsTerminal() {
			if err := t.db.BatchDelete(txn, record.Fingerprint); err != nil {
				return nil, err
			}
			marker := schedulerobjects.MarkerFor(record, now)
			if err := t.db.MarkCompleted(txn, marker); err != nil {
				return nil, err
			}
			*evicted = append(*evicted, record)
			*markers = append(*markers, marker)
			continue
		}
		if err := t.db.Upsert(txn, record); err != nil {
			return nil, err
		}
		*updated = append(*updated, record)
	}
	return snapshot, nil
}

// adopt starts a new submission cycle for scheduler jobs that are still running under the label of instances
// this tracker saw complete, e.g. after a flaky scheduler briefly stopped reporting them. Instances with a live
// record are never adopted.
func (t *Tracker) adopt(
	txn *memdb.Txn,
	clusterJobs []schedulerobjects.ClusterJob,
	now time.Time,
	snapshot map[string]schedulerobjects.Status,
	updated *[]*schedulerobjects.SubmissionRecord,
	cleared *[]string,
) error {
	for _, job := range clusterJobs {
		if job.Status.IsTerminal() || job.Name == "" {
			continue
		}
		tracked, err := t.db.GetByExternalId(txn, job.Id)
		if err != nil {
			return err
		}
		if len(tracked) > 0 {
			continue
		}
		markers, err := t.db.GetCompletedByLabel(txn, job.Name)
		if err != nil {
			return err
		}
		for _, marker := range markers {
			existing, err := t.db.GetByFingerprint(txn, marker.Fingerprint)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			record := &schedulerobjects.SubmissionRecord{
				Fingerprint:   marker.Fingerprint,
				Operation:     marker.Operation,
				AggregateId:   marker.AggregateId,
				Label:         job.Name,
				ExternalId:    job.Id,
				Status:        job.Status,
				SubmittedAt:   now,
				LastRefreshed: now,
			}
			if err := t.db.Upsert(txn, record); err != nil {
				return err
			}
			if err := t.db.ClearCompleted(txn, marker.Fingerprint); err != nil {
				return err
			}
			logging.WithInstance(t.logger, record.Operation, record.AggregateId, record.Fingerprint).
				WithField(logging.ExternalIdField, job.Id).
				Warnf("scheduler reports %s job %s again; starting a new submission cycle", job.Status, job.Name)
			snapshot[record.Fingerprint] = record.Status
			*updated = append(*updated, record)
			*cleared = append(*cleared, marker.Fingerprint)
		}
	}
	return nil
}

// Cancel asks the scheduler to cancel a job. The job's records are evicted by the next refresh once the
// scheduler stops reporting the job.
func (t *Tracker) Cancel(ctx context.Context, externalId string) (bool, error) {
	cancelCtx, cancel := withTimeout(ctx, t.config.SubmitTimeout)
	defer cancel()
	ok, err := t.backend.Cancel(cancelCtx, externalId)
	if err != nil {
		return false, errors.WithMessagef(err, "cancelling %s", externalId)
	}
	return ok, nil
}

// Record returns a copy of the live record for fingerprint.
func (t *Tracker) Record(fingerprint string) (*schedulerobjects.SubmissionRecord, bool) {
	record, err := t.db.GetByFingerprint(t.db.ReadTxn(), fingerprint)
	if err != nil || record == nil {
		return nil, false
	}
	return record.DeepCopy(), true
}

// Records returns copies of every live record ordered by fingerprint.
func (t *Tracker) Records() []*schedulerobjects.SubmissionRecord {
	records, err := t.db.GetAll(t.db.ReadTxn())
	if err != nil {
		logging.WithStacktrace(t.logger, err).Error("failed to read submission records")
		return nil
	}
	return util.Map(records, func(r *schedulerobjects.SubmissionRecord) *schedulerobjects.SubmissionRecord {
		return r.DeepCopy()
	})
}

// Completed returns true if an instance with this fingerprint reached Inactive and its marker was not cleared.
func (t *Tracker) Completed(fingerprint string) bool {
	marker, err := t.db.GetCompleted(t.db.ReadTxn(), fingerprint)
	return err == nil && marker != nil
}

// CompletionMarkers returns every completion marker ordered by fingerprint.
func (t *Tracker) CompletionMarkers() []*schedulerobjects.CompletionMarker {
	markers, err := t.db.GetAllCompleted(t.db.ReadTxn())
	if err != nil {
		logging.WithStacktrace(t.logger, err).Error("failed to read completion markers")
		return nil
	}
	return markers
}

// ClearCompleted removes completion markers so that operations without post-conditions become eligible again.
// With no fingerprints every marker is removed.
func (t *Tracker) ClearCompleted(ctx context.Context, fingerprints ...string) error {
	t.mu.Lock()
	txn := t.db.WriteTxn()
	if err := t.db.ClearCompleted(txn, fingerprints...); err != nil {
		txn.Abort()
		t.mu.Unlock()
		return err
	}
	txn.Commit()
	t.mu.Unlock()
	return t.persister.ClearCompleted(ctx, fingerprints...)
}

// persist writes changes through to the persister. Failures are logged: the in-memory state stays authoritative
// and the next successful write catches up.
func (t *Tracker) persist(
	ctx context.Context,
	saved []*schedulerobjects.SubmissionRecord,
	deleted []*schedulerobjects.SubmissionRecord,
	markers []*schedulerobjects.CompletionMarker,
) {
	if len(saved) > 0 {
		if err := t.persister.Save(ctx, saved...); err != nil {
			logging.WithStacktrace(t.logger, err).Warn("failed to persist submission records")
		}
	}
	if len(deleted) > 0 {
		fingerprints := util.Map(deleted, func(r *schedulerobjects.SubmissionRecord) string { return r.Fingerprint })
		if err := t.persister.Delete(ctx, fingerprints...); err != nil {
			logging.WithStacktrace(t.logger, err).Warn("failed to delete persisted submission records")
		}
	}
	if len(markers) > 0 {
		if err := t.persister.MarkCompleted(ctx, markers...); err != nil {
			logging.WithStacktrace(t.logger, err).Warn("failed to persist completion markers")
		}
	}
}

// withTimeout bounds ctx by d. A non-positive d leaves ctx unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
