// Package submit packs eligible operation instances into bundles and hands them to the cluster scheduler.
package submit

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/common/logging"
	"github.com/armadaproject/jobflow/internal/common/util"
	"github.com/armadaproject/jobflow/internal/jobflow/eligibility"
	"github.com/armadaproject/jobflow/internal/jobflow/metrics"
	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
)

// ScriptRenderer turns a bundle into the text of a submission script.
type ScriptRenderer interface {
	Render(label string, instances []eligibility.Instance) (string, error)
}

// SubmissionTracker is the part of *tracker.Tracker the bundler drives.
type SubmissionTracker interface {
	AcquireSlot(max int) (release func(), ok bool)
	Reserve(fingerprint string, operation string, aggregateId string) bool
	Release(fingerprints ...string)
	Submit(ctx context.Context, bundle *schedulerobjects.Bundle) (string, error)
}

// Submission is one bundle handed to the scheduler, or rendered only in pretend mode.
type Submission struct {
	Label string
	// Empty in pretend mode.
	ExternalId string
	Script     string
	Instances  []eligibility.Instance
}

type Result struct {
	Submissions []Submission
	// Instances left for a later call because max parallel submissions were outstanding.
	Deferred []eligibility.Instance
	// Instances that already had a live submission record.
	Skipped []eligibility.Instance
	// Instances of bundles that could not be rendered or submitted.
	Failed []eligibility.Instance
}

// ExternalIds returns the scheduler ids of the submitted bundles in submission order.
func (r *Result) ExternalIds() []string {
	ids := []string{}
	for _, submission := range r.Submissions {
		if submission.ExternalId != "" {
			ids = append(ids, submission.ExternalId)
		}
	}
	return ids
}

type Bundler struct {
	tracker  SubmissionTracker
	renderer ScriptRenderer
	metrics  *metrics.Metrics
	// Render scripts without submitting them.
	pretend bool
	logger  *log.Entry
}

func NewBundler(tracker SubmissionTracker, renderer ScriptRenderer, m *metrics.Metrics, pretend bool) *Bundler {
	return &Bundler{
		tracker:  tracker,
		renderer: renderer,
		metrics:  m,
		pretend:  pretend,
		logger:   logging.ForComponent("submit"),
	}
}

// BundleAndSubmit submits instances in bundles of at most maxBundleSize, 0 meaning a single bundle, while
// fewer than maxParallel scheduler jobs are outstanding, 0 meaning no limit. Instances are considered in order.
//
// Each instance is reserved in the tracker before it joins a bundle, so an instance is never submitted twice even
// by concurrent calls. A bundle that fails to render or submit is released and its error collected; bundles
// submitted before it stay submitted and no retry is made within the call.
func (b *Bundler) BundleAndSubmit(
	ctx context.Context,
	instances []eligibility.Instance,
	maxBundleSize int,
	maxParallel int,
) (*Result, error) {
	result := &Result{}
	var submitErrors *multierror.Error

	// In pretend mode slots and reservations are held until the end so that limits apply as they would for a
	// real submission, then everything is given back.
	var held []func()
	var reserved []string
	if b.pretend {
		defer func() {
			b.tracker.Release(reserved...)
			for _, release := range held {
				release()
			}
		}()
	}

	remaining := instances
	for len(remaining) > 0 {
		if ctx.Err() != nil {
			result.Deferred = append(result.Deferred, remaining...)
			break
		}
		release, ok := b.tracker.AcquireSlot(maxParallel)
		if !ok {
			result.Deferred = append(result.Deferred, remaining...)
			break
		}

		var bundle []eligibility.Instance
		for len(remaining) > 0 && (maxBundleSize <= 0 || len(bundle) < maxBundleSize) {
			instance := remaining[0]
			remaining = remaining[1:]
			if !b.tracker.Reserve(instance.Fingerprint, instance.Operation.Name, instance.Aggregate.Id()) {
				result.Skipped = append(result.Skipped, instance)
				continue
			}
			bundle = append(bundle, instance)
		}
		if len(bundle) == 0 {
			release()
			continue
		}

		if b.pretend {
			held = append(held, release)
			reserved = append(reserved, fingerprints(bundle)...)
			submission, err := b.render(bundle)
			if err != nil {
				result.Failed = append(result.Failed, bundle...)
				submitErrors = multierror.Append(submitErrors, err)
				continue
			}
			result.Submissions = append(result.Submissions, *submission)
			continue
		}

		submission, err := b.submit(ctx, bundle)
		release()
		if err != nil {
			result.Failed = append(result.Failed, bundle...)
			submitErrors = multierror.Append(submitErrors, err)
			b.metrics.RecordInstances(metrics.FailedOutcome, len(bundle))
			logging.WithStacktrace(b.logger, err).Warn("bundle submission failed")
			continue
		}
		result.Submissions = append(result.Submissions, *submission)
		b.metrics.RecordInstances(metrics.SubmittedOutcome, len(bundle))
		b.metrics.ObserveBundle(len(bundle))
	}

	b.metrics.RecordInstances(metrics.DeferredOutcome, len(result.Deferred))
	if len(result.Deferred) > 0 {
		b.logger.Infof("deferred %d operation instances to a later submission", len(result.Deferred))
	}
	return result, submitErrors.ErrorOrNil()
}

func (b *Bundler) render(bundle []eligibility.Instance) (*Submission, error) {
	label := bundleLabel(bundle)
	script, err := b.renderer.Render(label, bundle)
	if err != nil {
		return nil, errors.WithStack(&flowerrors.ErrSubmission{
			Label:      label,
			Operations: operations(bundle),
			Aggregates: aggregates(bundle),
			Err:        err,
		})
	}
	return &Submission{Label: label, Script: script, Instances: bundle}, nil
}

func (b *Bundler) submit(ctx context.Context, bundle []eligibility.Instance) (*Submission, error) {
	submission, err := b.render(bundle)
	if err != nil {
		b.tracker.Release(fingerprints(bundle)...)
		return nil, err
	}
	entries := make([]schedulerobjects.BundleEntry, len(bundle))
	for i, instance := range bundle {
		entries[i] = schedulerobjects.BundleEntry{
			Fingerprint: instance.Fingerprint,
			Operation:   instance.Operation.Name,
			AggregateId: instance.Aggregate.Id(),
		}
	}
	externalId, err := b.tracker.Submit(ctx, &schedulerobjects.Bundle{
		Label:   submission.Label,
		Script:  submission.Script,
		Entries: entries,
	})
	if err != nil {
		return nil, err
	}
	submission.ExternalId = externalId
	b.logger.WithField(logging.LabelField, submission.Label).
		WithField(logging.ExternalIdField, externalId).
		Infof("submitted bundle of %d operation instances", len(bundle))
	return submission, nil
}

// bundleLabel names the scheduler job of a bundle: the fingerprint of a single instance, otherwise a unique
// bundle id.
func bundleLabel(bundle []eligibility.Instance) string {
	if len(bundle) == 1 {
		return bundle[0].Fingerprint
	}
	return "bundle-" + util.NewULID()
}

func fingerprints(bundle []eligibility.Instance) []string {
	return util.Map(bundle, func(i eligibility.Instance) string { return i.Fingerprint })
}

func operations(bundle []eligibility.Instance) []string {
	return util.Map(bundle, func(i eligibility.Instance) string { return i.Operation.Name })
}

func aggregates(bundle []eligibility.Instance) []string {
	return util.Map(bundle, func(i eligibility.Instance) string { return i.Aggregate.Id() })
}
