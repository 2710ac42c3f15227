package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	NAMESPACE = "jobflow"

	SubmittedOutcome = "submitted"
	FailedOutcome    = "failed"
	DeferredOutcome  = "deferred"
)

// Metrics are the prometheus metrics of the submission and tracking cycle.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Number of operation instances per submission outcome.
	instances *prometheus.CounterVec
	// Number of instances in each submitted bundle.
	bundleSize prometheus.Histogram
	// Time taken to query the scheduler for status.
	refreshTime     prometheus.Histogram
	refreshFailures prometheus.Counter
	// Non-monotonic statuses reported by the scheduler.
	anomalies prometheus.Counter
	evictions prometheus.Counter
	// Live submission records.
	tracked prometheus.Gauge
	// Eligible aggregates per operation at the last resolution.
	eligible         *prometheus.GaugeVec
	evaluationErrors prometheus.Counter
}

// New creates the metrics and registers them with registerer.
func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		instances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Subsystem: "submit",
				Name:      "instances_total",
				Help:      "Number of operation instances by submission outcome.",
			},
			[]string{"outcome"},
		),
		bundleSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: NAMESPACE,
				Subsystem: "submit",
				Name:      "bundle_size",
				Help:      "Number of operation instances per submitted bundle.",
				Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
			},
		),
		refreshTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: NAMESPACE,
				Subsystem: "tracker",
				Name:      "refresh_seconds",
				Help:      "Time taken to query the scheduler for status.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		refreshFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Subsystem: "tracker",
				Name:      "refresh_failures_total",
				Help:      "Number of status refreshes that failed or timed out.",
			},
		),
		anomalies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Subsystem: "tracker",
				Name:      "anomalies_total",
				Help:      "Number of status regressions reported by the scheduler.",
			},
		),
		evictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Subsystem: "tracker",
				Name:      "evictions_total",
				Help:      "Number of submission records that reached inactive.",
			},
		),
		tracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: NAMESPACE,
				Subsystem: "tracker",
				Name:      "records",
				Help:      "Number of live submission records.",
			},
		),
		eligible: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: NAMESPACE,
				Subsystem: "eligibility",
				Name:      "eligible_aggregates",
				Help:      "Number of aggregates eligible for each operation.",
			},
			[]string{"operation"},
		),
		evaluationErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: NAMESPACE,
				Subsystem: "eligibility",
				Name:      "evaluation_errors_total",
				Help:      "Number of condition evaluations that failed.",
			},
		),
	}
	registerer.MustRegister(
		m.instances,
		m.bundleSize,
		m.refreshTime,
		m.refreshFailures,
		m.anomalies,
		m.evictions,
		m.tracked,
		m.eligible,
		m.evaluationErrors,
	)
	return m
}

func (m *Metrics) RecordInstances(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.instances.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveBundle(size int) {
	if m == nil {
		return
	}
	m.bundleSize.Observe(float64(size))
}

func (m *Metrics) ObserveRefresh(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.refreshTime.Observe(d.Seconds())
	if err != nil {
		m.refreshFailures.Inc()
	}
}

func (m *Metrics) RecordAnomaly() {
	if m == nil {
		return
	}
	m.anomalies.Inc()
}

func (m *Metrics) RecordEvictions(n int) {
	if m == nil {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.tracked.Set(float64(n))
}

// SetEligible replaces the eligible counts of all operations.
func (m *Metrics) SetEligible(counts map[string]int) {
	if m == nil {
		return
	}
	m.eligible.Reset()
	for op, n := range counts {
		m.eligible.WithLabelValues(op).Set(float64(n))
	}
}

func (m *Metrics) RecordEvaluationErrors(n int) {
	if m == nil {
		return
	}
	m.evaluationErrors.Add(float64(n))
}
