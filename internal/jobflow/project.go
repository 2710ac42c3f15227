// Package jobflow ties the catalog, tracker, resolver and bundler together into a project that the CLI and the
// daemon drive.
package jobflow

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/armadaproject/jobflow/internal/common/database"
	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/common/logging"
	"github.com/armadaproject/jobflow/internal/common/util"
	"github.com/armadaproject/jobflow/internal/jobflow/backend"
	"github.com/armadaproject/jobflow/internal/jobflow/catalog"
	"github.com/armadaproject/jobflow/internal/jobflow/configuration"
	"github.com/armadaproject/jobflow/internal/jobflow/eligibility"
	"github.com/armadaproject/jobflow/internal/jobflow/hooks"
	"github.com/armadaproject/jobflow/internal/jobflow/jobs"
	"github.com/armadaproject/jobflow/internal/jobflow/metrics"
	"github.com/armadaproject/jobflow/internal/jobflow/repository"
	"github.com/armadaproject/jobflow/internal/jobflow/schedulerobjects"
	"github.com/armadaproject/jobflow/internal/jobflow/script"
	"github.com/armadaproject/jobflow/internal/jobflow/submit"
	"github.com/armadaproject/jobflow/internal/jobflow/tracker"
)

// PersisterWithHealth is a tracker.Persister that can report whether its store is reachable.
type PersisterWithHealth interface {
	tracker.Persister
	HealthCheck(ctx context.Context) error
}

// Dependencies are the external collaborators of a project. Zero fields are built from the configuration.
type Dependencies struct {
	Backend    backend.Backend
	Persister  PersisterWithHealth
	Provider   jobs.Provider
	Catalog    *catalog.Catalog
	Clock      clock.Clock
	Registerer prometheus.Registerer
	Hooks      []hooks.Hook
}

// SubmitOptions override the submission section of the configuration for one call.
type SubmitOptions struct {
	MaxBundleSize int
	MaxParallel   int
	Pretend       bool
	// Submit at most this many instances, 0 meaning all eligible ones.
	Limit int
}

type Project struct {
	config     configuration.JobflowConfiguration
	provider   jobs.Provider
	catalog    *catalog.Catalog
	backend    backend.Backend
	persister  PersisterWithHealth
	tracker    *tracker.Tracker
	resolver   *eligibility.Resolver
	renderer   *script.TemplateRenderer
	dispatcher *hooks.Dispatcher
	metrics    *metrics.Metrics
	clock      clock.Clock
	logger     *log.Entry
	closers    []func()
}

// Open builds a project from config, filling in every dependency not supplied in deps.
func Open(ctx context.Context, config configuration.JobflowConfiguration, deps Dependencies) (*Project, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	p := &Project{
		config: config,
		clock:  deps.Clock,
		logger: logging.ForComponent("project"),
	}
	if p.clock == nil {
		p.clock = clock.RealClock{}
	}
	ok := false
	defer func() {
		if !ok {
			p.Close()
		}
	}()

	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	p.metrics = metrics.New(registerer)

	var err error
	if p.catalog = deps.Catalog; p.catalog == nil {
		if p.catalog, err = catalog.FromConfig(config.Catalog); err != nil {
			return nil, err
		}
	}
	if p.provider = deps.Provider; p.provider == nil {
		if p.provider, err = jobs.NewWorkspaceProvider(config.Workspace.Root, config.Workspace.StatePointCacheSize); err != nil {
			return nil, err
		}
	}
	if p.backend = deps.Backend; p.backend == nil {
		if p.backend, err = newBackend(config.Scheduler, p.clock); err != nil {
			return nil, err
		}
	}
	if p.persister = deps.Persister; p.persister == nil {
		if p.persister, err = p.newPersister(ctx); err != nil {
			return nil, err
		}
	}
	if p.renderer, err = script.NewTemplateRenderer(config.Submission.Template); err != nil {
		return nil, err
	}

	p.tracker, err = tracker.New(p.backend, p.persister, p.clock, tracker.Config{
		SubmitTimeout:      config.Scheduler.SubmitTimeout,
		RefreshTimeout:     config.Scheduler.RefreshTimeout,
		MinRefreshInterval: config.Scheduler.MinRefreshInterval,
	}, p.metrics)
	if err != nil {
		return nil, err
	}
	p.resolver = eligibility.NewResolver(p.catalog, p.tracker, p.metrics)

	projectHooks := append([]hooks.Hook{hooks.NewLoggingHook()}, deps.Hooks...)
	if config.Workspace.AuditLog != "" {
		audit, err := p.openAuditLog(config.Workspace.AuditLog)
		if err != nil {
			return nil, err
		}
		projectHooks = append(projectHooks, audit)
	}
	p.dispatcher = hooks.NewDispatcher(p.catalog, p.clock, projectHooks...)
	p.tracker.OnEvict(p.dispatcher.Listener(context.Background()))

	ok = true
	return p, nil
}

func newBackend(config configuration.SchedulerConfig, c clock.Clock) (backend.Backend, error) {
	switch config.Type {
	case "simple":
		return backend.NewSimple(config.Command, config.ScriptDir)
	case "fake":
		return backend.NewFake(c), nil
	}
	return nil, errors.WithStack(&flowerrors.ErrConfiguration{Name: "scheduler.type", Value: config.Type, Message: "unknown scheduler"})
}

func (p *Project) newPersister(ctx context.Context) (PersisterWithHealth, error) {
	config := p.config.Persistence
	switch config.Type {
	case "redis":
		db := redis.NewUniversalClient(config.Redis.AsUniversalOptions())
		p.closers = append(p.closers, func() { util.CloseResource("redis client", db) })
		return repository.NewRedisPersister(db, p.config.Project), nil
	case "postgres":
		db, err := database.OpenPgxPool(ctx, config.Postgres.Connection)
		if err != nil {
			return nil, errors.WithMessage(err, "connecting to postgres")
		}
		p.closers = append(p.closers, db.Close)
		return repository.NewPostgresPersister(db, config.Postgres.TableName)
	}
	return repository.NewInMemoryPersister(), nil
}

func (p *Project) openAuditLog(path string) (hooks.Hook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WithStack(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	p.closers = append(p.closers, func() { util.CloseResource("audit log", f) })
	return hooks.NewAuditHook(f), nil
}

// Close releases connections held by the project.
func (p *Project) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}

func (p *Project) Config() configuration.JobflowConfiguration {
	return p.config
}

func (p *Project) Catalog() *catalog.Catalog {
	return p.catalog
}

func (p *Project) Tracker() *tracker.Tracker {
	return p.tracker
}

func (p *Project) Metrics() *metrics.Metrics {
	return p.metrics
}

// Recover loads the records persisted by a previous run.
func (p *Project) Recover(ctx context.Context) error {
	return p.tracker.Recover(ctx)
}

func (p *Project) HealthCheck(ctx context.Context) error {
	return p.persister.HealthCheck(ctx)
}

// Status resolves the state of every (operation, aggregate) pair selected by filter against the records of the
// tracker. It does not query the scheduler; call Refresh first for up to date statuses.
func (p *Project) Status(ctx context.Context, filter eligibility.Filter) (*eligibility.Result, error) {
	input, err := p.provider.Jobs(ctx)
	if err != nil {
		return nil, err
	}
	result, err := p.resolver.ResolveFiltered(input, filter)
	if err != nil {
		return nil, err
	}
	p.dispatcher.Observe(result.Aggregates)
	return result, nil
}

// Refresh queries the scheduler and updates tracked records.
func (p *Project) Refresh(ctx context.Context) (map[string]schedulerobjects.Status, error) {
	return p.tracker.Refresh(ctx)
}

// Submit refreshes the tracked records, resolves eligibility and submits the eligible instances.
// A failed refresh is logged and submission goes ahead with the statuses already known.
func (p *Project) Submit(ctx context.Context, filter eligibility.Filter, opts SubmitOptions) (*submit.Result, error) {
	if _, err := p.Refresh(ctx); err != nil {
		if !flowerrors.IsRetryable(err) {
			return nil, err
		}
		logging.WithStacktrace(p.logger, err).Warn("submitting with the last known scheduler statuses")
	}
	result, err := p.Status(ctx, filter)
	if err != nil {
		return nil, err
	}
	if result.Errors != nil {
		logging.WithStacktrace(p.logger, result.Errors).Warn("some operation instances could not be evaluated")
	}
	eligible := result.Eligible
	if opts.Limit > 0 && len(eligible) > opts.Limit {
		eligible = eligible[:opts.Limit]
	}
	bundler := submit.NewBundler(p.tracker, p.renderer, p.metrics, opts.Pretend)
	return bundler.BundleAndSubmit(ctx, eligible, opts.MaxBundleSize, opts.MaxParallel)
}

// DefaultSubmitOptions returns the submission settings of the configuration.
func (p *Project) DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{
		MaxBundleSize: p.config.Submission.MaxBundleSize,
		MaxParallel:   p.config.Submission.MaxParallelSubmissions,
		Pretend:       p.config.Submission.Pretend,
	}
}

// Script renders the scripts that Submit would submit without submitting anything.
func (p *Project) Script(ctx context.Context, filter eligibility.Filter, opts SubmitOptions) ([]submit.Submission, error) {
	opts.Pretend = true
	result, err := p.Submit(ctx, filter, opts)
	if result == nil {
		return nil, err
	}
	return result.Submissions, err
}

// Cancel asks the scheduler to cancel the given jobs and returns the ids it cancelled.
func (p *Project) Cancel(ctx context.Context, externalIds ...string) ([]string, error) {
	cancelled := []string{}
	for _, id := range util.Unique(externalIds) {
		ok, err := p.tracker.Cancel(ctx, id)
		if err != nil {
			return cancelled, err
		}
		if ok {
			cancelled = append(cancelled, id)
		}
	}
	return cancelled, nil
}

// ClearCompleted forgets that operations without post-conditions have run, so they become eligible again.
// With no fingerprints every completion is forgotten.
func (p *Project) ClearCompleted(ctx context.Context, fingerprints ...string) error {
	return p.tracker.ClearCompleted(ctx, fingerprints...)
}

// Labels classifies every job with the labels of the catalog. Jobs are matched against filter.JobIds.
func (p *Project) Labels(ctx context.Context, filter eligibility.Filter) (map[string][]string, error) {
	input, err := p.provider.Jobs(ctx)
	if err != nil {
		return nil, err
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	result := map[string][]string{}
	for _, job := range input {
		if !filter.MatchesJob(job.Id()) {
			continue
		}
		labels, err := p.catalog.Evaluator().Classify(job)
		if err != nil {
			return nil, err
		}
		result[job.Id()] = labels
	}
	return result, nil
}

// JobIds returns the ids of a labels result in order.
func JobIds(labels map[string][]string) []string {
	ids := maps.Keys(labels)
	slices.Sort(ids)
	return ids
}
