package jobflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/armadaproject/jobflow/internal/common/flowerrors"
	"github.com/armadaproject/jobflow/internal/common/logging"
	"github.com/armadaproject/jobflow/internal/jobflow/configuration"
	"github.com/armadaproject/jobflow/internal/jobflow/eligibility"
)

// App is the jobflow daemon: it keeps tracked records in sync with the scheduler and submits eligible
// operations as they become ready.
type App struct {
	Config configuration.JobflowConfiguration
	// Optional collaborators, e.g. a fake backend in tests.
	Dependencies Dependencies
	Clock        clock.WithTicker
	// Delay between attempts to recover persisted records.
	RecoveryDelay time.Duration
}

func New(config configuration.JobflowConfiguration) *App {
	return &App{
		Config:        config,
		Clock:         clock.RealClock{},
		RecoveryDelay: time.Second,
	}
}

// StartUp runs the daemon until ctx is cancelled or one of its loops fails.
func (a *App) StartUp(ctx context.Context) error {
	logger := logging.ForComponent("daemon")

	registry := prometheus.NewRegistry()
	deps := a.Dependencies
	if deps.Registerer == nil {
		deps.Registerer = registry
	}
	if deps.Clock == nil {
		deps.Clock = a.Clock
	}
	project, err := Open(ctx, a.Config, deps)
	if err != nil {
		return err
	}
	defer project.Close()

	err = retry.Do(
		func() error { return project.Recover(ctx) },
		retry.Attempts(a.Config.Persistence.RecoveryAttempts),
		retry.Delay(a.RecoveryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logging.WithStacktrace(logger, err).Warnf("recovering submission records failed (attempt %d)", n+1)
		}),
	)
	if err != nil {
		return errors.WithMessage(err, "recovering submission records")
	}

	// Setup an errgroup that cancels on any job failing.
	g, ctx := errgroup.WithContext(ctx)
	changed := make(chan struct{}, 1)

	g.Go(func() error {
		return a.every(ctx, a.Config.Daemon.RefreshInterval, nil, func() {
			if _, err := project.Refresh(ctx); err != nil {
				logging.WithStacktrace(logger, err).Warn("refresh failed")
			}
		})
	})
	g.Go(func() error {
		return a.every(ctx, a.Config.Daemon.SubmitInterval, changed, func() {
			a.submit(ctx, project, logger)
		})
	})
	if a.Config.Daemon.WatchWorkspace {
		g.Go(func() error {
			return watchWorkspace(ctx, a.Config.Workspace.Root, changed)
		})
	}
	if a.Config.Daemon.HttpPort > 0 {
		server := BuildServer(project, registry)
		g.Go(func() error {
			addr := fmt.Sprintf(":%d", a.Config.Daemon.HttpPort)
			logger.Infof("serving status and metrics on %s", addr)
			if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.WithStack(err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Infof("jobflow daemon started for project %s", a.Config.Project)
	err = g.Wait()
	logger.Info("jobflow daemon stopped")
	return err
}

func (a *App) submit(ctx context.Context, project *Project, logger *log.Entry) {
	result, err := project.Submit(ctx, eligibility.Filter{}, project.DefaultSubmitOptions())
	if err != nil && !flowerrors.IsRetryable(err) {
		logging.WithStacktrace(logger, err).Error("submission failed")
		return
	} else if err != nil {
		logging.WithStacktrace(logger, err).Warn("some bundles failed to submit")
	}
	if result != nil && len(result.Submissions) > 0 {
		logger.Infof("submitted %d bundles, %d instances deferred", len(result.Submissions), len(result.Deferred))
	}
}

// every calls f immediately, then each interval and whenever trigger fires, until ctx is done.
func (a *App) every(ctx context.Context, interval time.Duration, trigger <-chan struct{}, f func()) error {
	ticker := a.Clock.NewTicker(interval)
	defer ticker.Stop()
	f()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			f()
		case <-trigger:
			f()
		}
	}
}
