package flowctl

import (
	"context"

	"github.com/armadaproject/jobflow/internal/jobflow"
)

// Run starts the daemon and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	config, err := a.LoadConfig()
	if err != nil {
		return err
	}
	app := jobflow.New(config)
	app.Dependencies = a.Dependencies
	return app.StartUp(ctx)
}
