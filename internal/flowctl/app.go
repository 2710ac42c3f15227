// Package flowctl implements the jobflow command line: each exported method of App backs one sub-command and
// writes human readable output to App.Out.
package flowctl

import (
	"context"
	"io"
	"os"

	"github.com/armadaproject/jobflow/internal/common"
	"github.com/armadaproject/jobflow/internal/jobflow"
	"github.com/armadaproject/jobflow/internal/jobflow/configuration"
)

const defaultConfigPath = "./config/jobflow"

// Params are the global command line parameters.
type Params struct {
	// Config files merged over the defaults in ./config/jobflow, in order.
	ConfigPaths []string
	// Overrides workspace.root when set.
	Workspace string
	// Loaded configuration. When set, ConfigPaths is ignored.
	Config *configuration.JobflowConfiguration
}

type App struct {
	Params *Params
	// Output for all command results.
	Out io.Writer
	// Collaborators used instead of those built from the configuration, e.g. a fake scheduler in tests.
	Dependencies jobflow.Dependencies
}

// New instantiates an App with default parameters, writing to stdout.
func New() *App {
	return &App{
		Params: &Params{},
		Out:    os.Stdout,
	}
}

// LoadConfig reads the configuration once; later calls return the same configuration.
func (a *App) LoadConfig() (configuration.JobflowConfiguration, error) {
	if a.Params.Config == nil {
		var config configuration.JobflowConfiguration
		if _, err := common.LoadConfig(&config, defaultConfigPath, a.Params.ConfigPaths); err != nil {
			return config, err
		}
		a.Params.Config = &config
	}
	config := *a.Params.Config
	if a.Params.Workspace != "" {
		config.Workspace.Root = a.Params.Workspace
	}
	return config, nil
}

// withProject opens the project, recovers its persisted records and runs action against it.
func (a *App) withProject(ctx context.Context, action func(*jobflow.Project) error) error {
	config, err := a.LoadConfig()
	if err != nil {
		return err
	}
	project, err := jobflow.Open(ctx, config, a.Dependencies)
	if err != nil {
		return err
	}
	defer project.Close()
	if err := project.Recover(ctx); err != nil {
		return err
	}
	return action(project)
}
