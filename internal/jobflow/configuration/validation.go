package configuration

import (
	"github.com/pkg/errors"

	commonconfig "github.com/armadaproject/jobflow/internal/common/config"
	"github.com/armadaproject/jobflow/internal/common/flowerrors"
)

// Validate checks the struct tags and the constraints between sections that tags cannot express.
func (c *JobflowConfiguration) Validate() error {
	if err := commonconfig.Validate(c); err != nil {
		return err
	}
	if c.Persistence.Type == "redis" {
		if err := commonconfig.Validate(&c.Persistence.Redis); err != nil {
			return err
		}
	}
	if c.Persistence.Type == "postgres" && len(c.Persistence.Postgres.Connection) == 0 {
		return errors.WithStack(&flowerrors.ErrConfiguration{
			Name:    "persistence.postgres.connection",
			Value:   c.Persistence.Postgres.Connection,
			Message: "required when persistence type is postgres",
		})
	}
	if c.Scheduler.Type == "simple" && c.Scheduler.Command == "" {
		return errors.WithStack(&flowerrors.ErrConfiguration{
			Name:    "scheduler.command",
			Value:   c.Scheduler.Command,
			Message: "required when scheduler type is simple",
		})
	}
	return nil
}
