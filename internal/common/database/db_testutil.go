package database

import (
	"context"
	"os"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/jobflow/internal/common/util"
)

// TestDbEnv names the environment variable holding the connection string of the postgres instance used by tests.
// Tests needing postgres are skipped when it is unset.
const TestDbEnv = "JOBFLOW_TEST_POSTGRES"

// TestDbAvailable returns true if a postgres instance has been configured for tests.
func TestDbAvailable() bool {
	return os.Getenv(TestDbEnv) != ""
}

// WithTestDb creates a dedicated database on the instance named by JOBFLOW_TEST_POSTGRES,
// passes a pool connected to it to action and drops it afterwards.
func WithTestDb(action func(db *pgxpool.Pool) error) error {
	ctx := context.Background()
	connectionString := os.Getenv(TestDbEnv)
	if connectionString == "" {
		return errors.Errorf("%s is not set", TestDbEnv)
	}

	// Connect and create a dedicated database for the test
	dbName := "test_" + util.NewULID()
	db, err := pgx.Connect(ctx, connectionString)
	if err != nil {
		return errors.WithStack(err)
	}
	defer db.Close(ctx)

	_, err = db.Exec(ctx, "CREATE DATABASE "+dbName)
	if err != nil {
		return errors.WithStack(err)
	}

	// Connect again: this time to the database we just created.
	testDbPool, err := pgxpool.Connect(ctx, connectionString+" dbname="+dbName)
	if err != nil {
		return errors.WithStack(err)
	}

	defer func() {
		testDbPool.Close()
		// disconnect all db user before cleanup
		_, err = db.Exec(ctx,
			`SELECT pg_terminate_backend(pg_stat_activity.pid)
			 FROM pg_stat_activity WHERE pg_stat_activity.datname = '`+dbName+`';`)
		if err != nil {
			log.Warn("Failed to disconnect users")
		}

		_, err = db.Exec(ctx, "DROP DATABASE "+dbName)
		if err != nil {
			log.Warn("Failed to drop database")
		}
	}()

	return action(testDbPool)
}
