//go:build mage

package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	testReports = "test_reports"
	// Connection string of the postgres container started by Tests.
	testPostgres = "host=localhost port=5432 user=postgres password=psw dbname=postgres sslmode=disable"
)

// Tests starts postgres in docker, runs every test and writes reports to ./test_reports.
// Redis is not needed: its persister is tested against miniredis.
func Tests() (err error) {
	mg.Deps(dockerCheck)
	if err := dockerRun("run", "-d", "--name=jobflow-postgres", "-p", "5432:5432", "-e", "POSTGRES_PASSWORD=psw", "postgres:14.2"); err != nil {
		return err
	}
	defer func() {
		if dockerErr := dockerRun("rm", "-f", "jobflow-postgres"); dockerErr != nil {
			if err == nil {
				err = dockerErr
			} else {
				err = fmt.Errorf("%w; %s", err, dockerErr.Error())
			}
		}
	}()
	if err := sh.Run("sleep", "3"); err != nil {
		return err
	}

	os.Setenv("JOBFLOW_TEST_POSTGRES", testPostgres)
	defer os.Unsetenv("JOBFLOW_TEST_POSTGRES")
	return TestsNoSetup()
}

// TestsNoSetup runs every test against whatever services are already configured.
func TestsNoSetup() error {
	if err := os.MkdirAll(testReports, os.ModePerm); err != nil {
		return err
	}
	if err := runtest("internal_coverage.out", "internal.txt", "./internal/..."); err != nil {
		return err
	}
	return runtest("cmd_coverage.out", "cmd.txt", "./cmd/...")
}

func runtest(coverageFileName, outputFileName string, directories ...string) error {
	args := []string{"test", "-v", "-count=1", "-coverprofile", filepath.Join(testReports, coverageFileName)}
	args = append(args, directories...)
	cmd := exec.Command(binaryWithExt("go"), args...)

	file, err := os.Create(filepath.Join(testReports, outputFileName))
	if err != nil {
		return err
	}
	defer file.Close()

	cmd.Stdout = io.MultiWriter(os.Stdout, file)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
