//go:build mage

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binDir       = "bin"
	buildPackage = "github.com/armadaproject/jobflow/internal/flowctl/build"
)

// Build compiles the jobflow binary into ./bin, stamping it with the current git commit and time.
func Build() error {
	mg.Deps(goCheck)
	if err := os.MkdirAll(binDir, os.ModePerm); err != nil {
		return err
	}
	commit, err := sh.Output("git", "rev-parse", "HEAD")
	if err != nil {
		commit = "UNKNOWN_GITCOMMIT"
	}
	version := os.Getenv("JOBFLOW_VERSION")
	if version == "" {
		version = "dev"
	}
	ldflags := fmt.Sprintf(
		"-X %[1]s.ReleaseVersion=%[2]s -X %[1]s.GitCommit=%[3]s -X %[1]s.BuildTime=%[4]s",
		buildPackage, version, commit, time.Now().UTC().Format(time.RFC3339),
	)
	return goRun("build", "-ldflags", ldflags, "-o", binaryWithExt(binDir+"/jobflow"), "./cmd/jobflow")
}

// Clean removes build output and test reports.
func Clean() {
	fmt.Println("Cleaning...")
	for _, path := range []string{binDir, testReports} {
		os.RemoveAll(path)
	}
}

// CheckDeps checks that the tools used to build and test jobflow are present at the right version.
func CheckDeps() error {
	checks := []struct {
		name  string
		check func() error
	}{
		{"go", goCheck},
		{"docker", dockerCheck},
		{"golangci-lint", golangciLintCheck},
	}
	failures := false
	for _, check := range checks {
		fmt.Printf("Checking %s... ", check.name)
		if err := check.check(); err != nil {
			fmt.Printf("FAILED\nReason: %v\n", err)
			failures = true
		} else {
			fmt.Println("PASSED")
		}
	}
	if failures {
		return fmt.Errorf("one or more dependency checks failed")
	}
	return nil
}
