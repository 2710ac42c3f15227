//go:build mage

package main

import (
	"runtime"
	"strings"

	semver "github.com/Masterminds/semver/v3"
	"github.com/magefile/mage/sh"
	"github.com/pkg/errors"
)

const (
	GO_VERSION_CONSTRAINT            = ">= 1.20.0"
	DOCKER_VERSION_CONSTRAINT        = ">= 19.0.0"
	GOLANGCI_LINT_VERSION_CONSTRAINT = ">= 1.52.0"
)

func binaryWithExt(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func goRun(args ...string) error {
	return sh.Run(binaryWithExt("go"), args...)
}

func dockerOutput(args ...string) (string, error) {
	return sh.Output(binaryWithExt("docker"), args...)
}

func dockerRun(args ...string) error {
	return sh.Run(binaryWithExt("docker"), args...)
}

func golangcilintOutput(args ...string) (string, error) {
	return sh.Output(binaryWithExt("golangci-lint"), args...)
}

// toolVersion runs "<binary> <versionArgs>" and parses the field at index as a semantic version.
func toolVersion(output func(...string) (string, error), index int, versionArgs ...string) (*semver.Version, error) {
	out, err := output(versionArgs...)
	if err != nil {
		return nil, errors.Errorf("error running version cmd: %v", err)
	}
	fields := strings.Fields(out)
	if len(fields) <= index {
		return nil, errors.Errorf("unexpected version cmd output: %s", out)
	}
	raw := strings.TrimPrefix(strings.Trim(fields[index], ","), "go")
	version, err := semver.NewVersion(strings.TrimPrefix(raw, "v"))
	if err != nil {
		return nil, errors.Errorf("error parsing version: %v", err)
	}
	return version, nil
}

func checkVersion(version *semver.Version, err error, constraintText string) error {
	if err != nil {
		return errors.Errorf("error getting version: %v", err)
	}
	constraint, err := semver.NewConstraint(constraintText)
	if err != nil {
		return errors.Errorf("error parsing constraint: %v", err)
	}
	if !constraint.Check(version) {
		return errors.Errorf("found version %v but it failed constraint %v", version, constraint)
	}
	return nil
}

func goCheck() error {
	// go version go1.20.3 linux/amd64
	version, err := toolVersion(func(args ...string) (string, error) {
		return sh.Output(binaryWithExt("go"), args...)
	}, 2, "version")
	return checkVersion(version, err, GO_VERSION_CONSTRAINT)
}

func dockerCheck() error {
	// Docker version 24.0.5, build ced0996
	version, err := toolVersion(dockerOutput, 2, "--version")
	return checkVersion(version, err, DOCKER_VERSION_CONSTRAINT)
}

func golangciLintCheck() error {
	// golangci-lint has version 1.54.2 built with ...
	version, err := toolVersion(golangcilintOutput, 3, "--version")
	return checkVersion(version, err, GOLANGCI_LINT_VERSION_CONSTRAINT)
}
