//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

// LintFix runs golangci-lint and applies its fixes.
func LintFix() error {
	return lint("run", "--fix", "--timeout", "10m")
}

// CheckLint runs golangci-lint.
func CheckLint() error {
	return lint("run", "--timeout", "10m")
}

func lint(args ...string) error {
	mg.Deps(golangciLintCheck)
	output, err := golangcilintOutput(args...)
	if err != nil {
		fmt.Printf("\nOutput: %s\n", output)
		return err
	}
	return nil
}
