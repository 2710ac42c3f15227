package main

import (
	"os"

	"github.com/armadaproject/jobflow/cmd/jobflow/cmd"
	"github.com/armadaproject/jobflow/internal/common"
)

func main() {
	common.ConfigureCommandLineLogging()
	root := cmd.RootCmd()
	if err := root.Execute(); err != nil {
		// Cobra has already printed the error.
		os.Exit(1)
	}
}
