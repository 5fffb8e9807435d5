// Package main is the entry point for the clamor CLI.
package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/clamorhtml/clamor/internal/cli"
)

// Build-time variables set via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logrus.SetOutput(os.Stderr)

	rootCmd := cli.NewRootCommand(cli.BuildInfo{
		Version: version,
		Commit:  commit,
		Date:    date,
	})

	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
