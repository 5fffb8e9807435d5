// Package cli provides the Cobra command structure for the clamor binary.
package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// BuildInfo holds build-time version information.
type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

// NewRootCommand creates the root clamor command with all subcommands.
func NewRootCommand(info BuildInfo) *cobra.Command {
	var debug bool
	var color string

	rootCmd := &cobra.Command{
		Use:   "clamor",
		Short: "A streaming HTML5 tokenizer",
		Long: `clamor tokenizes HTML the way browsers do: a resumable state machine
over a byte stream, recovering from malformed markup instead of rejecting it.

The tokens subcommand prints the token stream of a document, which is useful
for inspecting how real-world HTML actually parses.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if debug {
				logrus.SetLevel(logrus.TraceLevel)
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable trace logging")
	rootCmd.PersistentFlags().StringVar(&color, "color", "auto",
		"colorize output: auto, always, never")

	rootCmd.AddCommand(newTokensCommand(&color))
	rootCmd.AddCommand(newVersionCommand(info))

	return rootCmd
}
