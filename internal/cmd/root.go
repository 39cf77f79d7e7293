package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for plugintest
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugintest",
		Short: "Acceptance tests for host application plugins",
		Long: `plugintest runs a host application in batch mode against a fixture
directory and checks the files it generates.

Every run stages the fixture into a disposable test directory, launches the
host with the plugin build directory on its plugin path, and compares each
generated file with the reference copy kept in the fixture, as text or as
binary depending on which patterns it matches.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
		// main prints errors with their kind-specific prefix
		SilenceErrors: true,
	}

	// Add subcommands
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewClassifyCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
