package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/harrison/plugintest/internal/cmd"
	"github.com/harrison/plugintest/internal/models"
)

func main() {
	os.Exit(run())
}

// run executes the command line and returns the process exit code.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, diagnostic(err))
		return 1
	}
	return 0
}

// diagnostic renders err with the prefix matching its kind.
func diagnostic(err error) string {
	switch models.KindOf(err) {
	case models.KindExecution:
		return "Execution error, reason: " + err.Error()
	case models.KindOS:
		return "Operating system error, reason: " + err.Error()
	default:
		return "Execution error: " + err.Error()
	}
}
