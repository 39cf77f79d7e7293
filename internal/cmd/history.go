package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/harrison/plugintest/internal/config"
	"github.com/harrison/plugintest/internal/history"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the 'plugintest history' command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List runs recorded with "plugintest run --history", newest first.

The history is an audit trail. It is never used to skip a run.

Examples:
  plugintest history --limit 10
  plugintest history --failed --action export
  plugintest history show 0f8fad5b
  plugintest history prune --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: runHistory,
	}

	cmd.PersistentFlags().String("db", "", "History database path (default: $PLUGINTEST_HOME/history.db)")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 = all)")
	cmd.Flags().Bool("failed", false, "Only list runs that did not pass")
	cmd.Flags().String("action", "", "Only list runs of this action")
	cmd.Flags().String("fixture", "", "Only list runs of this fixture directory")

	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded run",
		Long: `Show every recorded detail of a run, including per-file results.
A unique prefix of the run ID is enough.`,
		Args: cobra.ExactArgs(1),
		RunE: runHistoryShow,
	}
}

func newHistoryPruneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old recorded runs",
		Long: `Delete every run that started before now minus --older-than,
together with its per-file results.`,
		Args: cobra.NoArgs,
		RunE: runHistoryPrune,
	}
	cmd.Flags().Duration("older-than", 30*24*time.Hour, "Delete runs older than this duration")
	return cmd
}

// openHistory opens the history database named by --db or the default one.
// It returns a nil store when the database does not exist yet.
func openHistory(cmd *cobra.Command) (*history.Store, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		var err error
		dbPath, err = config.GetHistoryDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get history database path: %w", err)
		}
	}

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, nil
	}

	store, err := history.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	return store, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	output := cmd.OutOrStdout()

	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	if store == nil {
		fmt.Fprintln(output, "No runs recorded.")
		return nil
	}
	defer store.Close()

	var filter history.Filter
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	filter.FailedOnly, _ = cmd.Flags().GetBool("failed")
	filter.Action, _ = cmd.Flags().GetString("action")
	filter.FixtureDir, _ = cmd.Flags().GetString("fixture")

	runs, err := store.ListRuns(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Fprintln(output, "No runs recorded.")
		return nil
	}

	total, err := store.CountRuns(context.Background())
	if err != nil {
		return err
	}

	printRunList(output, runs)
	fmt.Fprintf(output, "\n%d of %d recorded run(s)\n", len(runs), total)
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("%w: %s", history.ErrRunNotFound, args[0])
	}
	defer store.Close()

	run, err := store.GetRun(context.Background(), args[0])
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			return err
		}
		return fmt.Errorf("get run: %w", err)
	}

	printRunDetail(cmd.OutOrStdout(), run)
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	output := cmd.OutOrStdout()

	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive, got %s", olderThan)
	}

	store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	if store == nil {
		fmt.Fprintln(output, "No runs recorded.")
		return nil
	}
	defer store.Close()

	n, err := store.DeleteOlderThan(context.Background(), time.Now().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}

	fmt.Fprintf(output, "Deleted %d run(s) older than %s.\n", n, olderThan)
	return nil
}

// printRunList formats one line per run
func printRunList(w io.Writer, runs []*history.Run) {
	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)

	cyan.Fprintf(w, "%-8s  %-19s  %-7s  %-9s  %s\n", "RUN", "STARTED", "RESULT", "DURATION", "ACTION / FIXTURE")
	for _, run := range runs {
		fmt.Fprintf(w, "%-8s  %-19s  ", shortRunID(run.ID), run.StartedAt.Local().Format("2006-01-02 15:04:05"))
		verdictColor(run).Fprintf(w, "%-7s", runVerdict(run))
		fmt.Fprintf(w, "  %-9s  %s ", run.Duration.Round(time.Millisecond), run.Action)
		gray.Fprintf(w, "(%s)\n", run.FixtureDir)
	}
}

// printRunDetail formats every recorded field of run
func printRunDetail(w io.Writer, run *history.Run) {
	cyan := color.New(color.FgCyan, color.Bold)

	cyan.Fprintf(w, "\n=== Run %s ===\n\n", run.ID)
	fmt.Fprintf(w, "  Result: ")
	verdictColor(run).Fprintf(w, "%s\n", runVerdict(run))
	fmt.Fprintf(w, "  Started: %s\n", run.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "  Duration: %s\n", run.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Action: %s\n", run.Action)
	fmt.Fprintf(w, "  Host: %s\n", run.Host)
	fmt.Fprintf(w, "  Fixture: %s\n", run.FixtureDir)
	fmt.Fprintf(w, "  Test directory: %s\n", run.WorkDir)
	fmt.Fprintf(w, "  Plugin directory: %s\n", run.PluginDir)
	fmt.Fprintf(w, "  Text patterns: %s\n", joinOrNone(run.TextPatterns))
	fmt.Fprintf(w, "  Binary patterns: %s\n", joinOrNone(run.BinaryPatterns))
	if run.ExitCode != nil {
		fmt.Fprintf(w, "  Host exit code: %d\n", *run.ExitCode)
	}

	if !run.Passed {
		fmt.Fprintf(w, "  Failed phase: %s (%s error)\n", run.FailedPhase, run.ErrorKind)
		fmt.Fprintf(w, "  Error: %s\n", indentContinuation(run.ErrorMessage, "    "))
	}

	if len(run.Files) > 0 {
		cyan.Fprintf(w, "\nFiles:\n")
		green := color.New(color.FgGreen)
		red := color.New(color.FgRed)
		for _, f := range run.Files {
			if f.Passed {
				green.Fprintf(w, "  ok    ")
			} else {
				red.Fprintf(w, "  FAIL  ")
			}
			fmt.Fprintf(w, "%s (%s)", f.Name, f.Mode)
			if f.ErrorMessage != "" {
				fmt.Fprintf(w, ": %s", f.ErrorMessage)
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w)
}

func runVerdict(run *history.Run) string {
	switch {
	case !run.Passed:
		return "FAIL"
	case run.DryRun:
		return "DRY-RUN"
	default:
		return "PASS"
	}
}

func verdictColor(run *history.Run) *color.Color {
	switch runVerdict(run) {
	case "PASS":
		return color.New(color.FgGreen)
	case "FAIL":
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, " ")
}

func indentContinuation(s, indent string) string {
	s = strings.TrimRight(s, "\n")
	return strings.ReplaceAll(s, "\n", "\n"+indent)
}
