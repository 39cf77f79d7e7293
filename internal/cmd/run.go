package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/plugintest/internal/config"
	"github.com/harrison/plugintest/internal/executor"
	"github.com/harrison/plugintest/internal/filelock"
	"github.com/harrison/plugintest/internal/history"
	"github.com/harrison/plugintest/internal/host"
	"github.com/harrison/plugintest/internal/logger"
	"github.com/harrison/plugintest/internal/models"
	"github.com/harrison/plugintest/internal/report"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <host-exe> <fixture-dir> <plugin-build-dir> <test-dir> <action>",
		Short: "Run one acceptance test",
		Long: `Run one acceptance test against a host application.

The test directory is deleted and recreated, then filled with every fixture
file that is not verified. The host is started in batch mode from the test
directory:

  <host-exe> --batch --file=<test-dir>/<configuration-file> \
      --action=<action> -PTOTAL99/pluginPath=<plugin-build-dir>

When it exits with code 0, every fixture file matching a text pattern must
have been regenerated with the same lines (line endings ignored), and every
file matching a binary pattern with the same bytes. A file matching both
kinds of pattern is verified as text.

WARNING: the test directory is removed without confirmation.

Configuration is loaded from $PLUGINTEST_HOME/config.yaml (default
.plugintest/config.yaml) if present. CLI flags override configuration file
settings.

Examples:
  plugintest run ./host ./tests/export ./build/plugins /tmp/export export -t '*.txt'
  plugintest run ./host ./tests/image ./build/plugins /tmp/image render -b '*.png' -t '*.log'
  plugintest run --keep-going --report report.html ./host ./tests/export ./build /tmp/t export -t '*.csv'
  plugintest run --dry-run ./host ./tests/export ./build /tmp/t export -t '*.txt'`,
		Args: cobra.ExactArgs(5),
		RunE: runCommand,
	}

	// Verification patterns
	cmd.Flags().StringArrayP("match-text", "t", nil, "Verify files matching PATTERN as text (repeatable)")
	cmd.Flags().StringArrayP("match-binary", "b", nil, "Verify files matching PATTERN as binary (repeatable)")
	cmd.Flags().StringP("configuration-file", "c", models.DefaultConfigurationFile, "Host configuration file name inside the test directory")
	cmd.Flags().BoolP("windows-paths", "w", false, "Convert '/' to '\\' in paths, patterns and the configuration file name")

	// Harness options
	cmd.Flags().String("config", "", "Path to config file (default: $PLUGINTEST_HOME/config.yaml)")
	cmd.Flags().String("log-level", "", "Console log level (trace, debug, info, warn, error)")
	cmd.Flags().Bool("verbose", false, "Show detailed progress (same as --log-level debug)")
	cmd.Flags().String("log-dir", "", "Directory for run and host logs")
	cmd.Flags().String("timeout", "", "Kill the host after this long (e.g., 30s, 5m; 0 = no limit)")
	cmd.Flags().Bool("keep-going", false, "Verify every file instead of stopping at the first failure")
	cmd.Flags().String("report", "", "Write a run report to PATH (.html/.htm for HTML, Markdown otherwise)")
	cmd.Flags().Bool("history", false, "Record the run in the history database")
	cmd.Flags().String("history-db", "", "History database path (default: $PLUGINTEST_HOME/history.db)")
	cmd.Flags().Bool("no-lock", false, "Do not lock the test directory (the lock is <test-dir>.lock while a run is in progress)")
	cmd.Flags().Bool("dry-run", false, "Classify fixture files without staging or running the host")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	textPatterns, _ := cmd.Flags().GetStringArray("match-text")
	binaryPatterns, _ := cmd.Flags().GetStringArray("match-binary")
	windowsPaths, _ := cmd.Flags().GetBool("windows-paths")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	reportPath, _ := cmd.Flags().GetString("report")

	req := models.Request{
		HostExecutable:    args[0],
		FixtureDir:        args[1],
		PluginBuildDir:    args[2],
		WorkDir:           args[3],
		Action:            args[4],
		TextPatterns:      textPatterns,
		BinaryPatterns:    binaryPatterns,
		ConfigurationFile: cfg.ConfigurationFile,
	}
	if windowsPaths {
		req = toWindowsPaths(req)
	}

	// Console logger for real-time progress
	consoleLog := logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	loggers := []executor.Logger{consoleLog}

	// File logger only when a log directory is configured
	if cfg.LogDir != "" {
		fileLog, err := logger.NewFileLoggerWithDirAndLevel(cfg.LogDir, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to create file logger: %w", err)
		}
		defer fileLog.Close()
		consoleLog.LogDebug("Run log: %s", fileLog.RunFile())
		loggers = append(loggers, fileLog)
	}
	multiLog := logger.NewMultiLogger(loggers...)

	runner := host.NewProcessRunner(cfg.Timeout)
	runner.Env = cfg.Host.Env

	harness := executor.NewHarness(afero.NewOsFs(), runner, multiLog)
	harness.PluginPathOption = cfg.Host.PluginPathOption
	harness.ExtraArgs = cfg.Host.ExtraArgs
	harness.DryRun = dryRun
	if cfg.Lock {
		harness.Locker = filelock.WorkDirLocker{}
	}
	harness.Verifier().KeepGoing = cfg.KeepGoing

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, runErr := harness.Run(ctx, req)

	if dryRun && runErr == nil {
		printClassification(cmd.OutOrStdout(), result.TextFiles, result.BinaryFiles, result.Staged)
	}

	if reportPath != "" {
		if err := report.Write(reportPath, result); err != nil {
			consoleLog.LogWarn("%v", err)
		} else {
			consoleLog.LogInfo("Report written to %s", reportPath)
		}
	}

	if cfg.History.Enabled {
		if err := recordHistory(ctx, cfg.History.DBPath, result); err != nil {
			consoleLog.LogWarn("failed to record run history: %v", err)
		}
	}

	printVerdict(cmd.OutOrStdout(), result)

	// The harness error reaches main unchanged so it can report its kind
	return runErr
}

// loadRunConfig loads the configuration file and applies the flags that
// were set on the command line.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		var err error
		configPath, err = config.GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to locate config: %w", err)
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	flags := cmd.Flags()
	var overrides config.FlagOverrides

	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		overrides.LogLevel = &level
	}
	// --verbose wins over --log-level
	if verbose, _ := flags.GetBool("verbose"); verbose {
		level := "debug"
		overrides.LogLevel = &level
	}
	if flags.Changed("log-dir") {
		logDir, _ := flags.GetString("log-dir")
		overrides.LogDir = &logDir
	}
	if flags.Changed("timeout") {
		timeoutStr, _ := flags.GetString("timeout")
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout format %q: %w", timeoutStr, err)
		}
		overrides.Timeout = &timeout
	}
	if flags.Changed("configuration-file") {
		name, _ := flags.GetString("configuration-file")
		overrides.ConfigurationFile = &name
	}
	if flags.Changed("keep-going") {
		keepGoing, _ := flags.GetBool("keep-going")
		overrides.KeepGoing = &keepGoing
	}
	if flags.Changed("no-lock") {
		noLock, _ := flags.GetBool("no-lock")
		lock := !noLock
		overrides.Lock = &lock
	}
	if flags.Changed("history") {
		enabled, _ := flags.GetBool("history")
		overrides.HistoryEnabled = &enabled
	}
	if flags.Changed("history-db") {
		dbPath, _ := flags.GetString("history-db")
		overrides.HistoryDBPath = &dbPath
	}

	// Merge CLI flags with config (flags take precedence)
	cfg.MergeWithFlags(overrides)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// recordHistory appends result to the history database.
func recordHistory(ctx context.Context, dbPath string, result *executor.RunResult) error {
	if dbPath == "" {
		var err error
		dbPath, err = config.GetHistoryDBPath()
		if err != nil {
			return err
		}
	}

	store, err := history.NewStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Record even when the run was cancelled
	return store.RecordRun(context.WithoutCancel(ctx), history.FromResult(result))
}

// toWindowsPaths rewrites '/' as '\' in every path, pattern and the
// configuration file name of req.
func toWindowsPaths(req models.Request) models.Request {
	conv := func(s string) string {
		return strings.ReplaceAll(s, "/", `\`)
	}
	convAll := func(items []string) []string {
		if items == nil {
			return nil
		}
		out := make([]string, len(items))
		for i, s := range items {
			out[i] = conv(s)
		}
		return out
	}

	req.HostExecutable = conv(req.HostExecutable)
	req.FixtureDir = conv(req.FixtureDir)
	req.PluginBuildDir = conv(req.PluginBuildDir)
	req.WorkDir = conv(req.WorkDir)
	req.TextPatterns = convAll(req.TextPatterns)
	req.BinaryPatterns = convAll(req.BinaryPatterns)
	req.ConfigurationFile = conv(req.ConfigurationFile)
	return req
}
