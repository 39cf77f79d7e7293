package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/plugintest/internal/executor"
	"github.com/harrison/plugintest/internal/host"
	"github.com/harrison/plugintest/internal/models"
)

// FileLogger logs harness events to files in a log directory.
// It creates a timestamped per-run log file, a per-run host output log,
// and maintains a latest.log symlink pointing to the most recent run.
// It is thread-safe and implements the executor.Logger interface.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	logLevel string
	mu       sync.Mutex
}

// NewFileLoggerWithDirAndLevel creates a new FileLogger with a custom log directory and log level.
// It creates the log directory if it doesn't exist, opens a timestamped
// run log file, and creates/updates the latest.log symlink.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log
	stamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", stamp))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}

	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	logger := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		logLevel: normalizeLogLevel(logLevel),
	}

	logger.writeRunLog("=== plugintest Run Log ===\n")
	logger.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return logger, nil
}

// RunFile returns the path of the run log file.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

// HostLogPath returns the file the host output of the given run is written to.
func (fl *FileLogger) HostLogPath(runID string) string {
	return filepath.Join(fl.logDir, fmt.Sprintf("host-%s.log", runID))
}

// shouldLog checks if a message at the given level should be logged.
func (fl *FileLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(fl.logLevel)
}

// logWithLevel is a helper that logs a message at the specified level if filtering allows it.
func (fl *FileLogger) logWithLevel(level string, message string) {
	if !fl.shouldLog(strings.ToLower(level)) {
		return
	}

	formatted := fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message)
	fl.writeRunLog(formatted)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(format string, args ...interface{}) {
	fl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// LogRunStart records the run parameters at INFO level.
func (fl *FileLogger) LogRunStart(runID string, req models.Request) {
	fl.logWithLevel("INFO", fmt.Sprintf("Run %s", runID))
	fl.logWithLevel("INFO", fmt.Sprintf("Host: %s", req.HostExecutable))
	fl.logWithLevel("INFO", fmt.Sprintf("Action: %s", req.Action))
	fl.logWithLevel("INFO", fmt.Sprintf("Fixture: %s", req.FixtureDir))
	fl.logWithLevel("INFO", fmt.Sprintf("Working directory: %s", req.WorkDir))
	fl.logWithLevel("INFO", fmt.Sprintf("Plugin build directory: %s", req.PluginBuildDir))
	fl.logWithLevel("INFO", fmt.Sprintf("Text patterns: %s", formatPatterns(req.TextPatterns)))
	fl.logWithLevel("INFO", fmt.Sprintf("Binary patterns: %s", formatPatterns(req.BinaryPatterns)))
}

// LogPhaseStart logs the start of a phase at DEBUG level.
func (fl *FileLogger) LogPhaseStart(phase models.Phase) {
	fl.logWithLevel("DEBUG", fmt.Sprintf("Phase %s started", phase))
}

// LogPhaseComplete logs a finished phase at INFO level.
func (fl *FileLogger) LogPhaseComplete(phase models.Phase, duration time.Duration) {
	fl.logWithLevel("INFO", fmt.Sprintf("Phase %s complete: duration %s", phase, formatDuration(duration)))
}

// LogPhaseFailed logs the full error of a failed phase at ERROR level.
func (fl *FileLogger) LogPhaseFailed(phase models.Phase, err error) {
	fl.logWithLevel("ERROR", fmt.Sprintf("Phase %s failed: %v", phase, err))
}

// LogHostOutput writes the complete host output to host-<run id>.log and a
// one-line status to the run log. Errors writing the host log are recorded
// in the run log.
func (fl *FileLogger) LogHostOutput(runID string, outcome *host.Outcome) {
	status := fmt.Sprintf("Host exited with code %d after %s", outcome.ExitCode, formatDuration(outcome.Duration))
	if outcome.TimedOut {
		status = fmt.Sprintf("Host killed after timeout of %s", outcome.Timeout)
	}
	fl.logWithLevel("INFO", status)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("=== Host output for run %s ===\n", runID))
	sb.WriteString(status + "\n")
	sb.WriteString("-= Output stream =-\n")
	sb.WriteString(outcome.Stdout)
	sb.WriteString("\n-= Error stream =-\n")
	sb.WriteString(outcome.Stderr)
	sb.WriteString("\n")

	path := fl.HostLogPath(runID)
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		fl.logWithLevel("WARN", fmt.Sprintf("failed to write host log %s: %v", path, err))
		return
	}
	fl.logWithLevel("DEBUG", fmt.Sprintf("Host output written to %s", path))
}

// LogResult logs the run summary at INFO level.
func (fl *FileLogger) LogResult(result *executor.RunResult) {
	if !fl.shouldLog("info") {
		return
	}

	var sb strings.Builder
	sb.WriteString("\n=== Run Summary ===\n")
	sb.WriteString(fmt.Sprintf("Run: %s\n", result.ID))
	sb.WriteString(fmt.Sprintf("Result: %s\n", result.Verdict()))
	sb.WriteString(fmt.Sprintf("Text files: %s\n", formatPatterns(result.TextFiles)))
	sb.WriteString(fmt.Sprintf("Binary files: %s\n", formatPatterns(result.BinaryFiles)))
	sb.WriteString(fmt.Sprintf("Staged files: %d\n", len(result.Staged)))
	for _, t := range result.Timings {
		sb.WriteString(fmt.Sprintf("  %s: %s\n", t.Phase, formatDuration(t.Duration)))
	}
	sb.WriteString(fmt.Sprintf("Duration: %s\n", formatDuration(result.Duration)))

	if !result.Passed() {
		sb.WriteString(fmt.Sprintf("Failed phase: %s\n", result.FailedPhase))
		sb.WriteString(fmt.Sprintf("Error kind: %s\n", result.Kind()))
		sb.WriteString(fmt.Sprintf("Error: %v\n", result.Err))
	}

	fl.writeRunLog(sb.String())
}

// Close flushes and closes the run log file.
// It should be called when the logger is no longer needed.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}

	return nil
}

// writeRunLog is a thread-safe helper to write to the run log file.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
		// Flush after each write for real-time logging
		fl.runLog.Sync()
	}
}

var _ executor.Logger = (*FileLogger)(nil)
