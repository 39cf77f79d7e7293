// Package logger provides logging implementations for harness runs.
//
// Loggers report pipeline progress phase by phase and summarize the verdict.
// Implementations are thread-safe and write to the console or to log files.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/harrison/plugintest/internal/executor"
	"github.com/harrison/plugintest/internal/host"
	"github.com/harrison/plugintest/internal/models"
	"github.com/mattn/go-isatty"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ValidLevels lists the accepted log level names, most verbose first.
var ValidLevels = []string{"trace", "debug", "info", "warn", "error"}

// ConsoleLogger logs run progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps.
// It supports log level filtering to control message verbosity.
// Color output is automatically enabled for terminal output (os.Stdout/os.Stderr).
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive).
// If logLevel is empty or invalid, defaults to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal checks if the writer is a terminal that supports colors.
// Returns true for os.Stdout and os.Stderr when they are TTYs.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || (f != os.Stdout && f != os.Stderr) {
		return false
	}

	// NO_COLOR and non-TTY stdout set color.NoColor
	if color.NoColor {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsValidLevel reports whether level names a known log level.
func IsValidLevel(level string) bool {
	normalized := strings.ToLower(strings.TrimSpace(level))
	for _, l := range ValidLevels {
		if l == normalized {
			return true
		}
	}
	return false
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
// Returns "info" as default for empty or invalid levels.
func normalizeLogLevel(level string) string {
	if IsValidLevel(level) {
		return strings.ToLower(strings.TrimSpace(level))
	}
	return "info"
}

// shouldLog checks if a message at the given level should be logged.
func (cl *ConsoleLogger) shouldLog(messageLevel string) bool {
	return logLevelToInt(messageLevel) >= logLevelToInt(cl.logLevel)
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// LogTrace logs a trace-level message (most verbose).
// Format: "[HH:MM:SS] [TRACE] <message>"
func (cl *ConsoleLogger) LogTrace(format string, args ...interface{}) {
	cl.logWithLevel("TRACE", fmt.Sprintf(format, args...))
}

// LogDebug logs a debug-level message.
// Format: "[HH:MM:SS] [DEBUG] <message>"
func (cl *ConsoleLogger) LogDebug(format string, args ...interface{}) {
	cl.logWithLevel("DEBUG", fmt.Sprintf(format, args...))
}

// LogInfo logs an info-level message.
// Format: "[HH:MM:SS] [INFO] <message>"
func (cl *ConsoleLogger) LogInfo(format string, args ...interface{}) {
	cl.logWithLevel("INFO", fmt.Sprintf(format, args...))
}

// LogWarn logs a warning-level message.
// Format: "[HH:MM:SS] [WARN] <message>"
func (cl *ConsoleLogger) LogWarn(format string, args ...interface{}) {
	cl.logWithLevel("WARN", fmt.Sprintf(format, args...))
}

// LogError logs an error-level message.
// Format: "[HH:MM:SS] [ERROR] <message>"
func (cl *ConsoleLogger) LogError(format string, args ...interface{}) {
	cl.logWithLevel("ERROR", fmt.Sprintf(format, args...))
}

// logWithLevel is a helper that logs a message at the specified level if filtering allows it.
func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil {
		return
	}

	if !cl.shouldLog(strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	var formatted string
	if cl.colorOutput {
		formatted = cl.formatWithColor(ts, level, message)
	} else {
		formatted = fmt.Sprintf("[%s] [%s] %s\n", ts, level, message)
	}

	cl.writer.Write([]byte(formatted))
}

// formatWithColor formats a log message with ANSI color codes.
func (cl *ConsoleLogger) formatWithColor(ts, level, message string) string {
	var coloredLevel string

	switch strings.ToUpper(level) {
	case "TRACE":
		coloredLevel = color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		coloredLevel = color.New(color.FgCyan).Sprint(level)
	case "INFO":
		coloredLevel = color.New(color.FgBlue).Sprint(level)
	case "WARN":
		coloredLevel = color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		coloredLevel = color.New(color.FgRed).Sprint(level)
	default:
		coloredLevel = level
	}

	return fmt.Sprintf("[%s] [%s] %s\n", ts, coloredLevel, message)
}

// LogRunStart logs the beginning of a run at INFO level.
func (cl *ConsoleLogger) LogRunStart(runID string, req models.Request) {
	cl.LogInfo("Run %s: action %q, fixture %s", shortID(runID), req.Action, req.FixtureDir)
	cl.LogDebug("Working directory: %s", req.WorkDir)
	cl.LogDebug("Text patterns: %s", formatPatterns(req.TextPatterns))
	cl.LogDebug("Binary patterns: %s", formatPatterns(req.BinaryPatterns))
}

// LogPhaseStart logs the start of a pipeline phase at DEBUG level.
func (cl *ConsoleLogger) LogPhaseStart(phase models.Phase) {
	cl.LogDebug("Phase %s started", phase)
}

// LogPhaseComplete logs a finished pipeline phase at DEBUG level, or INFO
// for the host phase whose duration usually dominates the run.
func (cl *ConsoleLogger) LogPhaseComplete(phase models.Phase, duration time.Duration) {
	if phase == models.PhaseHost {
		cl.LogInfo("Host finished in %s", formatDuration(duration))
		return
	}
	cl.LogDebug("Phase %s complete in %s", phase, formatDuration(duration))
}

// LogPhaseFailed logs a failed phase at ERROR level. Only the first line of
// the error is shown; the full text goes to the summary.
func (cl *ConsoleLogger) LogPhaseFailed(phase models.Phase, err error) {
	cl.LogError("Phase %s failed: %s", phase, firstLine(err.Error()))
}

// LogHostOutput logs the host exit status at DEBUG level and its captured
// streams at TRACE level.
func (cl *ConsoleLogger) LogHostOutput(runID string, outcome *host.Outcome) {
	if outcome.TimedOut {
		cl.LogWarn("Host killed after timeout of %s", outcome.Timeout)
	} else {
		cl.LogDebug("Host exited with code %d", outcome.ExitCode)
	}

	for _, line := range splitLines(outcome.Stdout) {
		cl.LogTrace("host stdout: %s", line)
	}
	for _, line := range splitLines(outcome.Stderr) {
		cl.LogTrace("host stderr: %s", line)
	}
}

// LogResult logs the run summary at INFO level.
// Format: "[HH:MM:SS] === Run Summary ===\n[HH:MM:SS] Result: <verdict>\n..."
func (cl *ConsoleLogger) LogResult(result *executor.RunResult) {
	if cl.writer == nil || !cl.shouldLog("info") {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	verdict := result.Verdict()

	var output string
	if cl.colorOutput {
		header := color.New(color.Bold).Sprint("=== Run Summary ===")
		output = fmt.Sprintf("[%s] %s\n", ts, header)
		if result.Passed() {
			verdict = color.New(color.FgGreen, color.Bold).Sprint(verdict)
		} else {
			verdict = color.New(color.FgRed, color.Bold).Sprint(verdict)
		}
	} else {
		output = fmt.Sprintf("[%s] === Run Summary ===\n", ts)
	}

	output += fmt.Sprintf("[%s] Result: %s\n", ts, verdict)
	output += fmt.Sprintf("[%s] Text files: %d\n", ts, len(result.TextFiles))
	output += fmt.Sprintf("[%s] Binary files: %d\n", ts, len(result.BinaryFiles))
	output += fmt.Sprintf("[%s] Staged files: %d\n", ts, len(result.Staged))
	output += fmt.Sprintf("[%s] Duration: %s\n", ts, formatDuration(result.Duration))

	if !result.Passed() {
		output += fmt.Sprintf("[%s] Failed phase: %s (%s error)\n", ts, result.FailedPhase, result.Kind())
		if failed := result.FailedFiles(); len(failed) > 0 {
			output += fmt.Sprintf("[%s] Failed files:\n", ts)
			for _, f := range result.Files {
				if !f.Passed() {
					output += fmt.Sprintf("[%s]   - %s (%s)\n", ts, f.Name, failureReason(f.Err))
				}
			}
		}
	}

	cl.writer.Write([]byte(output))
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "250ms", "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		remainder := d % time.Hour
		if remainder == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		minutes := remainder / time.Minute
		remainder = remainder % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case d >= time.Minute:
		minutes := d / time.Minute
		remainder := d % time.Minute
		if remainder == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		seconds := remainder / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	case d >= time.Second:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatPatterns(patterns []string) string {
	if len(patterns) == 0 {
		return "(none)"
	}
	return strings.Join(patterns, ", ")
}

func failureReason(err error) string {
	switch {
	case models.IsMissingFileError(err):
		return "missing"
	case models.IsMismatchError(err):
		return "mismatch"
	default:
		return "error"
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\r\n")
	if s == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}
