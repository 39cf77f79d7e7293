package logger

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harrison/plugintest/internal/executor"
	"github.com/harrison/plugintest/internal/host"
	"github.com/harrison/plugintest/internal/models"
	"github.com/harrison/plugintest/internal/verify"
)

func passedResult() *executor.RunResult {
	return &executor.RunResult{
		ID:          "0f8fad5b-d9cb-469f-a165-70867728950e",
		TextFiles:   []string{"expected.txt"},
		BinaryFiles: []string{"image.bin", "table.bin"},
		Staged:      []string{"configuration.ini"},
		Duration:    1500 * time.Millisecond,
	}
}

func failedResult() *executor.RunResult {
	mismatch := &models.MismatchError{File: "expected.txt", Mode: models.ModeText, Line: 3}
	r := passedResult()
	r.Err = mismatch
	r.FailedPhase = models.PhaseVerify
	r.Files = []verify.FileResult{
		{Name: "expected.txt", Mode: models.ModeText, Err: mismatch},
	}
	return r
}

// TestNewConsoleLogger verifies the constructor creates a ConsoleLogger with the provided writer.
func TestNewConsoleLogger(t *testing.T) {
	t.Run("with valid writer", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger := NewConsoleLogger(buf, "info")

		if logger == nil {
			t.Fatal("expected non-nil logger")
		}
		if logger.writer != buf {
			t.Error("writer not set correctly")
		}
		if logger.logLevel != "info" {
			t.Errorf("expected log level %q, got %q", "info", logger.logLevel)
		}
		if logger.colorOutput {
			t.Error("expected color to be disabled for a buffer")
		}
	})

	t.Run("with nil writer", func(t *testing.T) {
		logger := NewConsoleLogger(nil, "info")
		if logger == nil {
			t.Fatal("expected non-nil logger even with nil writer")
		}
		if logger.writer != nil {
			t.Error("expected nil writer")
		}
	})
}

// TestLogRunStart verifies the run banner names the run and action
func TestLogRunStart(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "debug")

	logger.LogRunStart("0f8fad5b-d9cb-469f-a165-70867728950e", models.Request{
		Action:       "convert",
		FixtureDir:   "/tests/regression",
		WorkDir:      "/tmp/run",
		TextPatterns: []string{"*.txt", "*.csv"},
	})

	output := buf.String()
	for _, want := range []string{
		"[INFO] Run 0f8fad5b: action \"convert\", fixture /tests/regression",
		"Working directory: /tmp/run",
		"Text patterns: *.txt, *.csv",
		"Binary patterns: (none)",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, output)
		}
	}
}

// TestLogPhaseFailed verifies only the first line of a failure is printed
func TestLogPhaseFailed(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "info")

	err := &models.HostError{ExitCode: 4, Stdout: "out", Stderr: "err"}
	logger.LogPhaseFailed(models.PhaseHost, err)

	output := buf.String()
	if !strings.Contains(output, "[ERROR] Phase host failed: host execution ended with code 4") {
		t.Errorf("unexpected output: %q", output)
	}
	if strings.Contains(output, "Output stream") {
		t.Errorf("expected captured streams to be omitted, got %q", output)
	}
}

// TestLogHostOutput verifies host streams are logged line by line at trace level
func TestLogHostOutput(t *testing.T) {
	outcome := &host.Outcome{ExitCode: 0, Stdout: "loaded plugin\r\nconverted 3 files\n", Stderr: "warning: slow\n"}

	t.Run("trace", func(t *testing.T) {
		buf := &bytes.Buffer{}
		NewConsoleLogger(buf, "trace").LogHostOutput("id", outcome)

		output := buf.String()
		for _, want := range []string{
			"Host exited with code 0",
			"host stdout: loaded plugin\n",
			"host stdout: converted 3 files",
			"host stderr: warning: slow",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("info hides streams", func(t *testing.T) {
		buf := &bytes.Buffer{}
		NewConsoleLogger(buf, "info").LogHostOutput("id", outcome)
		if buf.Len() != 0 {
			t.Errorf("expected no output at info level, got %q", buf.String())
		}
	})

	t.Run("timeout is a warning", func(t *testing.T) {
		buf := &bytes.Buffer{}
		NewConsoleLogger(buf, "info").LogHostOutput("id", &host.Outcome{TimedOut: true, Timeout: time.Minute})
		if !strings.Contains(buf.String(), "[WARN] Host killed after timeout of 1m0s") {
			t.Errorf("unexpected output: %q", buf.String())
		}
	})
}

// TestLogResult verifies the run summary for passing and failing runs
func TestLogResult(t *testing.T) {
	tests := []struct {
		name        string
		result      *executor.RunResult
		contains    []string
		notContains []string
	}{
		{
			name:   "pass",
			result: passedResult(),
			contains: []string{
				"=== Run Summary ===",
				"Result: PASS",
				"Text files: 1",
				"Binary files: 2",
				"Staged files: 1",
				"Duration: 1s",
			},
			notContains: []string{"Failed phase"},
		},
		{
			name:   "fail",
			result: failedResult(),
			contains: []string{
				"Result: FAIL",
				"Failed phase: verify (execution error)",
				"Failed files:",
				"  - expected.txt (mismatch)",
			},
		},
		{
			name: "missing and unreadable files",
			result: func() *executor.RunResult {
				r := failedResult()
				missing := &models.MissingFileError{File: "image.bin", Side: models.SideGenerated}
				r.Files = append(r.Files,
					verify.FileResult{Name: "image.bin", Mode: models.ModeBinary, Err: missing},
					verify.FileResult{Name: "other.bin", Mode: models.ModeBinary, Err: errors.New("permission denied")},
				)
				return r
			}(),
			contains: []string{
				"  - expected.txt (mismatch)",
				"  - image.bin (missing)",
				"  - other.bin (error)",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			NewConsoleLogger(buf, "info").LogResult(tt.result)

			output := buf.String()
			for _, want := range tt.contains {
				if !strings.Contains(output, want) {
					t.Errorf("expected output to contain %q, got:\n%s", want, output)
				}
			}
			for _, unwanted := range tt.notContains {
				if strings.Contains(output, unwanted) {
					t.Errorf("expected output not to contain %q, got:\n%s", unwanted, output)
				}
			}
		})
	}
}

// TestLogResultFilteredAtWarn verifies the summary respects the log level
func TestLogResultFilteredAtWarn(t *testing.T) {
	buf := &bytes.Buffer{}
	NewConsoleLogger(buf, "warn").LogResult(passedResult())
	if buf.Len() != 0 {
		t.Errorf("expected no summary at warn level, got %q", buf.String())
	}
}

// TestTimestampFormat verifies every line starts with [HH:MM:SS]
func TestTimestampFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "info")

	logger.LogInfo("first")
	logger.LogResult(passedResult())

	pattern := regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\] `)
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !pattern.MatchString(line) {
			t.Errorf("line does not start with a timestamp: %q", line)
		}
	}
}

// TestConcurrentLogging verifies lines are not interleaved
func TestConcurrentLogging(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewConsoleLogger(buf, "info")

	const goroutines = 10
	const messages = 20

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for m := 0; m < messages; m++ {
				logger.LogInfo("goroutine %d message %d", id, m)
			}
		}(g)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != goroutines*messages {
		t.Fatalf("expected %d lines, got %d", goroutines*messages, len(lines))
	}
	for _, line := range lines {
		if !strings.Contains(line, "[INFO] goroutine ") {
			t.Errorf("malformed line: %q", line)
		}
	}
}

// TestNilWriter verifies a nil writer never panics
func TestNilWriter(t *testing.T) {
	logger := NewConsoleLogger(nil, "trace")

	logger.LogRunStart("id", models.Request{})
	logger.LogPhaseStart(models.PhaseClassify)
	logger.LogPhaseComplete(models.PhaseHost, time.Second)
	logger.LogPhaseFailed(models.PhaseVerify, errors.New("boom"))
	logger.LogHostOutput("id", &host.Outcome{Stdout: "x"})
	logger.LogResult(failedResult())
}

// TestDurationFormatting verifies human-readable durations
func TestDurationFormatting(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0ms"},
		{250 * time.Millisecond, "250ms"},
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m30s"},
		{2 * time.Minute, "2m"},
		{time.Hour, "1h"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
		{time.Hour + time.Minute + time.Second, "1h1m1s"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.duration), func(t *testing.T) {
			if got := formatDuration(tt.duration); got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, got, tt.expected)
			}
		})
	}
}
