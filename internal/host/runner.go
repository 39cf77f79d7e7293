// Package host launches the host application that loads the plugin under test.
//
// The host is started in batch mode with a fixed argument contract:
//
//	<host> --batch --file=<workdir>/<config> --action=<action> -PTOTAL99/pluginPath=<build dir>
//
// Its working directory is the test directory, its standard input is the null
// device and both output streams are captured in full, including output from
// processes the host leaves running. A non-zero exit code is
// reported as data in Outcome, not as an error from Run.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/plugintest/internal/models"
)

// DefaultPluginPathOption is the option prefix that tells the host where to
// load plugins from.
const DefaultPluginPathOption = "-PTOTAL99/pluginPath"

// DefaultWaitDelay bounds how long Run keeps reading output after the host
// has been killed on timeout or cancellation. Without cancellation both
// streams are read until every writer has closed them.
const DefaultWaitDelay = 5 * time.Second

// Invocation describes a single host launch.
type Invocation struct {
	Executable       string   // Path of the host executable
	WorkDir          string   // Child working directory
	PluginBuildDir   string   // Directory the built plugins are loaded from
	ConfigFile       string   // Configuration file name inside WorkDir
	Action           string   // Action the host executes
	PluginPathOption string   // Defaults to DefaultPluginPathOption
	ExtraArgs        []string // Appended after the fixed arguments
}

// ConfigPath returns the configuration file path handed to the host.
func (inv Invocation) ConfigPath() string {
	name := inv.ConfigFile
	if name == "" {
		name = models.DefaultConfigurationFile
	}
	return filepath.Join(inv.WorkDir, name)
}

// Args returns the host command-line arguments, executable excluded.
func (inv Invocation) Args() []string {
	option := inv.PluginPathOption
	if option == "" {
		option = DefaultPluginPathOption
	}

	args := []string{
		"--batch",
		"--file=" + inv.ConfigPath(),
		"--action=" + inv.Action,
		option + "=" + inv.PluginBuildDir,
	}
	return append(args, inv.ExtraArgs...)
}

// CommandLine renders the invocation for logs. Arguments are not quoted.
func (inv Invocation) CommandLine() string {
	return strings.Join(append([]string{inv.Executable}, inv.Args()...), " ")
}

// Resolved returns a copy of inv whose working directory, plugin build
// directory and executable (when given as a path rather than a bare name)
// are absolute. The host runs from WorkDir, so relative paths would resolve
// against the wrong directory.
func (inv Invocation) Resolved() (Invocation, error) {
	abs := func(p string) (string, error) {
		if p == "" || filepath.IsAbs(p) {
			return p, nil
		}
		return filepath.Abs(p)
	}

	var err error
	if inv.WorkDir, err = abs(inv.WorkDir); err != nil {
		return inv, fmt.Errorf("failed to resolve %s: %w", inv.WorkDir, err)
	}
	if inv.PluginBuildDir, err = abs(inv.PluginBuildDir); err != nil {
		return inv, fmt.Errorf("failed to resolve %s: %w", inv.PluginBuildDir, err)
	}
	if filepath.Base(inv.Executable) != inv.Executable {
		if inv.Executable, err = abs(inv.Executable); err != nil {
			return inv, fmt.Errorf("failed to resolve %s: %w", inv.Executable, err)
		}
	}
	return inv, nil
}

// Outcome is the result of a completed host process.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	TimedOut bool
	Timeout  time.Duration
}

// Success reports whether the host exited with code zero within its time limit.
func (o *Outcome) Success() bool {
	return o != nil && o.ExitCode == 0 && !o.TimedOut
}

// Err converts an unsuccessful outcome into a *models.HostError carrying the
// exit code and both captured streams. It returns nil on success.
func (o *Outcome) Err() error {
	if o.Success() {
		return nil
	}
	return &models.HostError{
		ExitCode: o.ExitCode,
		Stdout:   o.Stdout,
		Stderr:   o.Stderr,
		TimedOut: o.TimedOut,
		Timeout:  o.Timeout,
	}
}

// Runner abstracts host execution for testability.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Outcome, error)
}

// ProcessRunner runs the host as a child process and blocks until it exits.
type ProcessRunner struct {
	// Timeout kills the host after the given duration. Zero means no limit.
	Timeout time.Duration
	// Env is appended to the harness environment for the child.
	Env []string
	// WaitDelay overrides DefaultWaitDelay. It only applies once the host
	// has been killed.
	WaitDelay time.Duration
}

// NewProcessRunner creates a ProcessRunner with the given timeout.
func NewProcessRunner(timeout time.Duration) *ProcessRunner {
	return &ProcessRunner{Timeout: timeout}
}

// Run launches the host and waits for it to terminate. Launch failures are
// returned as errors. A host that runs and exits non-zero (or is killed on
// timeout) yields an Outcome and a nil error; use Outcome.Err to gate on it.
func (r *ProcessRunner) Run(ctx context.Context, inv Invocation) (*Outcome, error) {
	inv, err := inv.Resolved()
	if err != nil {
		return nil, err
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, inv.Executable, inv.Args()...)
	cmd.Dir = inv.WorkDir
	// nil Stdin reads from the null device
	cmd.Stdin = nil

	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	stdout, err := newCapture()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}
	stderr, err := newCapture()
	if err != nil {
		stdout.abort()
		return nil, fmt.Errorf("failed to create error pipe: %w", err)
	}
	// Handing exec an *os.File keeps it from copying the stream itself, so
	// Wait returns when the host exits and the harness decides when to stop
	// reading.
	cmd.Stdout = stdout.w
	cmd.Stderr = stderr.w

	start := time.Now()
	if err := cmd.Start(); err != nil {
		stdout.abort()
		stderr.abort()
		return nil, fmt.Errorf("failed to run host %s: %w", inv.Executable, err)
	}
	stdout.start()
	stderr.start()

	err = cmd.Wait()
	// Checked before draining so that a context expiring while a leftover
	// process holds the streams open does not turn a finished host into a
	// timed-out one.
	ctxErr := ctx.Err()
	r.drain(ctx, stdout, stderr)

	outcome := &Outcome{
		Stdout:   stdout.buf.String(),
		Stderr:   stderr.buf.String(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}

	if ctxErr != nil {
		if r.Timeout > 0 && errors.Is(ctxErr, context.DeadlineExceeded) {
			outcome.TimedOut = true
			outcome.Timeout = r.Timeout
			return outcome, nil
		}
		return outcome, fmt.Errorf("host %s interrupted: %w", inv.Executable, ctxErr)
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("failed to run host %s: %w", inv.Executable, err)
	}

	return outcome, nil
}

// drain waits until every stream reaches end of file. Once ctx is done the
// streams get WaitDelay more to finish and are then closed.
func (r *ProcessRunner) drain(ctx context.Context, streams ...*capture) {
	all := make(chan struct{})
	go func() {
		for _, c := range streams {
			<-c.done
		}
		close(all)
	}()

	select {
	case <-all:
	case <-ctx.Done():
		grace := r.WaitDelay
		if grace == 0 {
			grace = DefaultWaitDelay
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case <-all:
		case <-timer.C:
			for _, c := range streams {
				c.r.Close()
			}
			<-all
		}
	}

	for _, c := range streams {
		c.r.Close()
	}
}

// capture collects one output stream of the host through a pipe owned by
// the harness.
type capture struct {
	r, w *os.File
	buf  bytes.Buffer
	done chan struct{}
}

func newCapture() (*capture, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &capture{r: r, w: w, done: make(chan struct{})}, nil
}

// start closes the parent's copy of the write end, which the child now owns,
// and begins reading. buf may only be read after done is closed.
func (c *capture) start() {
	c.w.Close()
	go func() {
		defer close(c.done)
		// A read error after close ends the stream like EOF
		_, _ = io.Copy(&c.buf, c.r)
	}()
}

// abort releases a capture that was never started.
func (c *capture) abort() {
	c.r.Close()
	c.w.Close()
}
