package executor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/harrison/plugintest/internal/host"
	"github.com/harrison/plugintest/internal/models"
	"github.com/harrison/plugintest/internal/workspace"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner is a test double for host.Runner.
type fakeRunner struct {
	runFunc func(ctx context.Context, inv host.Invocation) (*host.Outcome, error)
	calls   []host.Invocation
}

func (f *fakeRunner) Run(ctx context.Context, inv host.Invocation) (*host.Outcome, error) {
	f.calls = append(f.calls, inv)
	if f.runFunc != nil {
		return f.runFunc(ctx, inv)
	}
	return &host.Outcome{}, nil
}

// mockLogger captures logging calls for testing.
type mockLogger struct {
	runStarts     []string
	phaseStarts   []models.Phase
	phaseComplete []models.Phase
	phaseFailed   []models.Phase
	hostOutputs   []*host.Outcome
	results       []*RunResult
}

func (m *mockLogger) LogRunStart(runID string, req models.Request) {
	m.runStarts = append(m.runStarts, runID)
}

func (m *mockLogger) LogPhaseStart(phase models.Phase) {
	m.phaseStarts = append(m.phaseStarts, phase)
}

func (m *mockLogger) LogPhaseComplete(phase models.Phase, duration time.Duration) {
	m.phaseComplete = append(m.phaseComplete, phase)
}

func (m *mockLogger) LogPhaseFailed(phase models.Phase, err error) {
	m.phaseFailed = append(m.phaseFailed, phase)
}

func (m *mockLogger) LogHostOutput(runID string, outcome *host.Outcome) {
	m.hostOutputs = append(m.hostOutputs, outcome)
}

func (m *mockLogger) LogDebug(format string, args ...interface{}) {}

func (m *mockLogger) LogResult(result *RunResult) {
	m.results = append(m.results, result)
}

// fakeLocker records lock usage.
type fakeLocker struct {
	err      error
	acquired []string
	released int
}

func (l *fakeLocker) Acquire(workDir string) (func() error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, workDir)
	return func() error {
		l.released++
		return nil
	}, nil
}

const (
	fixtureDir = "/tests/regression"
	workDir    = "/tmp/run"
)

func newFixture(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	files := map[string]string{
		"configuration.ini": "[test]\n",
		"input.dat":         "raw input",
		"expected.txt":      "line 1\r\nline 2\r\n",
		"image.bin":         "\x00\x01\x02",
	}
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fsys, filepath.Join(fixtureDir, name), []byte(content), 0644))
	}
	require.NoError(t, fsys.MkdirAll(filepath.Join(fixtureDir, "subdir"), 0755))
	return fsys
}

func newRequest() models.Request {
	return models.Request{
		HostExecutable: "/opt/host/bin/host",
		FixtureDir:     fixtureDir,
		PluginBuildDir: "/build/plugins",
		WorkDir:        workDir,
		Action:         "convert",
		TextPatterns:   []string{"*.txt"},
		BinaryPatterns: []string{"*.bin"},
	}
}

// producingRunner writes the expected outputs into the working directory.
func producingRunner(fsys afero.Fs, outputs map[string]string) *fakeRunner {
	return &fakeRunner{
		runFunc: func(ctx context.Context, inv host.Invocation) (*host.Outcome, error) {
			for name, content := range outputs {
				if err := afero.WriteFile(fsys, filepath.Join(inv.WorkDir, name), []byte(content), 0644); err != nil {
					return nil, err
				}
			}
			return &host.Outcome{Stdout: "done"}, nil
		},
	}
}

func TestHarnessRun_Pass(t *testing.T) {
	fsys := newFixture(t)
	runner := producingRunner(fsys, map[string]string{
		"expected.txt": "line 1\nline 2\n",
		"image.bin":    "\x00\x01\x02",
	})
	log := &mockLogger{}

	h := NewHarness(fsys, runner, log)
	result, err := h.Run(context.Background(), newRequest())

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Passed())
	assert.Equal(t, "PASS", result.Verdict())
	assert.Equal(t, models.KindNone, result.Kind())
	assert.NotEmpty(t, result.ID)

	assert.Equal(t, []string{"expected.txt"}, result.TextFiles)
	assert.Equal(t, []string{"image.bin"}, result.BinaryFiles)
	assert.Equal(t, []string{"configuration.ini", "input.dat"}, result.Staged)
	require.Len(t, result.Files, 2)
	assert.Equal(t, "done", result.Outcome.Stdout)

	require.Len(t, result.Timings, 4)
	assert.Equal(t, models.PhaseVerify, result.Timings[3].Phase)

	assert.Equal(t, []string{result.ID}, log.runStarts)
	assert.Equal(t, []models.Phase{models.PhaseClassify, models.PhaseStage, models.PhaseHost, models.PhaseVerify}, log.phaseComplete)
	assert.Empty(t, log.phaseFailed)
	assert.Len(t, log.hostOutputs, 1)
	require.Len(t, log.results, 1)
	assert.Same(t, result, log.results[0])
}

func TestHarnessRun_StagesOnlyUnverifiedFiles(t *testing.T) {
	fsys := newFixture(t)
	var seen []string
	runner := &fakeRunner{
		runFunc: func(ctx context.Context, inv host.Invocation) (*host.Outcome, error) {
			entries, err := afero.ReadDir(fsys, inv.WorkDir)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				seen = append(seen, e.Name())
			}
			return &host.Outcome{ExitCode: 1}, nil
		},
	}

	// Leftovers from an earlier run must be gone before the host starts
	require.NoError(t, afero.WriteFile(fsys, filepath.Join(workDir, "expected.txt"), []byte("stale"), 0644))

	_, _ = NewHarness(fsys, runner, nil).Run(context.Background(), newRequest())

	assert.Equal(t, []string{"configuration.ini", "input.dat"}, seen)
}

func TestHarnessRun_Invocation(t *testing.T) {
	fsys := newFixture(t)
	runner := &fakeRunner{}

	req := newRequest()
	req.ConfigurationFile = "alt.ini"

	h := NewHarness(fsys, runner, nil)
	h.PluginPathOption = "-PHOST/plugins"
	h.ExtraArgs = []string{"--quiet"}
	_, _ = h.Run(context.Background(), req)

	require.Len(t, runner.calls, 1)
	inv := runner.calls[0]
	assert.Equal(t, req.HostExecutable, inv.Executable)
	assert.Equal(t, workDir, inv.WorkDir)
	assert.Equal(t, "/build/plugins", inv.PluginBuildDir)
	assert.Equal(t, "convert", inv.Action)
	assert.Equal(t, []string{
		"--batch",
		"--file=" + filepath.Join(workDir, "alt.ini"),
		"--action=convert",
		"-PHOST/plugins=/build/plugins",
		"--quiet",
	}, inv.Args())
}

func TestHarnessRun_HostFailureSkipsVerification(t *testing.T) {
	fsys := newFixture(t)
	runner := &fakeRunner{
		runFunc: func(ctx context.Context, inv host.Invocation) (*host.Outcome, error) {
			// Outputs are correct but the exit code still fails the run
			_ = afero.WriteFile(fsys, filepath.Join(inv.WorkDir, "expected.txt"), []byte("line 1\nline 2\n"), 0644)
			_ = afero.WriteFile(fsys, filepath.Join(inv.WorkDir, "image.bin"), []byte("\x00\x01\x02"), 0644)
			return &host.Outcome{ExitCode: 2, Stdout: "out", Stderr: "boom"}, nil
		},
	}
	log := &mockLogger{}

	result, err := NewHarness(fsys, runner, log).Run(context.Background(), newRequest())

	require.Error(t, err)
	assert.False(t, result.Passed())
	assert.Equal(t, models.PhaseHost, result.FailedPhase)
	assert.Equal(t, models.KindExecution, result.Kind())
	assert.Empty(t, result.Files)

	var hostErr *models.HostError
	require.ErrorAs(t, err, &hostErr)
	assert.Equal(t, 2, hostErr.ExitCode)
	assert.Equal(t, "out", hostErr.Stdout)
	assert.Equal(t, "boom", hostErr.Stderr)

	assert.Equal(t, []models.Phase{models.PhaseHost}, log.phaseFailed)
	assert.Len(t, log.hostOutputs, 1)

	_, ran := result.PhaseDuration(models.PhaseHost)
	assert.True(t, ran)
	_, ran = result.PhaseDuration(models.PhaseVerify)
	assert.False(t, ran, "verification never started")
}

func TestHarnessRun_LaunchFailure(t *testing.T) {
	fsys := newFixture(t)
	launchErr := fmt.Errorf("failed to run host: %w", &fs.PathError{Op: "fork/exec", Path: "/opt/host/bin/host", Err: fs.ErrNotExist})
	runner := &fakeRunner{
		runFunc: func(ctx context.Context, inv host.Invocation) (*host.Outcome, error) {
			return nil, launchErr
		},
	}

	result, err := NewHarness(fsys, runner, nil).Run(context.Background(), newRequest())

	require.ErrorIs(t, err, launchErr)
	assert.Nil(t, result.Outcome)
	assert.Equal(t, models.PhaseHost, result.FailedPhase)
	assert.Equal(t, models.KindOS, result.Kind())
}

func TestHarnessRun_VerificationFailure(t *testing.T) {
	fsys := newFixture(t)
	runner := producingRunner(fsys, map[string]string{
		"expected.txt": "line 1\nline two\n",
		"image.bin":    "\x00\x01\x02",
	})

	result, err := NewHarness(fsys, runner, nil).Run(context.Background(), newRequest())

	require.Error(t, err)
	assert.Equal(t, models.PhaseVerify, result.FailedPhase)
	assert.Equal(t, models.KindExecution, result.Kind())
	assert.True(t, models.IsMismatchError(err))
	assert.Equal(t, []string{"expected.txt"}, result.FailedFiles())
}

func TestHarnessRun_KeepGoing(t *testing.T) {
	fsys := newFixture(t)
	runner := producingRunner(fsys, map[string]string{
		"expected.txt": "wrong\n",
	})

	h := NewHarness(fsys, runner, nil)
	h.Verifier().KeepGoing = true
	result, err := h.Run(context.Background(), newRequest())

	require.Error(t, err)
	assert.Equal(t, []string{"expected.txt", "image.bin"}, result.FailedFiles())
	assert.True(t, models.IsMismatchError(err))
	assert.True(t, models.IsMissingFileError(err))
}

func TestHarnessRun_InvalidPattern(t *testing.T) {
	fsys := newFixture(t)
	runner := &fakeRunner{}

	req := newRequest()
	req.TextPatterns = []string{""}

	result, err := NewHarness(fsys, runner, nil).Run(context.Background(), req)

	require.Error(t, err)
	assert.Equal(t, models.PhaseClassify, result.FailedPhase)
	assert.Empty(t, runner.calls)
}

func TestHarnessRun_MissingFixtureDir(t *testing.T) {
	fsys := afero.NewMemMapFs()
	runner := &fakeRunner{}

	result, err := NewHarness(fsys, runner, nil).Run(context.Background(), newRequest())

	require.Error(t, err)
	assert.Equal(t, models.PhaseClassify, result.FailedPhase)
	assert.Equal(t, models.KindOS, result.Kind())
	assert.Empty(t, runner.calls)

	exists, _ := afero.DirExists(fsys, workDir)
	assert.False(t, exists, "work dir must not be created when classification fails")
}

func TestHarnessRun_DryRun(t *testing.T) {
	fsys := newFixture(t)
	runner := &fakeRunner{}

	h := NewHarness(fsys, runner, nil)
	h.DryRun = true
	result, err := h.Run(context.Background(), newRequest())

	require.NoError(t, err)
	assert.Equal(t, "DRY-RUN", result.Verdict())
	assert.Equal(t, []string{"configuration.ini", "input.dat"}, result.Staged)
	assert.Empty(t, runner.calls)
	assert.Len(t, result.Timings, 1)
	_, ran := result.PhaseDuration(models.PhaseClassify)
	assert.True(t, ran)
	_, ran = result.PhaseDuration(models.PhaseStage)
	assert.False(t, ran)

	exists, _ := afero.DirExists(fsys, workDir)
	assert.False(t, exists)
}

func TestHarnessRun_Lock(t *testing.T) {
	fsys := newFixture(t)
	runner := &fakeRunner{}
	locker := &fakeLocker{}

	h := NewHarness(fsys, runner, nil)
	h.Locker = locker
	_, _ = h.Run(context.Background(), newRequest())

	assert.Equal(t, []string{workDir}, locker.acquired)
	assert.Equal(t, 1, locker.released)
}

func TestHarnessRun_LockHeld(t *testing.T) {
	fsys := newFixture(t)
	runner := &fakeRunner{}
	lockErr := errors.New("locked")

	h := NewHarness(fsys, runner, nil)
	h.Locker = &fakeLocker{err: lockErr}
	result, err := h.Run(context.Background(), newRequest())

	require.ErrorIs(t, err, lockErr)
	assert.Equal(t, models.PhaseStage, result.FailedPhase)
	assert.Empty(t, runner.calls)
}

func TestHarnessRun_OverlapRejectedBeforeLocking(t *testing.T) {
	fsys := newFixture(t)
	runner := &fakeRunner{}
	locker := &fakeLocker{}

	req := newRequest()
	req.WorkDir = filepath.Join(fixtureDir, "out")

	h := NewHarness(fsys, runner, nil)
	h.Locker = locker
	result, err := h.Run(context.Background(), req)

	require.ErrorIs(t, err, workspace.ErrUnsafeWorkDir)
	assert.Equal(t, models.PhaseStage, result.FailedPhase)
	assert.Empty(t, locker.acquired)
	assert.Empty(t, runner.calls)
}

func TestHarnessRun_CancelledContext(t *testing.T) {
	fsys := newFixture(t)
	runner := &fakeRunner{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := NewHarness(fsys, runner, nil).Run(ctx, newRequest())

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.PhaseClassify, result.FailedPhase)
	assert.Empty(t, runner.calls)
}

func TestHarnessRun_FixtureUntouched(t *testing.T) {
	fsys := newFixture(t)
	runner := producingRunner(fsys, map[string]string{"expected.txt": "other\n"})

	before := snapshot(t, fsys, fixtureDir)
	_, _ = NewHarness(fsys, runner, nil).Run(context.Background(), newRequest())

	assert.Equal(t, before, snapshot(t, fsys, fixtureDir))
}

func TestNewHarness_NilRunnerPanics(t *testing.T) {
	assert.Panics(t, func() { NewHarness(afero.NewMemMapFs(), nil, nil) })
}

func snapshot(t *testing.T, fsys afero.Fs, dir string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := afero.Walk(fsys, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := afero.ReadFile(fsys, path)
		out[path] = string(data)
		return err
	})
	require.NoError(t, err)
	return out
}
