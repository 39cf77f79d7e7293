// Package executor runs the four harness phases in order and turns their
// outcome into a RunResult.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/harrison/plugintest/internal/host"
	"github.com/harrison/plugintest/internal/models"
	"github.com/harrison/plugintest/internal/pattern"
	"github.com/harrison/plugintest/internal/verify"
	"github.com/harrison/plugintest/internal/workspace"
	"github.com/spf13/afero"
)

// Logger defines the interface for logging harness progress and results.
type Logger interface {
	LogRunStart(runID string, req models.Request)
	LogPhaseStart(phase models.Phase)
	LogPhaseComplete(phase models.Phase, duration time.Duration)
	LogPhaseFailed(phase models.Phase, err error)
	LogHostOutput(runID string, outcome *host.Outcome)
	LogDebug(format string, args ...interface{})
	LogResult(result *RunResult)
}

// Locker guards a working directory against concurrent runs.
type Locker interface {
	Acquire(workDir string) (release func() error, err error)
}

// Harness wires the classifier, stager, host runner and verifier.
type Harness struct {
	fs       afero.Fs
	runner   host.Runner
	stager   *workspace.Stager
	verifier *verify.Verifier
	logger   Logger

	// Locker is optional. When set, the working directory lock is held for
	// the whole run.
	Locker Locker
	// PluginPathOption and ExtraArgs are passed to host.Invocation.
	PluginPathOption string
	ExtraArgs        []string
	// DryRun stops after classification.
	DryRun bool
}

// NewHarness creates a new Harness instance.
// The logger parameter is optional and can be nil.
func NewHarness(fsys afero.Fs, runner host.Runner, logger Logger) *Harness {
	if runner == nil {
		panic("host runner cannot be nil")
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	return &Harness{
		fs:       fsys,
		runner:   runner,
		stager:   workspace.NewStager(fsys),
		verifier: verify.New(fsys),
		logger:   logger,
	}
}

// Verifier exposes the verifier so callers can tune diff output and
// keep-going behaviour.
func (h *Harness) Verifier() *verify.Verifier {
	return h.verifier
}

// Run executes one test: classify the fixture files, stage the working
// directory, run the host and verify its output. Each phase runs only if the
// previous one succeeded.
//
// The returned RunResult is never nil. The error is the one stored in
// RunResult.Err.
func (h *Harness) Run(ctx context.Context, req models.Request) (*RunResult, error) {
	result := &RunResult{
		ID:        uuid.NewString(),
		Request:   req,
		DryRun:    h.DryRun,
		StartedAt: time.Now(),
	}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		if h.logger != nil {
			h.logger.LogResult(result)
		}
	}()

	if h.logger != nil {
		h.logger.LogRunStart(result.ID, req)
	}

	var cls *pattern.Classification
	err := h.phase(ctx, result, models.PhaseClassify, func() error {
		var err error
		cls, err = pattern.Classify(h.fs, req.FixtureDir, req.PatternGroups())
		if err != nil {
			return err
		}
		result.TextFiles = cls.Group(0)
		result.BinaryFiles = cls.Group(1)
		h.debugf("classified %d text, %d binary, %d other files",
			len(result.TextFiles), len(result.BinaryFiles), len(cls.Unmatched))
		return nil
	})
	if err != nil {
		return result, err
	}

	if h.DryRun {
		result.Staged = cls.Unmatched
		return result, nil
	}

	var release func() error
	defer func() {
		if release == nil {
			return
		}
		if err := release(); err != nil {
			h.debugf("failed to release work directory lock: %v", err)
		}
	}()

	err = h.phase(ctx, result, models.PhaseStage, func() error {
		// The lock file sits next to workDir, which must not be in the fixture
		if err := workspace.CheckOverlap(req.FixtureDir, req.WorkDir); err != nil {
			return err
		}
		if h.Locker != nil {
			var err error
			if release, err = h.Locker.Acquire(req.WorkDir); err != nil {
				return err
			}
		}
		staged, err := h.stager.Stage(req.FixtureDir, req.WorkDir, cls.Union())
		if err != nil {
			return err
		}
		result.Staged = staged
		h.debugf("staged %d files into %s", len(staged), req.WorkDir)
		return nil
	})
	if err != nil {
		return result, err
	}

	err = h.phase(ctx, result, models.PhaseHost, func() error {
		inv := host.Invocation{
			Executable:       req.HostExecutable,
			WorkDir:          req.WorkDir,
			PluginBuildDir:   req.PluginBuildDir,
			ConfigFile:       req.ConfigurationFile,
			Action:           req.Action,
			PluginPathOption: h.PluginPathOption,
			ExtraArgs:        h.ExtraArgs,
		}
		h.debugf("running %s", inv.CommandLine())

		outcome, err := h.runner.Run(ctx, inv)
		if outcome != nil {
			result.Outcome = outcome
			if h.logger != nil {
				h.logger.LogHostOutput(result.ID, outcome)
			}
		}
		if err != nil {
			return err
		}
		return outcome.Err()
	})
	if err != nil {
		return result, err
	}

	err = h.phase(ctx, result, models.PhaseVerify, func() error {
		files, err := h.verifier.Verify(req.FixtureDir, req.WorkDir, result.TextFiles, result.BinaryFiles)
		result.Files = files
		return err
	})

	return result, err
}

// phase runs fn as the given pipeline phase, recording its timing and, on
// failure, the error and phase on result.
func (h *Harness) phase(ctx context.Context, result *RunResult, p models.Phase, fn func() error) error {
	if h.logger != nil {
		h.logger.LogPhaseStart(p)
	}

	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = fn()
	}
	duration := time.Since(start)
	result.Timings = append(result.Timings, models.PhaseTiming{Phase: p, Duration: duration})

	if err != nil {
		result.Err = err
		result.FailedPhase = p
		if h.logger != nil {
			h.logger.LogPhaseFailed(p, err)
		}
		return err
	}

	if h.logger != nil {
		h.logger.LogPhaseComplete(p, duration)
	}
	return nil
}

func (h *Harness) debugf(format string, args ...interface{}) {
	if h.logger != nil {
		h.logger.LogDebug(format, args...)
	}
}
