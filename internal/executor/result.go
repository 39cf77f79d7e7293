package executor

import (
	"time"

	"github.com/harrison/plugintest/internal/host"
	"github.com/harrison/plugintest/internal/models"
	"github.com/harrison/plugintest/internal/verify"
)

// RunResult is the verdict of a single harness run together with everything
// collected on the way to it.
type RunResult struct {
	ID      string
	Request models.Request

	TextFiles   []string // Fixture files verified as text
	BinaryFiles []string // Fixture files verified as binary
	Staged      []string // Fixture files copied into the working directory

	Outcome *host.Outcome       // nil when the host never ran
	Files   []verify.FileResult // Files checked before verification stopped

	// Err is nil on a pass. FailedPhase is only meaningful when Err is set.
	Err         error
	FailedPhase models.Phase

	DryRun    bool
	StartedAt time.Time
	Duration  time.Duration
	Timings   []models.PhaseTiming
}

// Passed reports whether every phase succeeded.
func (r *RunResult) Passed() bool {
	return r.Err == nil
}

// Kind returns the failure category, KindNone on a pass.
func (r *RunResult) Kind() models.ErrorKind {
	return models.KindOf(r.Err)
}

// Verdict returns "PASS", "FAIL" or "DRY-RUN".
func (r *RunResult) Verdict() string {
	switch {
	case r.Err != nil:
		return "FAIL"
	case r.DryRun:
		return "DRY-RUN"
	default:
		return "PASS"
	}
}

// FailedFiles returns the names of the files that did not verify.
func (r *RunResult) FailedFiles() []string {
	var names []string
	for _, f := range r.Files {
		if !f.Passed() {
			names = append(names, f.Name)
		}
	}
	return names
}

// PhaseDuration returns how long the given phase took and whether it ran.
func (r *RunResult) PhaseDuration(phase models.Phase) (time.Duration, bool) {
	for _, t := range r.Timings {
		if t.Phase == phase {
			return t.Duration, true
		}
	}
	return 0, false
}
