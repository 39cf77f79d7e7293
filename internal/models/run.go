package models

import (
	"time"
)

// DefaultConfigurationFile is the host configuration file name used when the
// caller does not supply one.
const DefaultConfigurationFile = "configuration.ini"

// Phase identifies a stage of the harness pipeline.
type Phase int

const (
	// PhaseClassify partitions fixture files into verification groups.
	PhaseClassify Phase = iota
	// PhaseStage resets the working directory and copies fixture files.
	PhaseStage
	// PhaseHost runs the host application.
	PhaseHost
	// PhaseVerify compares generated files with the fixture originals.
	PhaseVerify
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	switch p {
	case PhaseClassify:
		return "classify"
	case PhaseStage:
		return "stage"
	case PhaseHost:
		return "host"
	case PhaseVerify:
		return "verify"
	default:
		return "unknown"
	}
}

// Request holds the already-validated inputs of a single harness run.
type Request struct {
	HostExecutable    string   // Path of the host application
	FixtureDir        string   // Read-only directory with the test's files
	PluginBuildDir    string   // Passed through to the host as the plugin path
	WorkDir           string   // Disposable directory the test runs in
	Action            string   // Passed through to the host as --action
	TextPatterns      []string // Files verified as text
	BinaryPatterns    []string // Files verified as binary
	ConfigurationFile string   // Host configuration file name inside WorkDir
}

// PatternGroups returns the ordered pattern groups. Text patterns come first
// and therefore win when a file matches both groups.
func (r Request) PatternGroups() [][]string {
	return [][]string{r.TextPatterns, r.BinaryPatterns}
}

// PhaseTiming records how long a pipeline phase took.
type PhaseTiming struct {
	Phase    Phase
	Duration time.Duration
}
