package logger

import (
	"time"

	"github.com/harrison/plugintest/internal/executor"
	"github.com/harrison/plugintest/internal/host"
	"github.com/harrison/plugintest/internal/models"
)

// MultiLogger implements executor.Logger by delegating to multiple loggers.
type MultiLogger struct {
	loggers []executor.Logger
}

// NewMultiLogger creates a MultiLogger. Nil loggers are skipped.
func NewMultiLogger(loggers ...executor.Logger) *MultiLogger {
	ml := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			ml.loggers = append(ml.loggers, l)
		}
	}
	return ml
}

// LogRunStart forwards to all loggers
func (ml *MultiLogger) LogRunStart(runID string, req models.Request) {
	for _, l := range ml.loggers {
		l.LogRunStart(runID, req)
	}
}

// LogPhaseStart forwards to all loggers
func (ml *MultiLogger) LogPhaseStart(phase models.Phase) {
	for _, l := range ml.loggers {
		l.LogPhaseStart(phase)
	}
}

// LogPhaseComplete forwards to all loggers
func (ml *MultiLogger) LogPhaseComplete(phase models.Phase, duration time.Duration) {
	for _, l := range ml.loggers {
		l.LogPhaseComplete(phase, duration)
	}
}

// LogPhaseFailed forwards to all loggers
func (ml *MultiLogger) LogPhaseFailed(phase models.Phase, err error) {
	for _, l := range ml.loggers {
		l.LogPhaseFailed(phase, err)
	}
}

// LogHostOutput forwards to all loggers
func (ml *MultiLogger) LogHostOutput(runID string, outcome *host.Outcome) {
	for _, l := range ml.loggers {
		l.LogHostOutput(runID, outcome)
	}
}

// LogDebug forwards to all loggers
func (ml *MultiLogger) LogDebug(format string, args ...interface{}) {
	for _, l := range ml.loggers {
		l.LogDebug(format, args...)
	}
}

// LogResult forwards to all loggers
func (ml *MultiLogger) LogResult(result *executor.RunResult) {
	for _, l := range ml.loggers {
		l.LogResult(result)
	}
}
