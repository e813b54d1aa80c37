package report

import (
	"log/slog"
	"time"

	"github.com/docpilot/docpilot/internal/provision"
)

// Log writes progress as structured log records.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a reporter that logs to logger.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) StepStarted(step provision.Step, subject string) {
	l.logger.Debug("step started", "step", string(step), "subject", subject)
}

func (l *Log) Created(step provision.Step, subject string) {
	l.logger.Info("created", "step", string(step), "subject", subject)
}

func (l *Log) Existing(step provision.Step, subject string) {
	l.logger.Debug("already exists", "step", string(step), "subject", subject)
}

func (l *Log) Warning(subject, message string) {
	l.logger.Warn(message, "subject", subject)
}

func (l *Log) Waiting(pending []string, elapsed time.Duration) {
	l.logger.Debug("waiting for attributes", "pending", len(pending), "elapsed", elapsed)
}

func (l *Log) Failed(err *provision.StepError) {
	l.logger.Error("step failed", "step", string(err.Step), "subject", err.Subject, "error", err.Err)
}

func (l *Log) Finished(res *provision.Result) {
	l.logger.Info("run finished",
		"database", res.DatabaseID,
		"created", res.CreatedCount(),
		"warnings", len(res.Warnings),
		"duration", res.Duration)
}

// Multi fans every event out to several reporters in order.
type Multi []provision.Reporter

func (m Multi) StepStarted(step provision.Step, subject string) {
	for _, r := range m {
		r.StepStarted(step, subject)
	}
}

func (m Multi) Created(step provision.Step, subject string) {
	for _, r := range m {
		r.Created(step, subject)
	}
}

func (m Multi) Existing(step provision.Step, subject string) {
	for _, r := range m {
		r.Existing(step, subject)
	}
}

func (m Multi) Warning(subject, message string) {
	for _, r := range m {
		r.Warning(subject, message)
	}
}

func (m Multi) Waiting(pending []string, elapsed time.Duration) {
	for _, r := range m {
		r.Waiting(pending, elapsed)
	}
}

func (m Multi) Failed(err *provision.StepError) {
	for _, r := range m {
		r.Failed(err)
	}
}

func (m Multi) Finished(res *provision.Result) {
	for _, r := range m {
		r.Finished(res)
	}
}
