package provision

import "time"

// Step names a phase of a provisioning run.
type Step string

const (
	StepDatabase      Step = "ensure database"
	StepCollection    Step = "ensure collection"
	StepAttributes    Step = "ensure attributes"
	StepReadiness     Step = "wait for attributes"
	StepRelationships Step = "ensure relationships"
)

// Reporter receives the progress of a run. Every ensurer reports through it;
// implementations decide how (console, log, nothing).
type Reporter interface {
	StepStarted(step Step, subject string)
	Created(step Step, subject string)
	Existing(step Step, subject string)
	Warning(subject, message string)
	Waiting(pending []string, elapsed time.Duration)
	Failed(err *StepError)
	Finished(res *Result)
}

// NopReporter discards everything.
type NopReporter struct{}

func (NopReporter) StepStarted(Step, string)        {}
func (NopReporter) Created(Step, string)            {}
func (NopReporter) Existing(Step, string)           {}
func (NopReporter) Warning(string, string)          {}
func (NopReporter) Waiting([]string, time.Duration) {}
func (NopReporter) Failed(*StepError)               {}
func (NopReporter) Finished(*Result)                {}
