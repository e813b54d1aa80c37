package provision

import "fmt"

// StepError is a fatal provisioning failure. It names the step and the
// entity being provisioned so the operator knows where the run stopped.
type StepError struct {
	Step    Step
	Subject string
	Err     error
}

func (e *StepError) Error() string {
	if e.Subject == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Step, e.Subject, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
