// File: api/schemas/errors.go
// Description: The error taxonomy shared by the guardrail validator, the step
// executor and the controller. Every rejection a step attempt can suffer maps
// onto exactly one of these types.

package schemas

import "fmt"

// SchemaViolationError marks a model response that does not decode into
// exactly one valid action variant.
type SchemaViolationError struct {
	Field  string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation at %s: %s", e.Field, e.Reason)
}

// LockViolationError marks an attempt to set a locked field to anything other
// than its plan-time value.
type LockViolationError struct {
	Field    string
	Locked   string
	Proposed string
}

func (e *LockViolationError) Error() string {
	return fmt.Sprintf("lock violation on field %q: locked value %q, proposed %q", e.Field, e.Locked, e.Proposed)
}

// OutOfBoundsError marks a coordinate action targeting a point outside the
// current viewport. Off-screen targets are rejected, never clamped.
type OutOfBoundsError struct {
	X, Y          int
	Width, Height int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("coordinates (%d, %d) outside viewport %dx%d", e.X, e.Y, e.Width, e.Height)
}

// ExecutionError marks a browser-side failure: element not found, navigation
// timeout, transport error. It consumes a retry like any other attempt
// failure.
type ExecutionError struct {
	Detail string
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("execution error: %s", e.Detail)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// PlanningError marks a failed intent-to-plan translation. It is fatal and
// aborts the run before any step executes.
type PlanningError struct {
	Intent string
	Err    error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed for intent %q: %v", e.Intent, e.Err)
}

func (e *PlanningError) Unwrap() error { return e.Err }

// ReasonMaxRetries is the StepOutcome reason set when a step exhausts its
// retry budget. Retry exhaustion is a failure reason, not an error kind.
const ReasonMaxRetries = "max_retries_exceeded"

// ReasonRunCanceled is the StepOutcome reason set when the run context is
// canceled between attempts.
const ReasonRunCanceled = "run_canceled"
