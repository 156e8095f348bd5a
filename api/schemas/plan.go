// File: api/schemas/plan.go

package schemas

// Step is one unit of work in a plan: a natural-language description plus the
// values the vision model may reference but never alter.
type Step struct {
	Description string `json:"description"`
	// LockedValues maps field names to immutable plan-time values, e.g.
	// {"amount": "500"}. Enforcement happens in the guardrail validator.
	LockedValues map[string]string `json:"locked_values,omitempty"`
	// Irreversible marks steps whose submit action should pass through the
	// confirmation gate before dispatch.
	Irreversible bool `json:"irreversible,omitempty"`
}

// Plan is the ordered list of steps derived from a user intent. It is
// immutable once produced by the planner.
type Plan struct {
	Intent string `json:"intent"`
	Steps  []Step `json:"steps"`
}

// StepStatus is the terminal status of a single step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepOutcome is the terminal result of executing one step.
type StepOutcome struct {
	Status StepStatus `json:"status"`
	// Reason is set only for failed steps.
	Reason string `json:"reason,omitempty"`
}

// RunStatus is the overall status of a run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunAborted   RunStatus = "aborted"
)

// RunResult aggregates per-step outcomes. Steps holds an outcome for every
// step that started; on abort, AbortedAtStep is the zero-based index of the
// step that failed.
type RunResult struct {
	RunID         string        `json:"run_id"`
	Status        RunStatus     `json:"status"`
	AbortedAtStep int           `json:"aborted_at_step,omitempty"`
	AbortReason   string        `json:"abort_reason,omitempty"`
	Steps         []StepOutcome `json:"steps"`
}
