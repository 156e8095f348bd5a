// File: api/schemas/trace.go

package schemas

import "time"

// ScreenState is a fresh capture of the page: an opaque image reference, the
// raw PNG for the vision call, and the viewport dimensions used for bounds
// checking. It is produced before every proposal and never cached across
// attempts.
type ScreenState struct {
	// Ref is the durable reference to the stored screenshot (a file path in
	// the default sink layout). Only Ref enters the trace.
	Ref        string
	Image      []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// ValidationStatus is the guardrail verdict recorded for an attempt.
type ValidationStatus string

const (
	ValidationAccepted ValidationStatus = "accepted"
	ValidationRejected ValidationStatus = "rejected"
	// ValidationSkipped marks attempts that never produced a parseable
	// proposal (screen capture or model transport failure).
	ValidationSkipped ValidationStatus = "skipped"
)

// ExecStatus is the browser dispatch outcome recorded for an attempt.
type ExecStatus string

const (
	// ExecNone marks attempts where nothing was dispatched: rejections and
	// terminal done/fail proposals.
	ExecNone     ExecStatus = "none"
	ExecExecuted ExecStatus = "executed"
	ExecFailed   ExecStatus = "failed"
)

// AttemptRecord is the immutable audit record of one propose -> validate ->
// execute iteration. Records are owned solely by the trace recorder and are
// never mutated or deleted after being written.
type AttemptRecord struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	StepIndex int    `json:"step_index"`
	// Attempt numbering starts at 1 and resets at each new step.
	Attempt    int              `json:"attempt"`
	ScreenRef  string           `json:"screen_ref,omitempty"`
	Proposal   *ActionProposal  `json:"proposal,omitempty"`
	Validation ValidationStatus `json:"validation"`
	// RejectReason carries the guardrail or parse failure for rejected and
	// skipped attempts.
	RejectReason string     `json:"reject_reason,omitempty"`
	Execution    ExecStatus `json:"execution"`
	ExecDetail   string     `json:"exec_detail,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}
