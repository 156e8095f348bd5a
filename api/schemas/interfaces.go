// File: api/schemas/interfaces.go
// Description: Contracts for the collaborators the step-execution core
// depends on. Concrete implementations live under internal/; the core only
// ever sees these interfaces, which keeps the loop deterministic to test.

package schemas

import "context"

// Planner turns a natural-language intent into an ordered, immutable plan.
type Planner interface {
	ProducePlan(ctx context.Context, intent string) (*Plan, error)
}

// VLM proposes exactly one action for the current step attempt, given a fresh
// screen capture, the step description, the executed-action history for the
// step, and the step's locked values.
type VLM interface {
	ProposeAction(ctx context.Context, screen ScreenState, step Step, history []ActionProposal) (ActionProposal, error)
}

// Browser is the capability surface the executor drives. It is the only
// component allowed to touch the live browser session.
type Browser interface {
	// CaptureScreen returns a fresh screenshot plus the current viewport
	// dimensions. Implementations must not cache captures.
	CaptureScreen(ctx context.Context) (ScreenState, error)
	// Execute dispatches one validated, non-terminal proposal.
	Execute(ctx context.Context, proposal ActionProposal) error
}

// TraceSink is the append-only attempt log. Append must be durable before it
// returns; the executor will not continue an attempt loop past a failed
// write.
type TraceSink interface {
	Append(ctx context.Context, rec AttemptRecord) error
	// ByStep returns every record for one step of a run, in append order.
	ByStep(ctx context.Context, runID string, stepIndex int) ([]AttemptRecord, error)
	// ByAttempt returns the single record for one attempt of one step.
	ByAttempt(ctx context.Context, runID string, stepIndex, attempt int) (*AttemptRecord, error)
}
