// File: internal/executor/executor.go
// Description: The per-step control loop. One step is driven through an
// explicit state machine that captures the screen, requests a proposal,
// validates it, executes it, and decides continue/retry/fail/done -- with a
// bounded retry budget and a durable trace write before every continuation.

package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/guardrails"
)

// State enumerates the executor's states. Keeping the loop as an enumerated
// transition table rather than nested branching is what makes the
// retry/termination logic auditable in isolation.
type State string

const (
	StateAwaitingProposal     State = "awaiting_proposal"
	StateValidating           State = "validating"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateExecuting            State = "executing"
	StateRetrying             State = "retrying"
	StateStepDone             State = "step_done"
	StateStepFailed           State = "step_failed"
)

// Config bounds the step loop.
type Config struct {
	// MaxRetries is the attempt budget per step; the default matches the
	// planner contract of three attempts.
	MaxRetries int
	// CallTimeout bounds each blocking collaborator call (screen capture,
	// model proposal, browser dispatch). A timeout is an ordinary failure and
	// consumes a retry.
	CallTimeout time.Duration
}

// DefaultConfig returns the stock budget: three attempts, 30s per call.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, CallTimeout: 30 * time.Second}
}

// ConfirmationPolicy gates irreversible actions before dispatch. Returning
// false vetoes the action; the veto consumes a retry like a rejection.
type ConfirmationPolicy interface {
	Confirm(ctx context.Context, step schemas.Step, proposal schemas.ActionProposal) (bool, error)
}

// AutoConfirm approves everything. It is the default policy, so behavior
// without an interactive gate is unchanged, but the confirmation state and
// its transition still exist and are traced.
type AutoConfirm struct{}

func (AutoConfirm) Confirm(context.Context, schemas.Step, schemas.ActionProposal) (bool, error) {
	return true, nil
}

// Executor owns the browser session for the duration of a run; no other
// component may issue browser commands.
type Executor struct {
	vlm     schemas.VLM
	browser schemas.Browser
	sink    schemas.TraceSink
	confirm ConfirmationPolicy
	cfg     Config
	logger  *zap.Logger

	// onTransition observes every state change; used by tests to assert the
	// exact transition sequence.
	onTransition func(from, to State)
}

// Option customizes an Executor.
type Option func(*Executor)

// WithConfirmationPolicy replaces the default auto-confirm gate.
func WithConfirmationPolicy(p ConfirmationPolicy) Option {
	return func(e *Executor) { e.confirm = p }
}

// WithTransitionObserver registers a callback invoked on every state change.
func WithTransitionObserver(fn func(from, to State)) Option {
	return func(e *Executor) { e.onTransition = fn }
}

// New creates a step executor.
func New(vlm schemas.VLM, browser schemas.Browser, sink schemas.TraceSink, cfg Config, logger *zap.Logger, opts ...Option) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	e := &Executor{
		vlm:     vlm,
		browser: browser,
		sink:    sink,
		confirm: AutoConfirm{},
		cfg:     cfg,
		logger:  logger.Named("executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// stepContext is the per-step mutable state. Modeling it as an explicit
// struct rather than process-wide state lets independent runs (and tests)
// execute without interference.
type stepContext struct {
	runID     string
	stepIndex int
	step      schemas.Step
	attempt   int
	state     State
	// history holds exactly the proposals that reached executed status, in
	// execution order. Rejected and errored actions never enter it.
	history []schemas.ActionProposal
}

func (e *Executor) transition(sc *stepContext, to State) {
	from := sc.state
	sc.state = to
	if e.onTransition != nil {
		e.onTransition(from, to)
	}
	e.logger.Debug("State transition",
		zap.Int("step", sc.stepIndex),
		zap.Int("attempt", sc.attempt),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}

// ExecuteStep drives one step to a terminal outcome. Every attempt is
// recorded through the trace sink before the loop continues, so the trace is
// a complete ordered account even if the process dies mid-step.
func (e *Executor) ExecuteStep(ctx context.Context, runID string, stepIndex int, step schemas.Step) schemas.StepOutcome {
	sc := &stepContext{
		runID:     runID,
		stepIndex: stepIndex,
		step:      step,
		state:     StateAwaitingProposal,
	}
	e.logger.Info("Executing step",
		zap.Int("step", stepIndex),
		zap.String("description", step.Description),
		zap.Int("locked_values", len(step.LockedValues)),
	)

	for {
		if err := ctx.Err(); err != nil {
			e.transition(sc, StateStepFailed)
			return schemas.StepOutcome{Status: schemas.StepFailed, Reason: schemas.ReasonRunCanceled}
		}

		sc.attempt++
		if sc.attempt > e.cfg.MaxRetries {
			e.transition(sc, StateStepFailed)
			e.logger.Warn("Step retry budget exhausted",
				zap.Int("step", stepIndex), zap.Int("max_retries", e.cfg.MaxRetries))
			return schemas.StepOutcome{Status: schemas.StepFailed, Reason: schemas.ReasonMaxRetries}
		}
		if sc.state != StateAwaitingProposal {
			e.transition(sc, StateAwaitingProposal)
		}

		outcome, done := e.runAttempt(ctx, sc)
		if done {
			return outcome
		}
	}
}

// runAttempt performs one propose -> validate -> execute iteration. It
// returns done=true with a terminal outcome, or done=false to loop for
// another attempt.
func (e *Executor) runAttempt(ctx context.Context, sc *stepContext) (schemas.StepOutcome, bool) {
	// A fresh capture every attempt; stale screens make stale decisions.
	screen, err := e.captureScreen(ctx)
	if err != nil {
		execErr := &schemas.ExecutionError{Detail: "capture_screen", Err: err}
		if out, fatal := e.record(ctx, sc, attemptFailure(sc, "", nil, schemas.ValidationSkipped, execErr.Error())); fatal {
			return out, true
		}
		e.transition(sc, StateRetrying)
		return schemas.StepOutcome{}, false
	}

	proposal, err := e.proposeAction(ctx, sc, screen)
	if err != nil {
		// Malformed or multi-variant responses are validation failures, not a
		// silent pick; transport errors land here too and cost the same.
		if out, fatal := e.record(ctx, sc, attemptFailure(sc, screen.Ref, nil, schemas.ValidationSkipped, err.Error())); fatal {
			return out, true
		}
		e.transition(sc, StateRetrying)
		return schemas.StepOutcome{}, false
	}

	e.transition(sc, StateValidating)
	if err := guardrails.Check(proposal, screen, sc.step.LockedValues); err != nil {
		e.logger.Warn("Proposal rejected",
			zap.Int("step", sc.stepIndex),
			zap.Int("attempt", sc.attempt),
			zap.String("proposal", proposal.String()),
			zap.Error(err),
		)
		if out, fatal := e.record(ctx, sc, attemptFailure(sc, screen.Ref, &proposal, schemas.ValidationRejected, err.Error())); fatal {
			return out, true
		}
		e.transition(sc, StateRetrying)
		return schemas.StepOutcome{}, false
	}

	switch proposal.Kind {
	case schemas.ActionDone:
		// Only an explicit done() ends a step successfully; execution success
		// alone never does.
		if out, fatal := e.record(ctx, sc, attemptTerminal(sc, screen.Ref, &proposal)); fatal {
			return out, true
		}
		e.transition(sc, StateStepDone)
		return schemas.StepOutcome{Status: schemas.StepCompleted}, true

	case schemas.ActionFail:
		if out, fatal := e.record(ctx, sc, attemptTerminal(sc, screen.Ref, &proposal)); fatal {
			return out, true
		}
		e.transition(sc, StateStepFailed)
		return schemas.StepOutcome{Status: schemas.StepFailed, Reason: proposal.Fail.Reason}, true
	}

	if e.needsConfirmation(sc.step, proposal) {
		e.transition(sc, StateAwaitingConfirmation)
		ok, err := e.confirm.Confirm(ctx, sc.step, proposal)
		if err != nil || !ok {
			reason := "confirmation_denied"
			if err != nil {
				reason = "confirmation_failed: " + err.Error()
			}
			if out, fatal := e.record(ctx, sc, attemptFailure(sc, screen.Ref, &proposal, schemas.ValidationRejected, reason)); fatal {
				return out, true
			}
			e.transition(sc, StateRetrying)
			return schemas.StepOutcome{}, false
		}
	}

	e.transition(sc, StateExecuting)
	if err := e.execute(ctx, proposal); err != nil {
		execErr := &schemas.ExecutionError{Detail: proposal.String(), Err: err}
		e.logger.Warn("Browser dispatch failed",
			zap.Int("step", sc.stepIndex),
			zap.Int("attempt", sc.attempt),
			zap.Error(execErr),
		)
		rec := attemptFailure(sc, screen.Ref, &proposal, schemas.ValidationAccepted, "")
		rec.Execution = schemas.ExecFailed
		rec.ExecDetail = execErr.Error()
		if out, fatal := e.record(ctx, sc, rec); fatal {
			return out, true
		}
		e.transition(sc, StateRetrying)
		return schemas.StepOutcome{}, false
	}

	sc.history = append(sc.history, proposal)
	rec := schemas.AttemptRecord{
		ID:         uuid.NewString(),
		RunID:      sc.runID,
		StepIndex:  sc.stepIndex,
		Attempt:    sc.attempt,
		ScreenRef:  screen.Ref,
		Proposal:   &proposal,
		Validation: schemas.ValidationAccepted,
		Execution:  schemas.ExecExecuted,
		Timestamp:  time.Now().UTC(),
	}
	if out, fatal := e.record(ctx, sc, rec); fatal {
		return out, true
	}

	// Loop back so the model can assess whether the step is now complete.
	e.transition(sc, StateRetrying)
	return schemas.StepOutcome{}, false
}

func (e *Executor) captureScreen(ctx context.Context) (schemas.ScreenState, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.browser.CaptureScreen(callCtx)
}

func (e *Executor) proposeAction(ctx context.Context, sc *stepContext, screen schemas.ScreenState) (schemas.ActionProposal, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.vlm.ProposeAction(callCtx, screen, sc.step, sc.history)
}

func (e *Executor) execute(ctx context.Context, proposal schemas.ActionProposal) error {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	return e.browser.Execute(callCtx, proposal)
}

// needsConfirmation routes a proposal through the confirmation gate when it
// writes a locked field or clicks within a step the planner marked
// irreversible.
func (e *Executor) needsConfirmation(step schemas.Step, p schemas.ActionProposal) bool {
	switch p.Kind {
	case schemas.ActionTypeText:
		for field := range step.LockedValues {
			if field == p.TypeText.Field {
				return true
			}
		}
	case schemas.ActionClick:
		return step.Irreversible
	}
	return false
}

// record appends one attempt record and enforces write-then-continue
// ordering: a sink failure terminates the step, because continuing past an
// unrecorded browser action would leave the audit trail incomplete.
func (e *Executor) record(ctx context.Context, sc *stepContext, rec schemas.AttemptRecord) (schemas.StepOutcome, bool) {
	if err := e.sink.Append(ctx, rec); err != nil {
		e.logger.Error("Trace append failed, terminating step",
			zap.Int("step", sc.stepIndex),
			zap.Int("attempt", sc.attempt),
			zap.Error(err),
		)
		e.transition(sc, StateStepFailed)
		return schemas.StepOutcome{Status: schemas.StepFailed, Reason: "trace_append_failed: " + err.Error()}, true
	}
	return schemas.StepOutcome{}, false
}

func attemptFailure(sc *stepContext, screenRef string, proposal *schemas.ActionProposal, v schemas.ValidationStatus, reason string) schemas.AttemptRecord {
	return schemas.AttemptRecord{
		ID:           uuid.NewString(),
		RunID:        sc.runID,
		StepIndex:    sc.stepIndex,
		Attempt:      sc.attempt,
		ScreenRef:    screenRef,
		Proposal:     proposal,
		Validation:   v,
		RejectReason: reason,
		Execution:    schemas.ExecNone,
		Timestamp:    time.Now().UTC(),
	}
}

func attemptTerminal(sc *stepContext, screenRef string, proposal *schemas.ActionProposal) schemas.AttemptRecord {
	return schemas.AttemptRecord{
		ID:         uuid.NewString(),
		RunID:      sc.runID,
		StepIndex:  sc.stepIndex,
		Attempt:    sc.attempt,
		ScreenRef:  screenRef,
		Proposal:   proposal,
		Validation: schemas.ValidationAccepted,
		Execution:  schemas.ExecNone,
		Timestamp:  time.Now().UTC(),
	}
}
