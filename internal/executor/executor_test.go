// File: internal/executor/executor_test.go
package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/trace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedVLM replays a fixed sequence of proposals (or errors) and snapshots
// the history it was shown on every call.
type scriptedVLM struct {
	script    []proposalOrErr
	calls     int
	histories [][]schemas.ActionProposal
}

type proposalOrErr struct {
	p   schemas.ActionProposal
	err error
}

func (s *scriptedVLM) ProposeAction(_ context.Context, _ schemas.ScreenState, _ schemas.Step, history []schemas.ActionProposal) (schemas.ActionProposal, error) {
	snap := append([]schemas.ActionProposal(nil), history...)
	s.histories = append(s.histories, snap)
	if s.calls >= len(s.script) {
		return schemas.ActionProposal{}, fmt.Errorf("script exhausted after %d calls", s.calls)
	}
	entry := s.script[s.calls]
	s.calls++
	return entry.p, entry.err
}

// fakeBrowser serves a fixed viewport and records every dispatched proposal.
type fakeBrowser struct {
	width, height int
	captures      int
	captureErr    error
	execErr       error
	dispatched    []schemas.ActionProposal
}

func (b *fakeBrowser) CaptureScreen(context.Context) (schemas.ScreenState, error) {
	if b.captureErr != nil {
		return schemas.ScreenState{}, b.captureErr
	}
	b.captures++
	return schemas.ScreenState{
		Ref:        fmt.Sprintf("capture-%d.png", b.captures),
		Width:      b.width,
		Height:     b.height,
		CapturedAt: time.Now().UTC(),
	}, nil
}

func (b *fakeBrowser) Execute(_ context.Context, p schemas.ActionProposal) error {
	if b.execErr != nil {
		return b.execErr
	}
	b.dispatched = append(b.dispatched, p)
	return nil
}

// failingSink rejects every append.
type failingSink struct{}

func (failingSink) Append(context.Context, schemas.AttemptRecord) error {
	return fmt.Errorf("disk full")
}
func (failingSink) ByStep(context.Context, string, int) ([]schemas.AttemptRecord, error) {
	return nil, nil
}
func (failingSink) ByAttempt(context.Context, string, int, int) (*schemas.AttemptRecord, error) {
	return nil, trace.ErrNotFound
}

type denyAll struct{}

func (denyAll) Confirm(context.Context, schemas.Step, schemas.ActionProposal) (bool, error) {
	return false, nil
}

func typeAmount(value string) schemas.ActionProposal {
	return schemas.ActionProposal{
		Kind:     schemas.ActionTypeText,
		TypeText: &schemas.TypeTextParams{Field: "amount", Value: value},
	}
}

func clickAt(x, y int) schemas.ActionProposal {
	return schemas.ActionProposal{Kind: schemas.ActionClick, Click: &schemas.ClickParams{X: x, Y: y}}
}

var doneAction = schemas.ActionProposal{Kind: schemas.ActionDone}

func newTestExecutor(t *testing.T, vlm schemas.VLM, b schemas.Browser, sink schemas.TraceSink, opts ...Option) *Executor {
	t.Helper()
	return New(vlm, b, sink, Config{MaxRetries: 3, CallTimeout: time.Second}, zap.NewNop(), opts...)
}

func TestExecuteStep_LockedValueRetryFlow(t *testing.T) {
	// The transfer scenario: the model types the locked amount, then tries to
	// change it, then declares the step done. The mutation must be rejected,
	// must never reach the browser, and must not contaminate the history.
	step := schemas.Step{
		Description:  "Enter the transfer amount",
		LockedValues: map[string]string{"amount": "500"},
	}
	vlmMock := &scriptedVLM{script: []proposalOrErr{
		{p: typeAmount("500")},
		{p: typeAmount("1000")},
		{p: doneAction},
	}}
	browserMock := &fakeBrowser{width: 1280, height: 800}
	sink := trace.NewMemoryRecorder()
	exec := newTestExecutor(t, vlmMock, browserMock, sink)

	outcome := exec.ExecuteStep(context.Background(), "run-1", 0, step)

	require.Equal(t, schemas.StepCompleted, outcome.Status)

	t.Run("should dispatch only the accepted action", func(t *testing.T) {
		require.Len(t, browserMock.dispatched, 1)
		assert.Equal(t, "500", browserMock.dispatched[0].TypeText.Value)
	})

	t.Run("should record all three attempts in order", func(t *testing.T) {
		recs, err := sink.ByStep(context.Background(), "run-1", 0)
		require.NoError(t, err)
		require.Len(t, recs, 3)

		assert.Equal(t, schemas.ValidationAccepted, recs[0].Validation)
		assert.Equal(t, schemas.ExecExecuted, recs[0].Execution)

		assert.Equal(t, schemas.ValidationRejected, recs[1].Validation)
		assert.Equal(t, schemas.ExecNone, recs[1].Execution)
		assert.Contains(t, recs[1].RejectReason, "locked")

		assert.Equal(t, schemas.ValidationAccepted, recs[2].Validation)
		require.NotNil(t, recs[2].Proposal)
		assert.Equal(t, schemas.ActionDone, recs[2].Proposal.Kind)

		for i, rec := range recs {
			assert.Equal(t, i+1, rec.Attempt)
			assert.NotEmpty(t, rec.ID)
			assert.NotEmpty(t, rec.ScreenRef)
		}
	})

	t.Run("should show the model only executed actions as history", func(t *testing.T) {
		require.Len(t, vlmMock.histories, 3)
		assert.Empty(t, vlmMock.histories[0])
		// Attempt 2 sees the one executed action.
		require.Len(t, vlmMock.histories[1], 1)
		assert.Equal(t, "500", vlmMock.histories[1][0].TypeText.Value)
		// The rejected 1000 never entered the history for attempt 3.
		require.Len(t, vlmMock.histories[2], 1)
		assert.Equal(t, "500", vlmMock.histories[2][0].TypeText.Value)
	})
}

func TestExecuteStep_BudgetExhaustion(t *testing.T) {
	t.Run("should fail after max retries worth of execution errors", func(t *testing.T) {
		vlmMock := &scriptedVLM{script: []proposalOrErr{
			{p: clickAt(10, 10)}, {p: clickAt(10, 10)}, {p: clickAt(10, 10)},
		}}
		browserMock := &fakeBrowser{width: 800, height: 600, execErr: fmt.Errorf("element detached")}
		sink := trace.NewMemoryRecorder()
		exec := newTestExecutor(t, vlmMock, browserMock, sink)

		outcome := exec.ExecuteStep(context.Background(), "run-2", 0, schemas.Step{Description: "Click submit"})

		require.Equal(t, schemas.StepFailed, outcome.Status)
		assert.Equal(t, schemas.ReasonMaxRetries, outcome.Reason)

		recs, err := sink.ByStep(context.Background(), "run-2", 0)
		require.NoError(t, err)
		require.Len(t, recs, 3, "one record per attempt, never more than the budget")
		for _, rec := range recs {
			assert.Equal(t, schemas.ExecFailed, rec.Execution)
			assert.Contains(t, rec.ExecDetail, "element detached")
		}
	})

	t.Run("should count proposal failures against the same budget", func(t *testing.T) {
		vlmMock := &scriptedVLM{script: []proposalOrErr{
			{err: fmt.Errorf("model returned prose, not JSON")},
			{err: fmt.Errorf("model returned prose, not JSON")},
			{err: fmt.Errorf("model returned prose, not JSON")},
		}}
		sink := trace.NewMemoryRecorder()
		exec := newTestExecutor(t, vlmMock, &fakeBrowser{width: 800, height: 600}, sink)

		outcome := exec.ExecuteStep(context.Background(), "run-3", 0, schemas.Step{Description: "Anything"})

		require.Equal(t, schemas.StepFailed, outcome.Status)
		assert.Equal(t, schemas.ReasonMaxRetries, outcome.Reason)

		recs, _ := sink.ByStep(context.Background(), "run-3", 0)
		require.Len(t, recs, 3)
		for _, rec := range recs {
			assert.Equal(t, schemas.ValidationSkipped, rec.Validation)
			assert.Nil(t, rec.Proposal)
		}
	})
}

func TestExecuteStep_OutOfBoundsNeverDispatched(t *testing.T) {
	vlmMock := &scriptedVLM{script: []proposalOrErr{
		{p: clickAt(9999, 50)},
		{p: clickAt(400, 300)},
		{p: doneAction},
	}}
	browserMock := &fakeBrowser{width: 800, height: 600}
	sink := trace.NewMemoryRecorder()
	exec := newTestExecutor(t, vlmMock, browserMock, sink)

	outcome := exec.ExecuteStep(context.Background(), "run-4", 0, schemas.Step{Description: "Click the button"})

	require.Equal(t, schemas.StepCompleted, outcome.Status)
	require.Len(t, browserMock.dispatched, 1)
	assert.Equal(t, 400, browserMock.dispatched[0].Click.X)

	rec, err := sink.ByAttempt(context.Background(), "run-4", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, schemas.ValidationRejected, rec.Validation)
	assert.Contains(t, rec.RejectReason, "outside viewport")
}

func TestExecuteStep_ShapeInvalidProposalConsumesRetry(t *testing.T) {
	// A custom VLM implementation can hand back a proposal the shipped parser
	// would never build, e.g. a click variant without its parameters. That must
	// be an ordinary rejection, not a crash.
	vlmMock := &scriptedVLM{script: []proposalOrErr{
		{p: schemas.ActionProposal{Kind: schemas.ActionClick}},
		{p: doneAction},
	}}
	browserMock := &fakeBrowser{width: 800, height: 600}
	sink := trace.NewMemoryRecorder()
	exec := newTestExecutor(t, vlmMock, browserMock, sink)

	outcome := exec.ExecuteStep(context.Background(), "run-11", 0, schemas.Step{Description: "Click the button"})

	require.Equal(t, schemas.StepCompleted, outcome.Status)
	assert.Empty(t, browserMock.dispatched, "a shape-invalid proposal must never dispatch")

	rec, err := sink.ByAttempt(context.Background(), "run-11", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, schemas.ValidationRejected, rec.Validation)
	assert.Contains(t, rec.RejectReason, "missing parameters")
}

func TestExecuteStep_ExplicitFail(t *testing.T) {
	vlmMock := &scriptedVLM{script: []proposalOrErr{
		{p: schemas.ActionProposal{Kind: schemas.ActionFail, Fail: &schemas.FailParams{Reason: "login wall"}}},
	}}
	sink := trace.NewMemoryRecorder()
	exec := newTestExecutor(t, vlmMock, &fakeBrowser{width: 800, height: 600}, sink)

	outcome := exec.ExecuteStep(context.Background(), "run-5", 0, schemas.Step{Description: "Read the dashboard"})

	require.Equal(t, schemas.StepFailed, outcome.Status)
	assert.Equal(t, "login wall", outcome.Reason)
	assert.Equal(t, 1, sink.Len(), "a first-attempt fail() must not burn the remaining budget")
}

func TestExecuteStep_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vlmMock := &scriptedVLM{script: []proposalOrErr{{p: doneAction}}}
	sink := trace.NewMemoryRecorder()
	exec := newTestExecutor(t, vlmMock, &fakeBrowser{width: 800, height: 600}, sink)

	outcome := exec.ExecuteStep(ctx, "run-6", 0, schemas.Step{Description: "Never starts"})

	require.Equal(t, schemas.StepFailed, outcome.Status)
	assert.Equal(t, schemas.ReasonRunCanceled, outcome.Reason)
	assert.Equal(t, 0, vlmMock.calls, "no attempt may start after cancellation")
}

func TestExecuteStep_TraceAppendFailureTerminates(t *testing.T) {
	vlmMock := &scriptedVLM{script: []proposalOrErr{{p: clickAt(10, 10)}, {p: doneAction}}}
	browserMock := &fakeBrowser{width: 800, height: 600}
	exec := newTestExecutor(t, vlmMock, browserMock, failingSink{})

	outcome := exec.ExecuteStep(context.Background(), "run-7", 0, schemas.Step{Description: "Click"})

	require.Equal(t, schemas.StepFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "trace_append_failed")
	// The click executed before its record was refused, but nothing further
	// may run on top of an unrecorded action.
	assert.Equal(t, 1, vlmMock.calls)
}

func TestExecuteStep_ConfirmationVeto(t *testing.T) {
	step := schemas.Step{
		Description:  "Enter the amount",
		LockedValues: map[string]string{"amount": "500"},
	}
	vlmMock := &scriptedVLM{script: []proposalOrErr{
		{p: typeAmount("500")},
		{p: typeAmount("500")},
		{p: typeAmount("500")},
	}}
	browserMock := &fakeBrowser{width: 800, height: 600}
	sink := trace.NewMemoryRecorder()
	exec := newTestExecutor(t, vlmMock, browserMock, sink, WithConfirmationPolicy(denyAll{}))

	outcome := exec.ExecuteStep(context.Background(), "run-8", 0, step)

	require.Equal(t, schemas.StepFailed, outcome.Status)
	assert.Equal(t, schemas.ReasonMaxRetries, outcome.Reason)
	assert.Empty(t, browserMock.dispatched, "a vetoed action must never dispatch")

	recs, _ := sink.ByStep(context.Background(), "run-8", 0)
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Equal(t, "confirmation_denied", rec.RejectReason)
	}
}

func TestExecuteStep_TransitionsAreDeterministic(t *testing.T) {
	// Two identical runs over the same scripted inputs must walk the exact
	// same state sequence.
	run := func(runID string) []string {
		vlmMock := &scriptedVLM{script: []proposalOrErr{
			{p: typeAmount("500")},
			{p: typeAmount("1000")},
			{p: doneAction},
		}}
		var transitions []string
		exec := newTestExecutor(t,
			vlmMock,
			&fakeBrowser{width: 800, height: 600},
			trace.NewMemoryRecorder(),
			WithTransitionObserver(func(from, to State) {
				transitions = append(transitions, string(from)+"->"+string(to))
			}),
		)
		step := schemas.Step{LockedValues: map[string]string{"amount": "500"}}
		outcome := exec.ExecuteStep(context.Background(), runID, 0, step)
		require.Equal(t, schemas.StepCompleted, outcome.Status)
		return transitions
	}

	first := run("run-9a")
	second := run("run-9b")
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("transition sequences diverged (-first +second):\n%s", diff)
	}

	expected := []string{
		"awaiting_proposal->validating",
		"validating->awaiting_confirmation",
		"awaiting_confirmation->executing",
		"executing->retrying",
		"retrying->awaiting_proposal",
		"awaiting_proposal->validating",
		"validating->retrying",
		"retrying->awaiting_proposal",
		"awaiting_proposal->validating",
		"validating->step_done",
	}
	if diff := cmp.Diff(expected, first); diff != "" {
		t.Fatalf("unexpected transition sequence (-want +got):\n%s", diff)
	}
}

func TestExecuteStep_CaptureFailureConsumesRetry(t *testing.T) {
	browserMock := &fakeBrowser{captureErr: fmt.Errorf("tab crashed")}
	vlmMock := &scriptedVLM{}
	sink := trace.NewMemoryRecorder()
	exec := newTestExecutor(t, vlmMock, browserMock, sink)

	outcome := exec.ExecuteStep(context.Background(), "run-10", 0, schemas.Step{Description: "Anything"})

	require.Equal(t, schemas.StepFailed, outcome.Status)
	assert.Equal(t, schemas.ReasonMaxRetries, outcome.Reason)
	assert.Equal(t, 0, vlmMock.calls, "no proposal may be requested without a fresh capture")

	recs, _ := sink.ByStep(context.Background(), "run-10", 0)
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Empty(t, rec.ScreenRef)
		assert.Equal(t, schemas.ValidationSkipped, rec.Validation)
	}
}
