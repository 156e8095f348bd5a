// File: internal/controller/controller.go
// Description: Runs a plan's steps strictly in order through the step
// executor and aggregates the outcomes. The first failed step aborts the run;
// later steps may assume earlier ones succeeded, so nothing is skipped or
// reordered.

package controller

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// StepExecutor is the contract the controller drives; satisfied by
// *executor.Executor.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, runID string, stepIndex int, step schemas.Step) schemas.StepOutcome
}

// Controller consumes a plan and produces a run result. Execution is
// single-threaded: one browser session, one step, one attempt in flight.
type Controller struct {
	planner  schemas.Planner
	executor StepExecutor
	logger   *zap.Logger
}

// New creates a controller.
func New(planner schemas.Planner, exec StepExecutor, logger *zap.Logger) (*Controller, error) {
	if planner == nil || exec == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize controller with nil dependencies")
	}
	return &Controller{
		planner:  planner,
		executor: exec,
		logger:   logger.Named("controller"),
	}, nil
}

// Run translates the intent into a plan and executes it. A planning failure
// is fatal before any step runs and is returned as a PlanningError with a nil
// result. Cancellation is run-scoped: the loop stops after the attempt in
// flight completes.
func (c *Controller) Run(ctx context.Context, intent string) (*schemas.RunResult, error) {
	runID := uuid.NewString()
	c.logger.Info("Starting run", zap.String("run_id", runID), zap.String("intent", intent))

	plan, err := c.planner.ProducePlan(ctx, intent)
	if err != nil {
		return nil, &schemas.PlanningError{Intent: intent, Err: err}
	}
	if plan == nil || len(plan.Steps) == 0 {
		return nil, &schemas.PlanningError{Intent: intent, Err: fmt.Errorf("planner produced an empty plan")}
	}
	c.logger.Info("Plan produced", zap.String("run_id", runID), zap.Int("steps", len(plan.Steps)))

	result := &schemas.RunResult{
		RunID:  runID,
		Status: schemas.RunSucceeded,
		Steps:  make([]schemas.StepOutcome, 0, len(plan.Steps)),
	}

	for i, step := range plan.Steps {
		outcome := c.executor.ExecuteStep(ctx, runID, i, step)
		result.Steps = append(result.Steps, outcome)

		if outcome.Status == schemas.StepFailed {
			result.Status = schemas.RunAborted
			result.AbortedAtStep = i
			result.AbortReason = outcome.Reason
			c.logger.Error("Run aborted",
				zap.String("run_id", runID),
				zap.Int("at_step", i),
				zap.String("reason", outcome.Reason),
			)
			return result, nil
		}
		c.logger.Info("Step completed", zap.String("run_id", runID), zap.Int("step", i))
	}

	c.logger.Info("Run succeeded", zap.String("run_id", runID), zap.Int("steps", len(result.Steps)))
	return result, nil
}
