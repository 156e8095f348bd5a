// File: internal/trace/memory_test.go
package trace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

func sampleRecord(runID string, stepIndex, attempt int) schemas.AttemptRecord {
	return schemas.AttemptRecord{
		ID:        runID + "-rec",
		RunID:     runID,
		StepIndex: stepIndex,
		Attempt:   attempt,
		ScreenRef: "shot.png",
		Proposal: &schemas.ActionProposal{
			Kind:  schemas.ActionClick,
			Click: &schemas.ClickParams{X: 10, Y: 20},
		},
		Validation: schemas.ValidationAccepted,
		Execution:  schemas.ExecExecuted,
		Timestamp:  time.Now().UTC(),
	}
}

func TestMemoryRecorder(t *testing.T) {
	ctx := context.Background()

	t.Run("should return records in append order", func(t *testing.T) {
		rec := NewMemoryRecorder()
		for attempt := 1; attempt <= 3; attempt++ {
			require.NoError(t, rec.Append(ctx, sampleRecord("run-1", 0, attempt)))
		}
		records, err := rec.ByStep(ctx, "run-1", 0)
		require.NoError(t, err)
		require.Len(t, records, 3)
		for i, r := range records {
			assert.Equal(t, i+1, r.Attempt)
		}
	})

	t.Run("should filter by run and step", func(t *testing.T) {
		rec := NewMemoryRecorder()
		require.NoError(t, rec.Append(ctx, sampleRecord("run-1", 0, 1)))
		require.NoError(t, rec.Append(ctx, sampleRecord("run-1", 1, 1)))
		require.NoError(t, rec.Append(ctx, sampleRecord("run-2", 0, 1)))

		records, err := rec.ByStep(ctx, "run-1", 1)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 1, records[0].StepIndex)
		assert.Equal(t, 3, rec.Len())
	})

	t.Run("should find a single attempt", func(t *testing.T) {
		rec := NewMemoryRecorder()
		require.NoError(t, rec.Append(ctx, sampleRecord("run-1", 0, 1)))
		require.NoError(t, rec.Append(ctx, sampleRecord("run-1", 0, 2)))

		found, err := rec.ByAttempt(ctx, "run-1", 0, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, found.Attempt)
	})

	t.Run("should report ErrNotFound for a missing attempt", func(t *testing.T) {
		rec := NewMemoryRecorder()
		_, err := rec.ByAttempt(ctx, "run-x", 0, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
