// File: internal/trace/memory.go
// Description: In-memory append-only trace recorder. The default backend for
// tests and for runs where the operator opted out of persistence.

package trace

import (
	"context"
	"fmt"
	"sync"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// ErrNotFound is returned by the query paths when no record matches.
var ErrNotFound = fmt.Errorf("trace: record not found")

// MemoryRecorder stores attempt records in append order. Records are copied
// on write and on read, so a caller can never mutate a stored record.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []schemas.AttemptRecord
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Append stores one record. It never rejects a write; the store is
// append-only by construction.
func (m *MemoryRecorder) Append(_ context.Context, rec schemas.AttemptRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// ByStep returns every record for one step of a run, in append order.
func (m *MemoryRecorder) ByStep(_ context.Context, runID string, stepIndex int) ([]schemas.AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schemas.AttemptRecord
	for _, rec := range m.records {
		if rec.RunID == runID && rec.StepIndex == stepIndex {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ByAttempt returns the record for one attempt of one step, or ErrNotFound.
func (m *MemoryRecorder) ByAttempt(_ context.Context, runID string, stepIndex, attempt int) (*schemas.AttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.RunID == runID && rec.StepIndex == stepIndex && rec.Attempt == attempt {
			out := rec
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// Len reports the number of stored records.
func (m *MemoryRecorder) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
