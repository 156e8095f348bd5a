// File: internal/trace/file.go
// Description: JSONL trace recorder. Each attempt record becomes one line,
// synced to disk before Append returns, so a crash never loses the record of
// an action that already ran against the live browser.

package trace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileRecorder appends JSONL lines to a single trace file and keeps an
// in-memory index to serve the query paths.
type FileRecorder struct {
	file *os.File
	// index mirrors the file contents for ByStep/ByAttempt without re-reading
	// the file on every query.
	index *MemoryRecorder
}

// NewFileRecorder opens (or creates) the trace file in append mode.
func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	return &FileRecorder{file: f, index: NewMemoryRecorder()}, nil
}

// Append writes one record as a JSON line and fsyncs. The in-memory index is
// updated only after the write is durable.
func (r *FileRecorder) Append(ctx context.Context, rec schemas.AttemptRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode attempt record: %w", err)
	}
	if _, err := r.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write attempt record: %w", err)
	}
	if err := r.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return r.index.Append(ctx, rec)
}

// ByStep returns every record for one step of a run, in append order.
func (r *FileRecorder) ByStep(ctx context.Context, runID string, stepIndex int) ([]schemas.AttemptRecord, error) {
	return r.index.ByStep(ctx, runID, stepIndex)
}

// ByAttempt returns the record for one attempt of one step.
func (r *FileRecorder) ByAttempt(ctx context.Context, runID string, stepIndex, attempt int) (*schemas.AttemptRecord, error) {
	return r.index.ByAttempt(ctx, runID, stepIndex, attempt)
}

// Path returns the trace file location, for the end-of-run summary.
func (r *FileRecorder) Path() string { return r.file.Name() }

// Close releases the file handle.
func (r *FileRecorder) Close() error { return r.file.Close() }
