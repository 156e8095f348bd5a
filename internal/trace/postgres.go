// File: internal/trace/postgres.go
// Description: Postgres-backed trace recorder for deployments that audit
// runs centrally. One row per attempt; the table is insert-only and the
// recorder exposes no mutation path.

package trace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// DBPool abstracts pgxpool.Pool so the recorder can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PostgresRecorder persists attempt records through a pgx pool.
type PostgresRecorder struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresRecorder verifies the connection and returns a recorder.
func NewPostgresRecorder(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresRecorder, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresRecorder{
		pool: pool,
		log:  logger.Named("trace.postgres"),
	}, nil
}

const sqlInsertAttempt = `
    INSERT INTO attempts (id, run_id, step_index, attempt, screen_ref, proposal, validation, reject_reason, execution, exec_detail, recorded_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
`

// Append inserts one record. The insert either commits or errors; there is
// no buffering, which keeps the write-then-continue ordering the executor
// relies on.
func (r *PostgresRecorder) Append(ctx context.Context, rec schemas.AttemptRecord) error {
	proposal, err := encodeProposal(rec.Proposal)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, sqlInsertAttempt,
		rec.ID, rec.RunID, rec.StepIndex, rec.Attempt,
		rec.ScreenRef, proposal,
		string(rec.Validation), rec.RejectReason,
		string(rec.Execution), rec.ExecDetail,
		rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt record: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("unexpected rows affected inserting attempt record: %d", tag.RowsAffected())
	}
	return nil
}

const sqlSelectByStep = `
    SELECT id, run_id, step_index, attempt, screen_ref, proposal, validation, reject_reason, execution, exec_detail, recorded_at
    FROM attempts
    WHERE run_id = $1 AND step_index = $2
    ORDER BY attempt ASC;
`

// ByStep returns every record for one step of a run, ordered by attempt.
func (r *PostgresRecorder) ByStep(ctx context.Context, runID string, stepIndex int) ([]schemas.AttemptRecord, error) {
	rows, err := r.pool.Query(ctx, sqlSelectByStep, runID, stepIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt records: %w", err)
	}
	defer rows.Close()

	var records []schemas.AttemptRecord
	for rows.Next() {
		rec, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return records, nil
}

const sqlSelectByAttempt = `
    SELECT id, run_id, step_index, attempt, screen_ref, proposal, validation, reject_reason, execution, exec_detail, recorded_at
    FROM attempts
    WHERE run_id = $1 AND step_index = $2 AND attempt = $3;
`

// ByAttempt returns the record for one attempt of one step.
func (r *PostgresRecorder) ByAttempt(ctx context.Context, runID string, stepIndex, attempt int) (*schemas.AttemptRecord, error) {
	rows, err := r.pool.Query(ctx, sqlSelectByAttempt, runID, stepIndex, attempt)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempt record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error during row iteration: %w", err)
		}
		return nil, ErrNotFound
	}
	rec, err := scanAttempt(rows)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanAttempt(rows pgx.Rows) (schemas.AttemptRecord, error) {
	var (
		rec        schemas.AttemptRecord
		proposal   []byte
		validation string
		execution  string
		recordedAt time.Time
	)
	err := rows.Scan(
		&rec.ID, &rec.RunID, &rec.StepIndex, &rec.Attempt,
		&rec.ScreenRef, &proposal,
		&validation, &rec.RejectReason,
		&execution, &rec.ExecDetail,
		&recordedAt,
	)
	if err != nil {
		return schemas.AttemptRecord{}, fmt.Errorf("failed to scan attempt row: %w", err)
	}
	rec.Validation = schemas.ValidationStatus(validation)
	rec.Execution = schemas.ExecStatus(execution)
	rec.Timestamp = recordedAt

	if len(proposal) > 0 && string(proposal) != "null" {
		var p schemas.ActionProposal
		if err := json.Unmarshal(proposal, &p); err != nil {
			return schemas.AttemptRecord{}, fmt.Errorf("failed to decode stored proposal: %w", err)
		}
		rec.Proposal = &p
	}
	return rec, nil
}

func encodeProposal(p *schemas.ActionProposal) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	encoded, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proposal: %w", err)
	}
	if len(encoded) == 0 {
		return nil, errors.New("encoded proposal is empty")
	}
	return encoded, nil
}
