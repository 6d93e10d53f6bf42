package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/briefmill/briefmill/workflow"
)

// PhaseExecutionRepo persists phase executions. The (workflow, phase)
// uniqueness constraint backs the engine's idempotent phase start.
type PhaseExecutionRepo struct {
	db *sql.DB
}

// Create inserts a new phase execution.
func (r *PhaseExecutionRepo) Create(ctx context.Context, pe *workflow.PhaseExecution) error {
	input, output, err := marshalPayloads(pe)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO phase_executions (id, workflow_id, phase_number, phase_code,
			status, input, output, quality_score, requires_review, retry_count,
			error_message, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pe.ID, pe.WorkflowID, pe.PhaseNumber, pe.PhaseCode,
		pe.Status, input, output, pe.QualityScore, pe.RequiresReview, pe.RetryCount,
		nullable(pe.ErrorMessage), pe.StartedAt, pe.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert phase execution: %w", err)
	}
	return nil
}

// Update persists phase execution mutations.
func (r *PhaseExecutionRepo) Update(ctx context.Context, pe *workflow.PhaseExecution) error {
	input, output, err := marshalPayloads(pe)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE phase_executions SET status = ?, input = ?, output = ?,
			quality_score = ?, requires_review = ?, retry_count = ?,
			error_message = ?, completed_at = ?
		WHERE id = ?`,
		pe.Status, input, output,
		pe.QualityScore, pe.RequiresReview, pe.RetryCount,
		nullable(pe.ErrorMessage), pe.CompletedAt,
		pe.ID,
	)
	if err != nil {
		return fmt.Errorf("update phase execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update phase execution rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves the execution for a specific (workflow, phase) pair.
func (r *PhaseExecutionRepo) Get(ctx context.Context, workflowID string, phaseNumber float64) (*workflow.PhaseExecution, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, phase_number, phase_code, status, input, output,
			quality_score, requires_review, retry_count, error_message,
			started_at, completed_at
		FROM phase_executions WHERE workflow_id = ? AND phase_number = ?`,
		workflowID, phaseNumber)
	return scanPhaseExecution(row)
}

// ListCompleted returns a workflow's completed executions ordered by phase
// number, the order in which the engine merges their outputs into context.
func (r *PhaseExecutionRepo) ListCompleted(ctx context.Context, workflowID string) ([]*workflow.PhaseExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, phase_number, phase_code, status, input, output,
			quality_score, requires_review, retry_count, error_message,
			started_at, completed_at
		FROM phase_executions
		WHERE workflow_id = ? AND status IN ('completed', 'completed_with_warning')
		ORDER BY phase_number`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list completed phase executions: %w", err)
	}
	defer rows.Close()

	var out []*workflow.PhaseExecution
	for rows.Next() {
		pe, err := scanPhaseExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pe)
	}
	return out, rows.Err()
}

// ListByWorkflow returns all of a workflow's executions ordered by phase.
func (r *PhaseExecutionRepo) ListByWorkflow(ctx context.Context, workflowID string) ([]*workflow.PhaseExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, phase_number, phase_code, status, input, output,
			quality_score, requires_review, retry_count, error_message,
			started_at, completed_at
		FROM phase_executions WHERE workflow_id = ? ORDER BY phase_number`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list phase executions: %w", err)
	}
	defer rows.Close()

	var out []*workflow.PhaseExecution
	for rows.Next() {
		pe, err := scanPhaseExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pe)
	}
	return out, rows.Err()
}

func marshalPayloads(pe *workflow.PhaseExecution) (input, output sql.NullString, err error) {
	if pe.Input != nil {
		b, merr := json.Marshal(pe.Input)
		if merr != nil {
			return input, output, fmt.Errorf("marshal phase input: %w", merr)
		}
		input = sql.NullString{String: string(b), Valid: true}
	}
	if pe.Output != nil {
		b, merr := json.Marshal(pe.Output)
		if merr != nil {
			return input, output, fmt.Errorf("marshal phase output: %w", merr)
		}
		output = sql.NullString{String: string(b), Valid: true}
	}
	return input, output, nil
}

func scanPhaseExecution(row rowScanner) (*workflow.PhaseExecution, error) {
	var (
		pe       workflow.PhaseExecution
		input    sql.NullString
		output   sql.NullString
		errMsg   sql.NullString
		score    sql.NullFloat64
		complete sql.NullTime
	)
	err := row.Scan(&pe.ID, &pe.WorkflowID, &pe.PhaseNumber, &pe.PhaseCode,
		&pe.Status, &input, &output, &score, &pe.RequiresReview,
		&pe.RetryCount, &errMsg, &pe.StartedAt, &complete)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan phase execution: %w", err)
	}
	if input.Valid && input.String != "" {
		if err := json.Unmarshal([]byte(input.String), &pe.Input); err != nil {
			return nil, fmt.Errorf("unmarshal phase input: %w", err)
		}
	}
	if output.Valid && output.String != "" {
		if err := json.Unmarshal([]byte(output.String), &pe.Output); err != nil {
			return nil, fmt.Errorf("unmarshal phase output: %w", err)
		}
	}
	if score.Valid {
		v := score.Float64
		pe.QualityScore = &v
	}
	pe.ErrorMessage = errMsg.String
	if complete.Valid {
		t := complete.Time
		pe.CompletedAt = &t
	}
	return &pe, nil
}
