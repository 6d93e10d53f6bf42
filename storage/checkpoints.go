package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/briefmill/briefmill/checkpoint"
)

// CheckpointRepo persists checkpoint instances so blocking holds survive
// process restarts.
type CheckpointRepo struct {
	db *sql.DB
}

// Create inserts a checkpoint instance.
func (r *CheckpointRepo) Create(ctx context.Context, inst *checkpoint.Instance) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, workflow_id, checkpoint_code, blocking,
			state, resolution, note, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.WorkflowID, inst.CheckpointCode, inst.Blocking,
		inst.State, nullable(string(inst.Resolution)), nullable(inst.Note),
		inst.CreatedAt, inst.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Update persists resolution changes.
func (r *CheckpointRepo) Update(ctx context.Context, inst *checkpoint.Instance) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkpoints SET state = ?, resolution = ?, note = ?, resolved_at = ?
		WHERE id = ?`,
		inst.State, nullable(string(inst.Resolution)), nullable(inst.Note),
		inst.ResolvedAt, inst.ID,
	)
	if err != nil {
		return fmt.Errorf("update checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update checkpoint rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves one checkpoint instance.
func (r *CheckpointRepo) Get(ctx context.Context, id string) (*checkpoint.Instance, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, checkpoint_code, blocking, state, resolution,
			note, created_at, resolved_at
		FROM checkpoints WHERE id = ?`, id)
	return scanCheckpoint(row)
}

// GetByCode retrieves a workflow's instance of a specific checkpoint, if
// recorded.
func (r *CheckpointRepo) GetByCode(ctx context.Context, workflowID string, code checkpoint.Code) (*checkpoint.Instance, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, checkpoint_code, blocking, state, resolution,
			note, created_at, resolved_at
		FROM checkpoints WHERE workflow_id = ? AND checkpoint_code = ?
		ORDER BY created_at DESC LIMIT 1`, workflowID, code)
	return scanCheckpoint(row)
}

// ListByWorkflow returns all checkpoint instances for a workflow.
func (r *CheckpointRepo) ListByWorkflow(ctx context.Context, workflowID string) ([]*checkpoint.Instance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, checkpoint_code, blocking, state, resolution,
			note, created_at, resolved_at
		FROM checkpoints WHERE workflow_id = ? ORDER BY created_at`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*checkpoint.Instance
	for rows.Next() {
		inst, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func scanCheckpoint(row rowScanner) (*checkpoint.Instance, error) {
	var (
		inst       checkpoint.Instance
		resolution sql.NullString
		note       sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(&inst.ID, &inst.WorkflowID, &inst.CheckpointCode,
		&inst.Blocking, &inst.State, &resolution, &note,
		&inst.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	inst.Resolution = checkpoint.Resolution(resolution.String)
	inst.Note = note.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		inst.ResolvedAt = &t
	}
	return &inst, nil
}
