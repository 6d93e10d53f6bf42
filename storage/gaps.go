package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/briefmill/briefmill/workflow/gap"
)

// GapEventRepo persists gap closure events. It implements gap.EventStore.
// Events are append-only history; there is no delete.
type GapEventRepo struct {
	db *sql.DB
}

// Create inserts a new gap event.
func (r *GapEventRepo) Create(ctx context.Context, e *gap.Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gap_events (id, workflow_id, protocol, phase_code, context,
			state, action_taken, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkflowID, e.Protocol, e.PhaseCode, nullable(e.Context),
		e.State, nullable(e.ActionTaken), e.CreatedAt, e.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert gap event: %w", err)
	}
	return nil
}

// Update persists resolution-state changes.
func (r *GapEventRepo) Update(ctx context.Context, e *gap.Event) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE gap_events SET state = ?, action_taken = ?, resolved_at = ?
		WHERE id = ?`,
		e.State, nullable(e.ActionTaken), e.ResolvedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update gap event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update gap event rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByWorkflow returns a workflow's gap events, oldest first.
func (r *GapEventRepo) ListByWorkflow(ctx context.Context, workflowID string) ([]*gap.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, protocol, phase_code, context, state,
			action_taken, created_at, resolved_at
		FROM gap_events WHERE workflow_id = ? ORDER BY created_at`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list gap events: %w", err)
	}
	defer rows.Close()

	var out []*gap.Event
	for rows.Next() {
		var (
			e          gap.Event
			gctx       sql.NullString
			action     sql.NullString
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.Protocol, &e.PhaseCode,
			&gctx, &e.State, &action, &e.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan gap event: %w", err)
		}
		e.Context = gctx.String
		e.ActionTaken = action.String
		if resolvedAt.Valid {
			t := resolvedAt.Time
			e.ResolvedAt = &t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Get retrieves one gap event.
func (r *GapEventRepo) Get(ctx context.Context, id string) (*gap.Event, error) {
	var (
		e          gap.Event
		gctx       sql.NullString
		action     sql.NullString
		resolvedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, protocol, phase_code, context, state,
			action_taken, created_at, resolved_at
		FROM gap_events WHERE id = ?`, id,
	).Scan(&e.ID, &e.WorkflowID, &e.Protocol, &e.PhaseCode,
		&gctx, &e.State, &action, &e.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get gap event: %w", err)
	}
	e.Context = gctx.String
	e.ActionTaken = action.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	return &e, nil
}
