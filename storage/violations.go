package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/briefmill/briefmill/violation"
)

// ViolationRepo persists the violation audit log. Together with the
// workflow repo's Block it satisfies violation.AuditStore.
type ViolationRepo struct {
	db *sql.DB
}

// CreateViolation inserts a write-once audit entry.
func (r *ViolationRepo) CreateViolation(ctx context.Context, rec *violation.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO violations (id, workflow_id, severity, attempted_phase,
			reason, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkflowID, rec.Severity, rec.AttemptedPhase,
		rec.Reason, rec.Resolved, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

// MarkResolved flips the resolution flag. The record itself is never
// rewritten.
func (r *ViolationRepo) MarkResolved(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE violations SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("resolve violation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve violation rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByWorkflow returns a workflow's violations, newest first.
func (r *ViolationRepo) ListByWorkflow(ctx context.Context, workflowID string) ([]*violation.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, severity, attempted_phase, reason, resolved, created_at
		FROM violations WHERE workflow_id = ? ORDER BY created_at DESC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	defer rows.Close()

	var out []*violation.Record
	for rows.Next() {
		var (
			rec   violation.Record
			phase sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &rec.WorkflowID, &rec.Severity, &phase,
			&rec.Reason, &rec.Resolved, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		rec.AttemptedPhase = phase.Float64
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// AuditStore adapts the store to violation.AuditStore, pairing violation
// persistence with the forced workflow block.
type AuditStore struct {
	Violations *ViolationRepo
	Workflows  *WorkflowRepo
}

// NewAuditStore builds the violation reporter's persistence surface.
func (s *Store) NewAuditStore() *AuditStore {
	return &AuditStore{Violations: s.Violations, Workflows: s.Workflows}
}

// CreateViolation implements violation.AuditStore.
func (a *AuditStore) CreateViolation(ctx context.Context, rec *violation.Record) error {
	return a.Violations.CreateViolation(ctx, rec)
}

// BlockWorkflow implements violation.AuditStore.
func (a *AuditStore) BlockWorkflow(ctx context.Context, workflowID, reason string) error {
	return a.Workflows.Block(ctx, workflowID, reason)
}
