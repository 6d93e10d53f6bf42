package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/briefmill/briefmill/workflow"
)

// WorkflowRepo persists workflows.
type WorkflowRepo struct {
	db *sql.DB
}

// Create inserts a new workflow, enforcing the at-most-one-active-workflow
// invariant per order.
func (r *WorkflowRepo) Create(ctx context.Context, wf *workflow.Workflow) error {
	var active int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflows WHERE order_id = ? AND status NOT IN ('completed', 'blocked')`,
		wf.OrderID,
	).Scan(&active)
	if err != nil {
		return fmt.Errorf("check active workflows: %w", err)
	}
	if active > 0 {
		return ErrDuplicateWorkflow
	}

	meta, err := json.Marshal(wf.Metadata)
	if err != nil {
		return fmt.Errorf("marshal workflow metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflows (id, order_id, path, tier, current_phase, status,
			error_count, last_error, citation_count, quality_score,
			blocked_reason, metadata, version, created_at, updated_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.OrderID, wf.Path, wf.Tier, wf.CurrentPhase, wf.Status,
		wf.ErrorCount, nullable(wf.LastError), wf.CitationCount, wf.QualityScore,
		nullable(wf.BlockedReason), string(meta), wf.Version, wf.CreatedAt, wf.UpdatedAt, wf.LastActivityAt,
	)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// Get retrieves a workflow by ID.
func (r *WorkflowRepo) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, path, tier, current_phase, status, error_count,
			last_error, citation_count, quality_score, blocked_reason,
			metadata, version, created_at, updated_at, last_activity_at
		FROM workflows WHERE id = ?`, id)
	return scanWorkflow(row)
}

// GetActiveByOrder retrieves an order's non-terminal workflow, if any.
func (r *WorkflowRepo) GetActiveByOrder(ctx context.Context, orderID string) (*workflow.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, order_id, path, tier, current_phase, status, error_count,
			last_error, citation_count, quality_score, blocked_reason,
			metadata, version, created_at, updated_at, last_activity_at
		FROM workflows WHERE order_id = ? AND status NOT IN ('completed', 'blocked')`, orderID)
	return scanWorkflow(row)
}

// Update persists workflow mutations under optimistic locking: the update
// applies only if the stored version matches the one the caller read;
// otherwise ErrConflict. On success the in-memory version is incremented to
// match the row.
func (r *WorkflowRepo) Update(ctx context.Context, wf *workflow.Workflow) error {
	meta, err := json.Marshal(wf.Metadata)
	if err != nil {
		return fmt.Errorf("marshal workflow metadata: %w", err)
	}

	wf.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE workflows SET current_phase = ?, status = ?, error_count = ?,
			last_error = ?, citation_count = ?, quality_score = ?,
			blocked_reason = ?, metadata = ?, version = version + 1,
			updated_at = ?, last_activity_at = ?
		WHERE id = ? AND version = ?`,
		wf.CurrentPhase, wf.Status, wf.ErrorCount,
		nullable(wf.LastError), wf.CitationCount, wf.QualityScore,
		nullable(wf.BlockedReason), string(meta),
		wf.UpdatedAt, wf.LastActivityAt,
		wf.ID, wf.Version,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update workflow rows affected: %w", err)
	}
	if n == 0 {
		// Either the row is gone or another scheduler advanced it first.
		var exists int
		if qerr := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workflows WHERE id = ?`, wf.ID).Scan(&exists); qerr == nil && exists == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	wf.Version++
	return nil
}

// ListByStatus returns workflows in the given status, oldest first.
func (r *WorkflowRepo) ListByStatus(ctx context.Context, status workflow.Status) ([]*workflow.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, path, tier, current_phase, status, error_count,
			last_error, citation_count, quality_score, blocked_reason,
			metadata, version, created_at, updated_at, last_activity_at
		FROM workflows WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// Block moves a workflow to blocked with the given reason, bypassing
// version checks. Used by the violation reporter's forced halt, which must
// win against any in-flight update.
func (r *WorkflowRepo) Block(ctx context.Context, id, reason string) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE workflows SET status = ?, blocked_reason = ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		workflow.StatusBlocked, reason, now, id)
	if err != nil {
		return fmt.Errorf("block workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("block workflow rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*workflow.Workflow, error) {
	var (
		wf            workflow.Workflow
		lastError     sql.NullString
		blockedReason sql.NullString
		meta          sql.NullString
	)
	err := row.Scan(&wf.ID, &wf.OrderID, &wf.Path, &wf.Tier, &wf.CurrentPhase,
		&wf.Status, &wf.ErrorCount, &lastError, &wf.CitationCount,
		&wf.QualityScore, &blockedReason, &meta, &wf.Version,
		&wf.CreatedAt, &wf.UpdatedAt, &wf.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	wf.LastError = lastError.String
	wf.BlockedReason = blockedReason.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &wf.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal workflow metadata: %w", err)
		}
	}
	return &wf, nil
}

// nullable converts an empty string to a NULL column value.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
