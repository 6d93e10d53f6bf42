package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/briefmill/briefmill/citation"
)

// CitationRepo persists the citation ledger. It implements citation.Ledger.
type CitationRepo struct {
	db *sql.DB
}

// Create inserts a new citation record.
func (r *CitationRepo) Create(ctx context.Context, rec *citation.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO citations (id, workflow_id, phase_execution_id, raw_text,
			volume, reporter, page, court, year, class, status, confidence,
			authority, corrected_text, verified_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkflowID, nullable(rec.PhaseExecutionID), rec.RawText,
		nullable(rec.Components.Volume), nullable(rec.Components.Reporter),
		nullable(rec.Components.Page), nullable(rec.Components.Court),
		rec.Components.Year, rec.Class, rec.Status, rec.Confidence,
		rec.Authority, nullable(rec.CorrectedText), rec.VerifiedAt,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert citation: %w", err)
	}
	return nil
}

// Get returns one citation record by ID.
func (r *CitationRepo) Get(ctx context.Context, id string) (*citation.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, phase_execution_id, raw_text, volume, reporter,
			page, court, year, class, status, confidence, authority,
			corrected_text, verified_at, created_at, updated_at
		FROM citations WHERE id = ?`, id)
	return scanCitation(row)
}

// Update persists mutations to an existing record.
func (r *CitationRepo) Update(ctx context.Context, rec *citation.Record) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE citations SET status = ?, confidence = ?, authority = ?,
			class = ?, volume = ?, reporter = ?, page = ?, court = ?, year = ?,
			corrected_text = ?, verified_at = ?, updated_at = ?
		WHERE id = ?`,
		rec.Status, rec.Confidence, rec.Authority,
		rec.Class, nullable(rec.Components.Volume), nullable(rec.Components.Reporter),
		nullable(rec.Components.Page), nullable(rec.Components.Court), rec.Components.Year,
		nullable(rec.CorrectedText), rec.VerifiedAt, rec.UpdatedAt,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update citation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update citation rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendLog records a status transition in the append-only citation log.
func (r *CitationRepo) AppendLog(ctx context.Context, entry *citation.LogEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO citation_log (id, citation_id, from_status, to_status, note, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.CitationID, entry.FromStatus, entry.ToStatus,
		nullable(entry.Note), entry.At,
	)
	if err != nil {
		return fmt.Errorf("insert citation log entry: %w", err)
	}
	return nil
}

// ListByWorkflow returns all citations for a workflow, oldest first.
func (r *CitationRepo) ListByWorkflow(ctx context.Context, workflowID string) ([]*citation.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, phase_execution_id, raw_text, volume, reporter,
			page, court, year, class, status, confidence, authority,
			corrected_text, verified_at, created_at, updated_at
		FROM citations WHERE workflow_id = ? ORDER BY created_at`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list citations: %w", err)
	}
	defer rows.Close()

	var out []*citation.Record
	for rows.Next() {
		rec, err := scanCitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountByStatus counts a workflow's citations in the given status. The
// query always hits the store; the gate depends on never seeing stale
// counts.
func (r *CitationRepo) CountByStatus(ctx context.Context, workflowID string, status citation.VerificationStatus) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM citations WHERE workflow_id = ? AND status = ?`,
		workflowID, status,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count citations: %w", err)
	}
	return n, nil
}

// LogForCitation returns the transition history of one citation.
func (r *CitationRepo) LogForCitation(ctx context.Context, citationID string) ([]*citation.LogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, citation_id, from_status, to_status, note, at
		FROM citation_log WHERE citation_id = ? ORDER BY at`, citationID)
	if err != nil {
		return nil, fmt.Errorf("list citation log: %w", err)
	}
	defer rows.Close()

	var out []*citation.LogEntry
	for rows.Next() {
		var (
			entry citation.LogEntry
			note  sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.CitationID, &entry.FromStatus,
			&entry.ToStatus, &note, &entry.At); err != nil {
			return nil, fmt.Errorf("scan citation log entry: %w", err)
		}
		entry.Note = note.String
		out = append(out, &entry)
	}
	return out, rows.Err()
}

func scanCitation(row rowScanner) (*citation.Record, error) {
	var (
		rec        citation.Record
		phaseExec  sql.NullString
		volume     sql.NullString
		reporter   sql.NullString
		page       sql.NullString
		court      sql.NullString
		corrected  sql.NullString
		verifiedAt sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.WorkflowID, &phaseExec, &rec.RawText,
		&volume, &reporter, &page, &court, &rec.Components.Year,
		&rec.Class, &rec.Status, &rec.Confidence, &rec.Authority,
		&corrected, &verifiedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan citation: %w", err)
	}
	rec.PhaseExecutionID = phaseExec.String
	rec.Components.Volume = volume.String
	rec.Components.Reporter = reporter.String
	rec.Components.Page = page.String
	rec.Components.Court = court.String
	rec.CorrectedText = corrected.String
	if verifiedAt.Valid {
		t := verifiedAt.Time
		rec.VerifiedAt = &t
	}
	return &rec, nil
}
