package citation

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Ledger is the persistence surface the verification service needs. The
// storage package provides the SQLite implementation; tests substitute
// fakes.
type Ledger interface {
	// Create inserts a new citation record.
	Create(ctx context.Context, rec *Record) error

	// Get returns one citation record by ID.
	Get(ctx context.Context, id string) (*Record, error)

	// Update persists mutations to an existing record.
	Update(ctx context.Context, rec *Record) error

	// AppendLog records a status transition. Append-only.
	AppendLog(ctx context.Context, entry *LogEntry) error

	// ListByWorkflow returns all citations for a workflow.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*Record, error)

	// CountByStatus counts a workflow's citations in the given status.
	CountByStatus(ctx context.Context, workflowID string, status VerificationStatus) (int, error)
}

// Service performs staged citation verification: structural grammar
// validation first, then semantic verification when a verifier is
// configured, otherwise a pending hold for manual sign-off.
type Service struct {
	ledger   Ledger
	verifier Verifier // nil when no semantic verifier is configured
	logger   *slog.Logger

	// maxVerifyAttempts bounds call-site retries for transient verifier
	// failures.
	maxVerifyAttempts int
	retryBackoff      time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithVerifier attaches a semantic verifier.
func WithVerifier(v Verifier) ServiceOption {
	return func(s *Service) {
		s.verifier = v
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a verification service over the given ledger.
func NewService(ledger Ledger, opts ...ServiceOption) *Service {
	s := &Service{
		ledger:            ledger,
		logger:            slog.Default(),
		maxVerifyAttempts: 3,
		retryBackoff:      2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest parses raw citation strings found during an authority-research
// phase and creates pending ledger records for them. Structurally invalid
// strings are recorded as invalid immediately so the gap engine can see
// them.
func (s *Service) Ingest(ctx context.Context, workflowID, phaseExecutionID string, rawCitations []string) ([]*Record, error) {
	var records []*Record
	for _, raw := range rawCitations {
		rec := NewRecord(workflowID, phaseExecutionID, raw)
		parsed := Parse(raw)
		if parsed.Valid {
			rec.Components = parsed.Components
			rec.Class = parsed.Class
			rec.Authority = parsed.Authority
			if parsed.NameOnly {
				rec.Confidence = 0.3
			}
		}
		if err := s.ledger.Create(ctx, rec); err != nil {
			return records, fmt.Errorf("create citation record: %w", err)
		}
		if !parsed.Valid {
			if err := s.transition(ctx, rec, StatusInvalid, "matches no citation grammar"); err != nil {
				return records, err
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// VerifyRecord runs the staged verification for one pending record.
//
// Stage 1 (structural) happened at ingest; records that survived it are
// pending here. Stage 2 submits to the semantic verifier when available.
// Stage 3 applies when no verifier is configured: the record keeps pending
// status with a fixed default confidence and requires manual sign-off —
// it never defaults to verified.
func (s *Service) VerifyRecord(ctx context.Context, rec *Record, usageContext string) error {
	if rec.Status != StatusPending {
		return fmt.Errorf("citation %s: cannot verify from status %s", rec.ID, rec.Status)
	}

	if s.verifier == nil {
		rec.Confidence = DefaultPendingConfidence
		if err := s.ledger.Update(ctx, rec); err != nil {
			return fmt.Errorf("update citation record: %w", err)
		}
		s.logger.Info("No semantic verifier configured, citation held for manual sign-off",
			"citation_id", rec.ID,
			"workflow_id", rec.WorkflowID)
		return nil
	}

	judgment, err := s.verifyWithRetry(ctx, rec.RawText, usageContext)
	if err != nil {
		// Exhausted transient retries or hard service rejection. The
		// record stays pending; the gate will count it as unverified.
		s.logger.Warn("Citation verification unavailable, leaving pending",
			"citation_id", rec.ID,
			"error", err)
		rec.Confidence = DefaultPendingConfidence
		if uerr := s.ledger.Update(ctx, rec); uerr != nil {
			return fmt.Errorf("update citation record: %w", uerr)
		}
		return nil
	}

	rec.Confidence = judgment.Confidence
	switch judgment.Classification {
	case "verified":
		return s.transition(ctx, rec, StatusVerified, judgment.Reason)
	case "needs_update":
		rec.CorrectedText = judgment.CorrectedCitation
		return s.transition(ctx, rec, StatusNeedsUpdate, judgment.Reason)
	default:
		return s.transition(ctx, rec, StatusInvalid, judgment.Reason)
	}
}

// SignOff manually verifies a citation held pending because no semantic
// verifier could judge it. An attorney attests to the citation, so the
// record moves to verified at full confidence, with the attestation note
// in the transition log.
func (s *Service) SignOff(ctx context.Context, citationID, note string) (*Record, error) {
	rec, err := s.ledger.Get(ctx, citationID)
	if err != nil {
		return nil, fmt.Errorf("load citation %s: %w", citationID, err)
	}
	if rec.Status != StatusPending && rec.Status != StatusVerificationDeferred {
		return nil, fmt.Errorf("citation %s: cannot sign off from status %s", rec.ID, rec.Status)
	}

	rec.Confidence = 1.0
	logNote := "manual sign-off"
	if note != "" {
		logNote = "manual sign-off: " + note
	}
	if err := s.transition(ctx, rec, StatusVerified, logNote); err != nil {
		return nil, err
	}
	s.logger.Info("Citation manually signed off",
		"citation_id", rec.ID,
		"workflow_id", rec.WorkflowID)
	return rec, nil
}

// VerifyWorkflow verifies every pending citation for a workflow,
// sequentially to respect the external service's rate limits.
func (s *Service) VerifyWorkflow(ctx context.Context, workflowID, usageContext string) error {
	records, err := s.ledger.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("list citations: %w", err)
	}
	for _, rec := range records {
		if rec.Status != StatusPending {
			continue
		}
		if err := s.VerifyRecord(ctx, rec, usageContext); err != nil {
			return fmt.Errorf("verify citation %s: %w", rec.ID, err)
		}
	}
	return nil
}

// verifyWithRetry retries only transient failures with linear backoff. A
// non-transient result is returned immediately; "not found" style verdicts
// arrive as judgments, not errors, and are never retried.
func (s *Service) verifyWithRetry(ctx context.Context, raw, usageContext string) (*Judgment, error) {
	var lastErr error
	for attempt := 1; attempt <= s.maxVerifyAttempts; attempt++ {
		judgment, err := s.verifier.Verify(ctx, raw, usageContext)
		if err == nil {
			return judgment, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return nil, err
		}
		if attempt < s.maxVerifyAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retryBackoff * time.Duration(attempt)):
			}
		}
	}
	return nil, fmt.Errorf("verification failed after %d attempts: %w", s.maxVerifyAttempts, lastErr)
}

// transition updates the record status and writes the audit log entry.
func (s *Service) transition(ctx context.Context, rec *Record, to VerificationStatus, note string) error {
	from := rec.Status
	if err := rec.Transition(to); err != nil {
		return err
	}
	if err := s.ledger.Update(ctx, rec); err != nil {
		return fmt.Errorf("update citation record: %w", err)
	}
	if err := s.ledger.AppendLog(ctx, NewLogEntry(rec.ID, from, to, note)); err != nil {
		return fmt.Errorf("append citation log: %w", err)
	}
	return nil
}
