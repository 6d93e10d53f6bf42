// Package citation implements the citation ledger and the verification
// gate: structural grammar validation, staged semantic verification through
// an external service, and the minimum-verified-count hard stop.
package citation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Class categorizes the cited authority.
type Class string

const (
	ClassCase       Class = "case"
	ClassStatute    Class = "statute"
	ClassRegulation Class = "regulation"
	ClassSecondary  Class = "secondary"
)

// VerificationStatus tracks a citation through the verification stages.
// Transitions only move forward; a record is never silently re-verified
// without a new log entry.
type VerificationStatus string

const (
	StatusPending              VerificationStatus = "pending"
	StatusVerified             VerificationStatus = "verified"
	StatusInvalid              VerificationStatus = "invalid"
	StatusNeedsUpdate          VerificationStatus = "needs_update"
	StatusFlagged              VerificationStatus = "flagged"
	StatusVerificationDeferred VerificationStatus = "verification_deferred"
)

// stageOrder defines the forward direction of status transitions. Pending
// and deferred are pre-verification stages; the rest are outcomes.
var stageOrder = map[VerificationStatus]int{
	StatusPending:              0,
	StatusVerificationDeferred: 1,
	StatusNeedsUpdate:          2,
	StatusFlagged:              2,
	StatusVerified:             3,
	StatusInvalid:              3,
}

// CanTransition reports whether moving from one status to another respects
// the forward-only invariant.
func CanTransition(from, to VerificationStatus) bool {
	fo, ok := stageOrder[from]
	if !ok {
		return false
	}
	to2, ok := stageOrder[to]
	if !ok {
		return false
	}
	return to2 > fo
}

// Authority is the binding weight of the cited source.
type Authority string

const (
	AuthorityBinding    Authority = "binding"
	AuthorityPersuasive Authority = "persuasive"
	AuthoritySecondary  Authority = "secondary"
)

// Components are the parsed structural pieces of a citation.
type Components struct {
	Volume   string `json:"volume,omitempty"`
	Reporter string `json:"reporter,omitempty"`
	Page     string `json:"page,omitempty"`
	Court    string `json:"court,omitempty"`
	Year     int    `json:"year,omitempty"`
}

// Record is one ledger entry. A record belongs to exactly one workflow and
// optionally one phase execution. Downstream drafting phases read records
// but never mutate them; only the verification gate moves status forward.
type Record struct {
	ID               string             `json:"id"`
	WorkflowID       string             `json:"workflow_id"`
	PhaseExecutionID string             `json:"phase_execution_id,omitempty"`
	RawText          string             `json:"raw_text"`
	Components       Components         `json:"components"`
	Class            Class              `json:"class"`
	Status           VerificationStatus `json:"status"`
	Confidence       float64            `json:"confidence"`
	Authority        Authority          `json:"authority"`
	CorrectedText    string             `json:"corrected_text,omitempty"`
	VerifiedAt       *time.Time         `json:"verified_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// NewRecord creates a pending ledger entry for raw citation text.
func NewRecord(workflowID, phaseExecutionID, raw string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:               uuid.New().String(),
		WorkflowID:       workflowID,
		PhaseExecutionID: phaseExecutionID,
		RawText:          raw,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Transition moves the record to a new status, enforcing forward-only
// movement. Callers persist the corresponding log entry alongside.
func (r *Record) Transition(to VerificationStatus) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("citation %s: illegal status transition %s -> %s", r.ID, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = time.Now().UTC()
	if to == StatusVerified {
		t := r.UpdatedAt
		r.VerifiedAt = &t
	}
	return nil
}

// LogEntry records one status movement of a citation. The log is
// append-only; re-verification without a fresh entry is an invariant
// violation.
type LogEntry struct {
	ID         string             `json:"id"`
	CitationID string             `json:"citation_id"`
	FromStatus VerificationStatus `json:"from_status"`
	ToStatus   VerificationStatus `json:"to_status"`
	Note       string             `json:"note,omitempty"`
	At         time.Time          `json:"at"`
}

// NewLogEntry builds a log entry for a transition.
func NewLogEntry(citationID string, from, to VerificationStatus, note string) *LogEntry {
	return &LogEntry{
		ID:         uuid.New().String(),
		CitationID: citationID,
		FromStatus: from,
		ToStatus:   to,
		Note:       note,
		At:         time.Now().UTC(),
	}
}
