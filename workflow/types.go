// Package workflow defines the domain entities of the filing production
// pipeline: workflows, phase executions, and their status vocabularies.
// Static phase catalogs live in the phases subpackage; anomaly protocols in
// the gap subpackage.
package workflow

import (
	"time"

	"github.com/google/uuid"
)

// Path identifies which phase catalog a workflow follows.
type Path string

const (
	// PathInitiating is the filing path for party-initiated motions.
	PathInitiating Path = "initiating"

	// PathOpposition is the filing path for responses to an opposing filing.
	PathOpposition Path = "opposition"
)

// Valid reports whether p is a known path.
func (p Path) Valid() bool {
	return p == PathInitiating || p == PathOpposition
}

// Status is the lifecycle status of a workflow.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusCompleted  Status = "completed"
)

// Terminal reports whether the status is a terminal state. Workflows are
// never deleted, only terminated.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusBlocked
}

// Tier classifies the complexity and risk of the underlying motion. It
// parameterizes quality thresholds and citation minimums.
type Tier string

const (
	// TierProcedural covers low-complexity procedural motions.
	TierProcedural Tier = "procedural"

	// TierStandard covers ordinary substantive motions.
	TierStandard Tier = "standard"

	// TierDispositive covers dispositive motions (summary judgment,
	// dismissal), which carry the highest quality bar.
	TierDispositive Tier = "dispositive"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierProcedural, TierStandard, TierDispositive:
		return true
	}
	return false
}

// Workflow is one production run for a single order. At most one
// non-terminal workflow exists per order; the engine is the only mutator.
type Workflow struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Path    Path   `json:"path"`
	Tier    Tier   `json:"tier"`

	// CurrentPhase is the phase pointer. Fractional values denote
	// sub-phases (5.1 for code "V.1").
	CurrentPhase float64 `json:"current_phase"`

	Status        Status         `json:"status"`
	ErrorCount    int            `json:"error_count"`
	LastError     string         `json:"last_error,omitempty"`
	CitationCount int            `json:"citation_count"`
	QualityScore  float64        `json:"quality_score"`
	BlockedReason string         `json:"blocked_reason,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`

	// Version supports optimistic locking in the store. Every persisted
	// update increments it; a stale update is rejected.
	Version int `json:"version"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// NewWorkflow creates a workflow at the first phase of the given path.
func NewWorkflow(orderID string, path Path, tier Tier) *Workflow {
	now := time.Now().UTC()
	return &Workflow{
		ID:             uuid.New().String(),
		OrderID:        orderID,
		Path:           path,
		Tier:           tier,
		CurrentPhase:   1,
		Status:         StatusPending,
		Metadata:       map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
}

// PhaseStatus is the status of a single phase execution.
type PhaseStatus string

const (
	PhasePending              PhaseStatus = "pending"
	PhaseInProgress           PhaseStatus = "in_progress"
	PhaseCompleted            PhaseStatus = "completed"
	PhaseCompletedWithWarning PhaseStatus = "completed_with_warning"
	PhaseBlocked              PhaseStatus = "blocked"
	PhaseRequiresReview       PhaseStatus = "requires_review"
	PhaseFailed               PhaseStatus = "failed"
)

// Done reports whether the phase execution reached a completion status
// usable as input for later phases.
func (s PhaseStatus) Done() bool {
	return s == PhaseCompleted || s == PhaseCompletedWithWarning
}

// PhaseExecution is one row per (workflow, phase) pair. Status transitions
// are monotonic except for revision-loop retries, which re-enter
// in_progress with an incremented retry count.
type PhaseExecution struct {
	ID          string  `json:"id"`
	WorkflowID  string  `json:"workflow_id"`
	PhaseNumber float64 `json:"phase_number"`
	PhaseCode   string  `json:"phase_code"`

	Status PhaseStatus    `json:"status"`
	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`

	// QualityScore is nil until the phase handler produces one.
	QualityScore   *float64 `json:"quality_score,omitempty"`
	RequiresReview bool     `json:"requires_review"`
	RetryCount     int      `json:"retry_count"`
	ErrorMessage   string   `json:"error_message,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewPhaseExecution creates an in_progress execution for the given phase.
func NewPhaseExecution(workflowID string, number float64, code string, input map[string]any) *PhaseExecution {
	return &PhaseExecution{
		ID:          uuid.New().String(),
		WorkflowID:  workflowID,
		PhaseNumber: number,
		PhaseCode:   code,
		Status:      PhaseInProgress,
		Input:       input,
		StartedAt:   time.Now().UTC(),
	}
}

// Output keys with engine-level meaning. Handlers and the engine use these
// to mark skipped phases, degraded deliveries, and unparseable completion
// output that was preserved verbatim.
const (
	OutputKeySkipped           = "skipped"
	OutputKeyDegradedDelivery  = "degraded_delivery"
	OutputKeyReducedConfidence = "reduced_confidence"
	OutputKeyParseFailure      = "parse_failure"
	OutputKeyRawContent        = "raw_content"
	OutputKeyRevisionCount     = "revision_count"
	OutputKeyRevisionRequested = "revision_requested"
)
