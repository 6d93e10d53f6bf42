// Package checkpoint defines the pipeline's pause points and their
// resolution semantics. Notification checkpoints record a milestone and let
// the pipeline continue; blocking checkpoints halt phase advancement until
// an explicit external resolution is recorded.
package checkpoint

import (
	"time"

	"github.com/google/uuid"
)

// Code identifies a checkpoint in the static catalog.
type Code string

const (
	IntakeComplete   Code = "intake_complete"
	ResearchComplete Code = "research_complete"
	EvidenceGapHold  Code = "evidence_gap_hold"
	DraftComplete    Code = "draft_complete"
	FinalApproval    Code = "final_approval"
)

// Definition maps a checkpoint to its triggering phase and blocking mode.
type Definition struct {
	Code Code

	// Phase is the phase number whose completion triggers the checkpoint.
	Phase float64

	// Blocking checkpoints halt advancement until resolved; notification
	// checkpoints only record that the milestone was reached.
	Blocking bool

	Description string
}

// catalog is the static checkpoint map. Two blocking holds: the
// mid-pipeline evidence gap hold and the pre-delivery approval gate.
var catalog = map[Code]Definition{
	IntakeComplete:   {Code: IntakeComplete, Phase: 1, Blocking: false, Description: "intake analysis complete, customer notified"},
	ResearchComplete: {Code: ResearchComplete, Phase: 3, Blocking: false, Description: "authority research complete"},
	EvidenceGapHold:  {Code: EvidenceGapHold, Phase: 4, Blocking: true, Description: "evidence mapping hold: customer must close evidence gaps"},
	DraftComplete:    {Code: DraftComplete, Phase: 5, Blocking: false, Description: "argument draft complete"},
	FinalApproval:    {Code: FinalApproval, Phase: 9, Blocking: true, Description: "final attorney approval before delivery"},
}

// Lookup returns the definition for a code.
func Lookup(c Code) (Definition, bool) {
	d, ok := catalog[c]
	return d, ok
}

// ForPhase returns the checkpoint triggered by completing the given phase,
// if any.
func ForPhase(phase float64) (Definition, bool) {
	for _, d := range catalog {
		if d.Phase == phase {
			return d, true
		}
	}
	return Definition{}, false
}

// Resolution is an external action recorded against a blocking checkpoint.
type Resolution string

const (
	ResolutionApproved         Resolution = "approved"
	ResolutionRequestChanges   Resolution = "request_changes"
	ResolutionCancelled        Resolution = "cancelled"
	ResolutionCustomerResponse Resolution = "customer_response"
)

// Valid reports whether r is a known resolution action.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionApproved, ResolutionRequestChanges, ResolutionCancelled, ResolutionCustomerResponse:
		return true
	}
	return false
}

// State tracks a checkpoint instance through its lifetime.
type State string

const (
	StatePending  State = "pending"
	StateResolved State = "resolved"
)

// Instance is one recorded checkpoint occurrence for a workflow. "No
// resolution yet" (pending) and "resolution = cancelled" are distinct:
// pending is a waiting state, cancelled is terminal for the workflow.
type Instance struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflow_id"`
	CheckpointCode Code       `json:"checkpoint_code"`
	Blocking       bool       `json:"blocking"`
	State          State      `json:"state"`
	Resolution     Resolution `json:"resolution,omitempty"`
	Note           string     `json:"note,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// NewInstance records a checkpoint occurrence. Notification checkpoints are
// created already resolved; blocking checkpoints start pending.
func NewInstance(workflowID string, def Definition) *Instance {
	inst := &Instance{
		ID:             uuid.New().String(),
		WorkflowID:     workflowID,
		CheckpointCode: def.Code,
		Blocking:       def.Blocking,
		State:          StatePending,
		CreatedAt:      time.Now().UTC(),
	}
	if !def.Blocking {
		now := inst.CreatedAt
		inst.State = StateResolved
		inst.ResolvedAt = &now
	}
	return inst
}

// Resolve records an external resolution action on a pending instance.
func (i *Instance) Resolve(r Resolution, note string) bool {
	if i.State != StatePending || !r.Valid() {
		return false
	}
	now := time.Now().UTC()
	i.State = StateResolved
	i.Resolution = r
	i.Note = note
	i.ResolvedAt = &now
	return true
}

// AllowsAdvance reports whether the instance permits the engine to move
// past it. Pending blocking instances and cancellations never allow
// advancement; request_changes sends the workflow back through review, so
// it also holds.
func (i *Instance) AllowsAdvance() bool {
	if !i.Blocking {
		return true
	}
	if i.State != StateResolved {
		return false
	}
	switch i.Resolution {
	case ResolutionApproved, ResolutionCustomerResponse:
		return true
	default:
		return false
	}
}
