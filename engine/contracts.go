// Package engine implements the phase execution engine: the state machine
// that drives a workflow through its path's phase catalog, applies the
// quality and citation gates, runs the bounded revision loop, and honors
// checkpoints. Handlers are pure with respect to engine state: they receive
// context and emit outcomes, and all persistence happens here so a handler
// crash leaves no partial writes.
package engine

import (
	"context"

	"github.com/briefmill/briefmill/checkpoint"
	"github.com/briefmill/briefmill/workflow"
	"github.com/briefmill/briefmill/workflow/phases"
)

// WorkflowStore is the engine's persistence surface for workflows. Updates
// must be atomic and conflict-checked; the storage package's SQLite
// implementation uses a version column.
type WorkflowStore interface {
	Get(ctx context.Context, id string) (*workflow.Workflow, error)
	Update(ctx context.Context, wf *workflow.Workflow) error
	ListByStatus(ctx context.Context, status workflow.Status) ([]*workflow.Workflow, error)
}

// PhaseStore persists phase executions.
type PhaseStore interface {
	Create(ctx context.Context, pe *workflow.PhaseExecution) error
	Update(ctx context.Context, pe *workflow.PhaseExecution) error
	Get(ctx context.Context, workflowID string, phaseNumber float64) (*workflow.PhaseExecution, error)
	ListCompleted(ctx context.Context, workflowID string) ([]*workflow.PhaseExecution, error)
}

// CheckpointStore persists checkpoint instances.
type CheckpointStore interface {
	Create(ctx context.Context, inst *checkpoint.Instance) error
	Update(ctx context.Context, inst *checkpoint.Instance) error
	GetByCode(ctx context.Context, workflowID string, code checkpoint.Code) (*checkpoint.Instance, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*checkpoint.Instance, error)
}

// PhaseContext is everything a handler may see: the workflow, the phase
// definition, and the merged outputs of previously completed phases.
// Handlers never see later-phase outputs and never touch the store.
type PhaseContext struct {
	Workflow   *workflow.Workflow
	Definition phases.Definition

	// Prior merges completed phases' outputs in phase order, so later
	// phases overwrite same-named keys from earlier ones.
	Prior map[string]any

	// Execution is the in-flight execution row, exposed read-only for its
	// identifiers and retry count.
	Execution *workflow.PhaseExecution
}

// HandlerResult is the phase handler contract: the only surface an
// implementer of a new phase type must satisfy.
type HandlerResult struct {
	Success bool

	// Status is the phase status the handler proposes; the engine may
	// tighten it (never loosen) based on gates.
	Status workflow.PhaseStatus

	Output map[string]any

	// QualityScore is nil when the phase kind produces no score.
	QualityScore *float64

	RequiresReview bool
	Err            error
}

// Handler executes one phase kind.
type Handler interface {
	Execute(ctx context.Context, pc *PhaseContext) (*HandlerResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, pc *PhaseContext) (*HandlerResult, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, pc *PhaseContext) (*HandlerResult, error) {
	return f(ctx, pc)
}

// PhaseOutcome is what ExecutePhase reports back to callers.
type PhaseOutcome struct {
	WorkflowID  string               `json:"workflow_id"`
	PhaseNumber float64              `json:"phase_number"`
	PhaseCode   string               `json:"phase_code"`
	Status      workflow.PhaseStatus `json:"status"`
	Output      map[string]any       `json:"output,omitempty"`

	// Advanced is true when the phase pointer moved forward.
	Advanced bool `json:"advanced"`

	// Waiting is true when a pending blocking checkpoint held the
	// workflow; no work was performed.
	Waiting bool `json:"waiting"`

	// WorkflowCompleted is true when the final phase finished.
	WorkflowCompleted bool `json:"workflow_completed"`

	// Reason carries the actionable explanation for blocked or waiting
	// outcomes.
	Reason string `json:"reason,omitempty"`
}
