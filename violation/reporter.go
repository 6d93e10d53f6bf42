// Package violation records and surfaces critical control-flow violations:
// attempted phase skips, bypass attempts, and escalated gaps. Reporting is
// fire and forget — audit persistence and event emission failures are
// logged and swallowed, never propagated to the caller.
package violation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Severity classifies a violation.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Record is an immutable audit entry. Resolution is recorded as a separate
// field update, never a rewrite.
type Record struct {
	ID             string    `json:"id"`
	WorkflowID     string    `json:"workflow_id"`
	Severity       Severity  `json:"severity"`
	AttemptedPhase float64   `json:"attempted_phase,omitempty"`
	Reason         string    `json:"reason"`
	Resolved       bool      `json:"resolved"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditStore persists violation records and applies the forced block.
type AuditStore interface {
	CreateViolation(ctx context.Context, rec *Record) error

	// BlockWorkflow forces the workflow into blocked status with the given
	// reason for mandatory human review.
	BlockWorkflow(ctx context.Context, workflowID, reason string) error
}

// OrderContext carries the identifying context of the violating operation.
type OrderContext struct {
	WorkflowID     string  `json:"workflow_id"`
	OrderID        string  `json:"order_id,omitempty"`
	AttemptedPhase float64 `json:"attempted_phase,omitempty"`
}

// Event is the message published on the violation subject.
type Event struct {
	Record  Record       `json:"record"`
	Context OrderContext `json:"context"`
}

// subjectPrefix is the NATS subject root for violation events.
const subjectPrefix = "briefmill.violation"

// Reporter records violations. It is the only subsystem permitted to
// unilaterally halt an otherwise healthy workflow outside the normal
// phase-failure path.
type Reporter struct {
	store  AuditStore
	nc     *nats.Conn // nil disables event emission
	logger *slog.Logger

	// production controls the CRITICAL force-block behavior. Development
	// deployments record the violation without pausing the workflow.
	production bool
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithNATS attaches a NATS connection for side-channel event emission.
func WithNATS(nc *nats.Conn) Option {
	return func(r *Reporter) {
		r.nc = nc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reporter) {
		r.logger = logger
	}
}

// WithProductionMode enables the CRITICAL force-block.
func WithProductionMode(enabled bool) Option {
	return func(r *Reporter) {
		r.production = enabled
	}
}

// NewReporter creates a reporter over the given audit store.
func NewReporter(store AuditStore, opts ...Option) *Reporter {
	r := &Reporter{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report records a violation. It always succeeds from the caller's point of
// view: persistence and publish failures are logged, and for CRITICAL
// severity in production the owning workflow is forced into blocked status.
func (r *Reporter) Report(ctx context.Context, severity Severity, orderCtx OrderContext, reason string) {
	rec := &Record{
		ID:             uuid.New().String(),
		WorkflowID:     orderCtx.WorkflowID,
		Severity:       severity,
		AttemptedPhase: orderCtx.AttemptedPhase,
		Reason:         reason,
		CreatedAt:      time.Now().UTC(),
	}

	r.logger.Warn("Control-flow violation",
		"workflow_id", orderCtx.WorkflowID,
		"severity", string(severity),
		"attempted_phase", orderCtx.AttemptedPhase,
		"reason", reason)

	if err := r.store.CreateViolation(ctx, rec); err != nil {
		r.logger.Error("Failed to persist violation record",
			"workflow_id", orderCtx.WorkflowID,
			"error", err)
	}

	r.publish(rec, orderCtx)

	if severity == SeverityCritical && r.production {
		blockReason := fmt.Sprintf("critical violation: %s", reason)
		if err := r.store.BlockWorkflow(ctx, orderCtx.WorkflowID, blockReason); err != nil {
			r.logger.Error("Failed to block workflow after critical violation",
				"workflow_id", orderCtx.WorkflowID,
				"error", err)
		}
	}
}

// Escalate satisfies the gap engine's escalation surface. Escalated gap
// protocols report at HIGH severity: they require human attention but are
// not control-flow bypasses.
func (r *Reporter) Escalate(ctx context.Context, workflowID, phaseCode, reason string) {
	r.Report(ctx, SeverityHigh, OrderContext{WorkflowID: workflowID}, fmt.Sprintf("phase %s: %s", phaseCode, reason))
}

// publish emits the violation event on NATS. Best effort only.
func (r *Reporter) publish(rec *Record, orderCtx OrderContext) {
	if r.nc == nil {
		return
	}
	payload, err := json.Marshal(Event{Record: *rec, Context: orderCtx})
	if err != nil {
		r.logger.Error("Failed to marshal violation event", "error", err)
		return
	}
	subject := fmt.Sprintf("%s.%s", subjectPrefix, rec.Severity)
	if err := r.nc.Publish(subject, payload); err != nil {
		r.logger.Warn("Failed to publish violation event",
			"subject", subject,
			"error", err)
	}
}
