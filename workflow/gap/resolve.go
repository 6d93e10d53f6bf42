package gap

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EventStore persists gap closure events. Events are never deleted.
type EventStore interface {
	Create(ctx context.Context, e *Event) error
	Update(ctx context.Context, e *Event) error
	ListByWorkflow(ctx context.Context, workflowID string) ([]*Event, error)
}

// Escalator surfaces non-auto-resolvable protocols. The violation reporter
// satisfies this; its Report never fails from the caller's point of view.
type Escalator interface {
	Escalate(ctx context.Context, workflowID, phaseCode, reason string)
}

// Resolver routes detected events through their protocol's remediation.
type Resolver struct {
	store     EventStore
	escalator Escalator
	logger    *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(store EventStore, escalator Escalator) *Resolver {
	return &Resolver{
		store:     store,
		escalator: escalator,
		logger:    slog.Default(),
	}
}

// SetLogger sets the logger for the resolver.
func (r *Resolver) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// Process persists newly detected events and attempts resolution for each.
// Auto-resolvable protocols record the scripted action taken; the rest are
// escalated. Returns the events that required escalation.
func (r *Resolver) Process(ctx context.Context, events []*Event) ([]*Event, error) {
	var escalated []*Event
	for _, e := range events {
		if err := r.store.Create(ctx, e); err != nil {
			return escalated, fmt.Errorf("create gap event: %w", err)
		}

		entry, ok := Lookup(e.Protocol)
		if !ok {
			// Unknown protocol codes are a configuration error; surface
			// them loudly rather than guessing a remediation.
			return escalated, fmt.Errorf("unknown gap protocol %q on event %s", e.Protocol, e.ID)
		}

		if entry.AutoResolvable {
			if err := r.autoResolve(ctx, e, entry); err != nil {
				return escalated, err
			}
			continue
		}

		now := time.Now().UTC()
		e.State = StateEscalated
		e.ActionTaken = entry.Action
		e.ResolvedAt = &now
		if err := r.store.Update(ctx, e); err != nil {
			return escalated, fmt.Errorf("escalate gap event: %w", err)
		}
		if r.escalator != nil {
			r.escalator.Escalate(ctx, e.WorkflowID, e.PhaseCode,
				fmt.Sprintf("gap protocol %s (%s): %s", e.Protocol, entry.Name, e.Context))
		}
		escalated = append(escalated, e)

		r.logger.Warn("Gap escalated",
			"workflow_id", e.WorkflowID,
			"protocol", string(e.Protocol),
			"phase", e.PhaseCode,
			"context", e.Context)
	}
	return escalated, nil
}

// autoResolve applies the scripted remediation and records the action.
func (r *Resolver) autoResolve(ctx context.Context, e *Event, entry Entry) error {
	now := time.Now().UTC()
	e.State = StateAutoResolved
	e.ActionTaken = entry.Action
	e.ResolvedAt = &now
	if err := r.store.Update(ctx, e); err != nil {
		return fmt.Errorf("auto-resolve gap event: %w", err)
	}

	r.logger.Info("Gap auto-resolved",
		"workflow_id", e.WorkflowID,
		"protocol", string(e.Protocol),
		"action", entry.Action)
	return nil
}

// ResolveManually marks a pending or escalated event as manually resolved.
func (r *Resolver) ResolveManually(ctx context.Context, e *Event, note string) error {
	if e.State == StateAutoResolved || e.State == StateManualResolved {
		return fmt.Errorf("gap event %s already resolved (%s)", e.ID, e.State)
	}
	now := time.Now().UTC()
	e.State = StateManualResolved
	if note != "" {
		e.ActionTaken = note
	}
	e.ResolvedAt = &now
	if err := r.store.Update(ctx, e); err != nil {
		return fmt.Errorf("resolve gap event: %w", err)
	}
	return nil
}
