package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/briefmill/briefmill/checkpoint"
	"github.com/briefmill/briefmill/grading"
	"github.com/briefmill/briefmill/storage"
	"github.com/briefmill/briefmill/workflow"
	"github.com/briefmill/briefmill/workflow/gap"
	"github.com/briefmill/briefmill/workflow/phases"
)

// checkpointHold reports whether a blocking checkpoint from an earlier
// phase holds the workflow. Only checkpoints triggered by phases before the
// current pointer gate forward progress; a rewound workflow re-runs its
// triggering phase without being held by its own checkpoint.
func (e *Engine) checkpointHold(ctx context.Context, wf *workflow.Workflow, def phases.Definition) (*PhaseOutcome, bool, error) {
	instances, err := e.checkpoints.ListByWorkflow(ctx, wf.ID)
	if err != nil {
		return nil, false, fmt.Errorf("list checkpoints: %w", err)
	}

	var latest *checkpoint.Instance
	for _, inst := range instances {
		if !inst.Blocking {
			continue
		}
		cdef, ok := checkpoint.Lookup(inst.CheckpointCode)
		if !ok || cdef.Phase >= wf.CurrentPhase {
			continue
		}
		if latest == nil || inst.CreatedAt.After(latest.CreatedAt) {
			latest = inst
		}
	}
	if latest == nil || latest.AllowsAdvance() {
		return nil, false, nil
	}

	if latest.State == checkpoint.StateResolved && latest.Resolution == checkpoint.ResolutionCancelled {
		reason := fmt.Sprintf("order cancelled at checkpoint %s", latest.CheckpointCode)
		e.blockWorkflow(ctx, wf, reason)
		return &PhaseOutcome{
			WorkflowID:  wf.ID,
			PhaseNumber: def.Number,
			PhaseCode:   def.Code,
			Status:      workflow.PhaseBlocked,
			Reason:      reason,
		}, true, nil
	}

	reason := fmt.Sprintf("waiting on checkpoint %s", latest.CheckpointCode)
	e.logger.Info("workflow held at checkpoint",
		"workflow_id", wf.ID, "checkpoint", string(latest.CheckpointCode))
	return &PhaseOutcome{
		WorkflowID:  wf.ID,
		PhaseNumber: def.Number,
		PhaseCode:   def.Code,
		Status:      workflow.PhasePending,
		Waiting:     true,
		Reason:      reason,
	}, true, nil
}

// pendingBlocking returns any unresolved blocking checkpoint instance for
// the workflow, or nil.
func (e *Engine) pendingBlocking(ctx context.Context, workflowID string) (*checkpoint.Instance, error) {
	instances, err := e.checkpoints.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	for _, inst := range instances {
		if inst.Blocking && inst.State == checkpoint.StatePending {
			return inst, nil
		}
	}
	return nil, nil
}

// recordCheckpoint creates the checkpoint instance triggered by completing
// def. The evidence-gap hold is conditional: it is raised only when the
// mapping phase actually reported open gaps.
func (e *Engine) recordCheckpoint(ctx context.Context, wf *workflow.Workflow, def phases.Definition, exec *workflow.PhaseExecution) error {
	cdef, ok := checkpoint.ForPhase(def.Number)
	if !ok {
		e.logger.Warn("phase marked as checkpoint but no definition found",
			"phase", def.Code)
		return nil
	}
	if cdef.Code == checkpoint.EvidenceGapHold && !hasEvidenceGaps(exec.Output) {
		e.logger.Info("evidence mapping found no gaps; hold not raised",
			"workflow_id", wf.ID)
		return nil
	}

	inst := checkpoint.NewInstance(wf.ID, cdef)
	if err := e.checkpoints.Create(ctx, inst); err != nil {
		return fmt.Errorf("record checkpoint %s: %w", cdef.Code, err)
	}
	if e.metrics != nil {
		e.metrics.CheckpointsRaised.WithLabelValues(string(cdef.Code)).Inc()
	}
	if e.notifier != nil {
		e.notifier.CheckpointReached(ctx, wf, inst)
	}
	e.logger.Info("checkpoint reached",
		"workflow_id", wf.ID,
		"checkpoint", string(cdef.Code),
		"blocking", cdef.Blocking)
	return nil
}

func hasEvidenceGaps(output map[string]any) bool {
	switch v := output["evidence_gaps"].(type) {
	case bool:
		return v
	case []any:
		return len(v) > 0
	case []string:
		return len(v) > 0
	case float64:
		return v > 0
	}
	return false
}

// ResolveCheckpoint applies an external resolution action to a pending
// blocking checkpoint. Cancellation terminates the workflow;
// request_changes rewinds the pointer to the triggering phase so it runs
// again.
func (e *Engine) ResolveCheckpoint(ctx context.Context, workflowID string, code checkpoint.Code, res checkpoint.Resolution, note string) error {
	unlock := e.locks.lock(workflowID)
	defer unlock()

	inst, err := e.checkpoints.GetByCode(ctx, workflowID, code)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", code, err)
	}
	if inst.State != checkpoint.StatePending {
		return fmt.Errorf("checkpoint %s is not pending", code)
	}
	if !inst.Resolve(res, note) {
		return fmt.Errorf("invalid resolution %q for checkpoint %s", res, code)
	}
	if err := e.checkpoints.Update(ctx, inst); err != nil {
		return fmt.Errorf("persist checkpoint resolution: %w", err)
	}

	wf, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}

	switch res {
	case checkpoint.ResolutionCancelled:
		e.blockWorkflow(ctx, wf, fmt.Sprintf("order cancelled at checkpoint %s", code))
		return nil
	case checkpoint.ResolutionRequestChanges:
		cdef, ok := checkpoint.Lookup(code)
		if !ok {
			return fmt.Errorf("unknown checkpoint code %q", code)
		}
		exec, err := e.phaseStore.Get(ctx, workflowID, cdef.Phase)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load phase execution: %w", err)
		}
		if exec != nil {
			exec.Status = workflow.PhasePending
			exec.ErrorMessage = fmt.Sprintf("customer requested changes: %s", note)
			if err := e.phaseStore.Update(ctx, exec); err != nil {
				return fmt.Errorf("reset phase execution: %w", err)
			}
		}
		wf.CurrentPhase = cdef.Phase
		wf.Status = workflow.StatusInProgress
		wf.LastActivityAt = time.Now().UTC()
		if err := e.workflows.Update(ctx, wf); err != nil {
			return fmt.Errorf("rewind workflow: %w", err)
		}
		e.logger.Info("checkpoint resolved with changes requested",
			"workflow_id", workflowID, "checkpoint", string(code), "rewound_to", cdef.Phase)
		return nil
	default:
		wf.LastActivityAt = time.Now().UTC()
		if err := e.workflows.Update(ctx, wf); err != nil {
			return fmt.Errorf("persist workflow: %w", err)
		}
		e.logger.Info("checkpoint resolved",
			"workflow_id", workflowID, "checkpoint", string(code), "resolution", string(res))
		return nil
	}
}

// RetryPhase is the operator action that unblocks a workflow and queues
// its current phase for re-execution. The engine never retries a blocked
// or failed phase on its own.
func (e *Engine) RetryPhase(ctx context.Context, workflowID string) error {
	unlock := e.locks.lock(workflowID)
	defer unlock()

	wf, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}
	if wf.Status != workflow.StatusBlocked {
		return fmt.Errorf("workflow %s is %s, not blocked", workflowID, wf.Status)
	}

	exec, err := e.phaseStore.Get(ctx, workflowID, wf.CurrentPhase)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load phase execution: %w", err)
	}
	if exec != nil && !exec.Status.Done() {
		exec.Status = workflow.PhasePending
		if err := e.phaseStore.Update(ctx, exec); err != nil {
			return fmt.Errorf("reset phase execution: %w", err)
		}
	}

	wf.Status = workflow.StatusInProgress
	wf.BlockedReason = ""
	wf.LastActivityAt = time.Now().UTC()
	if err := e.workflows.Update(ctx, wf); err != nil {
		return fmt.Errorf("unblock workflow: %w", err)
	}
	e.logger.Info("workflow unblocked for retry",
		"workflow_id", workflowID, "phase", wf.CurrentPhase)
	return nil
}

// ingestCitations pulls citation strings out of a research phase's output
// and creates ledger records for them.
func (e *Engine) ingestCitations(ctx context.Context, wf *workflow.Workflow, exec *workflow.PhaseExecution) error {
	raws := stringSlice(exec.Output["citations"])
	if len(raws) == 0 {
		return nil
	}
	records, err := e.citations.Ingest(ctx, wf.ID, exec.ID, raws)
	if err != nil {
		return fmt.Errorf("ingest citations: %w", err)
	}
	wf.CitationCount += len(records)
	e.logger.Info("citations ingested",
		"workflow_id", wf.ID, "count", len(records))
	return nil
}

// enforceCitationGate runs the staged verification pass and then the
// hard-stop check. A deficient verified count blocks the workflow with the
// exact counts in the reason; it never fails soft.
func (e *Engine) enforceCitationGate(ctx context.Context, wf *workflow.Workflow, def phases.Definition, exec *workflow.PhaseExecution, prior map[string]any) (*PhaseOutcome, bool, error) {
	usage, _ := prior["content"].(string)
	if err := e.citations.VerifyWorkflow(ctx, wf.ID, usage); err != nil {
		out, ferr := e.failPhase(ctx, wf, def, exec, fmt.Errorf("citation verification: %w", err))
		return out, true, ferr
	}

	minimum := e.policy.CitationMinimum(wf.Tier)
	res, err := e.gate.CheckCitationRequirement(ctx, wf.ID, minimum)
	if err != nil {
		return nil, false, fmt.Errorf("citation gate: %w", err)
	}
	wf.CitationCount = res.CurrentCount
	exec.Output["verified_count"] = res.VerifiedCount
	exec.Output["citation_minimum"] = res.Minimum

	// Surface per-citation anomalies through the gap protocols regardless
	// of the gate verdict.
	records, err := e.ledger.ListByWorkflow(ctx, wf.ID)
	if err != nil {
		return nil, false, fmt.Errorf("list citations: %w", err)
	}
	detector := &gap.Detector{WordLimit: e.wordLimit, CitationMinimum: minimum}
	if events := detector.ScanCitations(wf.ID, def.Code, records); len(events) > 0 {
		if _, err := e.gaps.Process(ctx, events); err != nil {
			e.logger.Error("gap processing failed",
				"workflow_id", wf.ID, "error", err)
		}
	}

	if res.Meets {
		return nil, false, nil
	}

	if e.metrics != nil {
		e.metrics.GateFailures.Inc()
	}
	exec.Status = workflow.PhaseRequiresReview
	exec.RequiresReview = true
	exec.ErrorMessage = res.Reason
	now := time.Now().UTC()
	exec.CompletedAt = &now
	if err := e.phaseStore.Update(ctx, exec); err != nil {
		return nil, false, fmt.Errorf("persist phase execution: %w", err)
	}
	e.blockWorkflow(ctx, wf, res.Reason)
	e.countPhase(wf, def, workflow.PhaseRequiresReview)
	e.logger.Warn("citation hard stop",
		"workflow_id", wf.ID,
		"verified", res.VerifiedCount,
		"minimum", res.Minimum)
	return e.outcome(wf, def, workflow.PhaseRequiresReview, exec.Output, false, res.Reason), true, nil
}

// enforceQualityGate grades the output and drives the bounded revision
// loop. Exhausting the loop never fails the workflow: delivery degrades,
// with the reduced confidence recorded on the execution.
func (e *Engine) enforceQualityGate(ctx context.Context, wf *workflow.Workflow, def phases.Definition, exec *workflow.PhaseExecution, prior map[string]any, status *workflow.PhaseStatus) (*PhaseOutcome, bool, error) {
	if exec.QualityScore == nil {
		if pf, _ := exec.Output[workflow.OutputKeyParseFailure].(bool); pf {
			// Unparseable grading output was preserved verbatim; the phase
			// completes with a warning and an operator reads the raw text.
			*status = workflow.PhaseCompletedWithWarning
			exec.RequiresReview = true
			return nil, false, nil
		}
		out, ferr := e.failPhase(ctx, wf, def, exec, fmt.Errorf("grading produced no quality score"))
		return out, true, ferr
	}

	score := *exec.QualityScore
	issues := parseIssues(exec.Output)
	threshold := e.policy.Threshold(wf.Tier)

	loops := 0
	for !e.policy.MeetsThreshold(score, wf.Tier) && loops < e.policy.MaxRevisionLoops {
		loops++
		exec.Output[workflow.OutputKeyRevisionRequested] = true
		if e.metrics != nil {
			e.metrics.RevisionLoops.Inc()
		}
		e.logger.Info("revision loop",
			"workflow_id", wf.ID,
			"loop", loops,
			"score", score,
			"threshold", threshold)

		revPrior := map[string]any{}
		for k, v := range prior {
			revPrior[k] = v
		}
		if content, ok := exec.Output["content"].(string); ok && content != "" {
			revPrior["content"] = content
		}
		revPrior["revision_loop"] = loops
		revPrior["previous_score"] = score
		if fb, ok := exec.Output["feedback"]; ok {
			revPrior["revision_feedback"] = fb
		}

		rres, rerr := e.handlers[phases.TaskRevision].Execute(ctx, &PhaseContext{
			Workflow:   wf,
			Definition: def,
			Prior:      revPrior,
			Execution:  exec,
		})
		if rerr != nil || rres == nil || !rres.Success {
			if rerr == nil {
				rerr = fmt.Errorf("revision handler reported failure")
			}
			out, ferr := e.failPhase(ctx, wf, def, exec, fmt.Errorf("revision loop %d: %w", loops, rerr))
			return out, true, ferr
		}
		if rres.QualityScore == nil {
			out, ferr := e.failPhase(ctx, wf, def, exec, fmt.Errorf("revision loop %d produced no quality score", loops))
			return out, true, ferr
		}

		score = *rres.QualityScore
		issues = parseIssues(rres.Output)
		if content, ok := rres.Output["content"].(string); ok && content != "" {
			exec.Output["content"] = content
		}
		if fb, ok := rres.Output["feedback"]; ok {
			exec.Output["feedback"] = fb
		}
	}

	sc := score
	exec.QualityScore = &sc
	wf.QualityScore = score
	exec.Output[workflow.OutputKeyRevisionCount] = loops

	eval := e.policy.Evaluate(score, wf.Tier, issues)
	exec.Output["grade"] = string(eval.Grade.Letter)

	if len(eval.CriticalIssues) > 0 {
		// Critical issues veto the score outright; no degraded delivery.
		reason := fmt.Sprintf("critical issue: %s", eval.CriticalIssues[0].Description)
		exec.Status = workflow.PhaseRequiresReview
		exec.RequiresReview = true
		exec.ErrorMessage = reason
		now := time.Now().UTC()
		exec.CompletedAt = &now
		if err := e.phaseStore.Update(ctx, exec); err != nil {
			return nil, false, fmt.Errorf("persist phase execution: %w", err)
		}
		e.blockWorkflow(ctx, wf, reason)
		e.countPhase(wf, def, workflow.PhaseRequiresReview)
		return e.outcome(wf, def, workflow.PhaseRequiresReview, exec.Output, false, reason), true, nil
	}

	if !e.policy.MeetsThreshold(score, wf.Tier) {
		exec.Output[workflow.OutputKeyDegradedDelivery] = true
		exec.Output[workflow.OutputKeyReducedConfidence] = true
		*status = workflow.PhaseCompletedWithWarning
		if wf.Metadata == nil {
			wf.Metadata = map[string]any{}
		}
		wf.Metadata[workflow.OutputKeyDegradedDelivery] = true
		if e.metrics != nil {
			e.metrics.DegradedDelivery.Inc()
		}
		e.logger.Warn("revision loop exhausted; delivering degraded",
			"workflow_id", wf.ID,
			"final_score", score,
			"threshold", threshold,
			"loops", loops)
		return nil, false, nil
	}

	*status = workflow.PhaseCompleted
	return nil, false, nil
}

// scanDraft runs structural gap detection over a draft or revision output.
func (e *Engine) scanDraft(ctx context.Context, wf *workflow.Workflow, def phases.Definition, exec *workflow.PhaseExecution) {
	content, _ := exec.Output["content"].(string)
	if content == "" {
		return
	}
	detector := &gap.Detector{
		WordLimit:       e.wordLimit,
		CitationMinimum: e.policy.CitationMinimum(wf.Tier),
	}
	events := detector.ScanDraft(wf.ID, def.Code, content)
	e.processGaps(ctx, wf, exec, events)
}

// scanAssembly checks the assembled filing for jurisdiction-required
// components.
func (e *Engine) scanAssembly(ctx context.Context, wf *workflow.Workflow, def phases.Definition, exec *workflow.PhaseExecution) {
	content, _ := exec.Output["content"].(string)
	if content == "" {
		return
	}
	detector := &gap.Detector{
		WordLimit:       e.wordLimit,
		CitationMinimum: e.policy.CitationMinimum(wf.Tier),
	}
	events := detector.ScanAssembly(wf.ID, def.Code, e.jurisdiction, content)
	e.processGaps(ctx, wf, exec, events)
}

func (e *Engine) processGaps(ctx context.Context, wf *workflow.Workflow, exec *workflow.PhaseExecution, events []*gap.Event) {
	if len(events) == 0 {
		return
	}
	escalated, err := e.gaps.Process(ctx, events)
	if err != nil {
		e.logger.Error("gap processing failed",
			"workflow_id", wf.ID, "error", err)
		return
	}
	if len(escalated) > 0 {
		exec.Output["gap_escalations"] = len(escalated)
	}
}

// parseIssues extracts reviewer issues from a grading output. Structured
// decoding yields []any of maps; regex recovery may yield nothing.
func parseIssues(output map[string]any) []grading.Issue {
	raw, ok := output["issues"].([]any)
	if !ok {
		return nil
	}
	var issues []grading.Issue
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		issue := grading.Issue{}
		if s, ok := m["severity"].(string); ok {
			issue.Severity = s
		}
		if d, ok := m["description"].(string); ok {
			issue.Description = d
		}
		if issue.Severity != "" || issue.Description != "" {
			issues = append(issues, issue)
		}
	}
	return issues
}

func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		var out []string
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
