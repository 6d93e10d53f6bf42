package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/briefmill/briefmill/checkpoint"
	"github.com/briefmill/briefmill/citation"
	"github.com/briefmill/briefmill/grading"
	"github.com/briefmill/briefmill/storage"
	"github.com/briefmill/briefmill/violation"
	"github.com/briefmill/briefmill/workflow"
	"github.com/briefmill/briefmill/workflow/gap"
	"github.com/briefmill/briefmill/workflow/phases"
)

// ErrTerminal is returned when execution is requested on a workflow that
// already reached a terminal status.
var ErrTerminal = errors.New("workflow is terminal")

// keyedMutex serializes execution per workflow ID. Two schedulers racing on
// the same workflow would otherwise both pass the idempotence check.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*sync.Mutex{}}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Notifier receives checkpoint events for delivery to external channels.
// Delivery is fire and forget; the engine never blocks on it.
type Notifier interface {
	CheckpointReached(ctx context.Context, wf *workflow.Workflow, inst *checkpoint.Instance)
}

// Deps are the required collaborators of an Engine.
type Deps struct {
	Workflows   WorkflowStore
	Phases      PhaseStore
	Checkpoints CheckpointStore

	// Citations manages ingestion and verification; Ledger backs the
	// hard-stop gate's re-queries.
	Citations *citation.Service
	Ledger    citation.Ledger

	// Gaps processes detected anomalies through their protocols.
	Gaps *gap.Resolver

	Reporter *violation.Reporter
	Policy   grading.QualityPolicy
	Handlers map[phases.TaskType]Handler
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics attaches prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNotifier attaches a checkpoint notifier.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithWordLimit sets the draft word limit used by gap detection.
func WithWordLimit(limit int) Option {
	return func(e *Engine) { e.wordLimit = limit }
}

// WithJurisdiction sets the jurisdiction used for assembly checks.
func WithJurisdiction(j string) Option {
	return func(e *Engine) { e.jurisdiction = j }
}

// Engine drives workflows through their phase catalogs.
type Engine struct {
	workflows   WorkflowStore
	phaseStore  PhaseStore
	checkpoints CheckpointStore
	citations   *citation.Service
	gate        *citation.Gate
	ledger      citation.Ledger
	gaps        *gap.Resolver
	reporter    *violation.Reporter
	policy      grading.QualityPolicy
	handlers    map[phases.TaskType]Handler

	locks        *keyedMutex
	logger       *slog.Logger
	metrics      *Metrics
	notifier     Notifier
	wordLimit    int
	jurisdiction string
}

// NewEngine validates dependencies and the handler registry. A handler
// missing for any task type is a configuration error caught here, not at
// dispatch time.
func NewEngine(deps Deps, opts ...Option) (*Engine, error) {
	switch {
	case deps.Workflows == nil:
		return nil, fmt.Errorf("workflow store is required")
	case deps.Phases == nil:
		return nil, fmt.Errorf("phase store is required")
	case deps.Checkpoints == nil:
		return nil, fmt.Errorf("checkpoint store is required")
	case deps.Citations == nil:
		return nil, fmt.Errorf("citation service is required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("citation ledger is required")
	case deps.Gaps == nil:
		return nil, fmt.Errorf("gap resolver is required")
	case deps.Reporter == nil:
		return nil, fmt.Errorf("violation reporter is required")
	}
	if err := deps.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("quality policy: %w", err)
	}
	for _, task := range phases.AllTaskTypes {
		if _, ok := deps.Handlers[task]; !ok {
			return nil, fmt.Errorf("no handler registered for task type %q", task)
		}
	}

	e := &Engine{
		workflows:    deps.Workflows,
		phaseStore:   deps.Phases,
		checkpoints:  deps.Checkpoints,
		citations:    deps.Citations,
		gate:         citation.NewGate(deps.Ledger),
		ledger:       deps.Ledger,
		gaps:         deps.Gaps,
		reporter:     deps.Reporter,
		policy:       deps.Policy,
		handlers:     deps.Handlers,
		locks:        newKeyedMutex(),
		logger:       slog.Default(),
		wordLimit:    12000,
		jurisdiction: "federal",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ExecutePhase runs the workflow's current phase to a terminal phase
// status and advances the pointer on success. It is safe to call again
// after any outcome: re-invocation never duplicates side effects.
func (e *Engine) ExecutePhase(ctx context.Context, workflowID string) (*PhaseOutcome, error) {
	unlock := e.locks.lock(workflowID)
	defer unlock()
	return e.executeCurrent(ctx, workflowID)
}

// ExecutePhaseAt runs a specific phase number. A number other than the
// workflow's current phase is a control-flow violation: it is recorded at
// CRITICAL severity and the workflow is blocked.
func (e *Engine) ExecutePhaseAt(ctx context.Context, workflowID string, phaseNumber float64) (*PhaseOutcome, error) {
	unlock := e.locks.lock(workflowID)
	defer unlock()

	wf, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	if wf.Status.Terminal() {
		return nil, fmt.Errorf("workflow %s is %s: %w", wf.ID, wf.Status, ErrTerminal)
	}
	if phaseNumber != wf.CurrentPhase {
		reason := fmt.Sprintf("attempted phase %v while current phase %v is incomplete", phaseNumber, wf.CurrentPhase)
		e.reporter.Report(ctx, violation.SeverityCritical, violation.OrderContext{
			WorkflowID:     wf.ID,
			OrderID:        wf.OrderID,
			AttemptedPhase: phaseNumber,
		}, reason)
		if e.metrics != nil {
			e.metrics.Violations.WithLabelValues(string(violation.SeverityCritical)).Inc()
		}
		e.blockWorkflow(ctx, wf, reason)
		return &PhaseOutcome{
			WorkflowID:  wf.ID,
			PhaseNumber: phaseNumber,
			Status:      workflow.PhaseBlocked,
			Reason:      reason,
		}, nil
	}
	return e.executeCurrent(ctx, workflowID)
}

// Run executes phases until the workflow blocks, waits on a checkpoint, or
// completes.
func (e *Engine) Run(ctx context.Context, workflowID string) (*PhaseOutcome, error) {
	var last *PhaseOutcome
	for {
		out, err := e.ExecutePhase(ctx, workflowID)
		if err != nil {
			if errors.Is(err, ErrTerminal) && last != nil {
				return last, nil
			}
			return last, err
		}
		last = out
		if out.Waiting || out.WorkflowCompleted || !out.Advanced {
			return last, nil
		}
	}
}

// ProcessPending runs every pending and in-progress workflow once, in
// sequence. Sequential processing keeps completion-service load predictable.
func (e *Engine) ProcessPending(ctx context.Context) ([]*PhaseOutcome, error) {
	var outcomes []*PhaseOutcome
	for _, status := range []workflow.Status{workflow.StatusPending, workflow.StatusInProgress} {
		list, err := e.workflows.ListByStatus(ctx, status)
		if err != nil {
			return outcomes, fmt.Errorf("list %s workflows: %w", status, err)
		}
		for _, wf := range list {
			out, err := e.Run(ctx, wf.ID)
			if err != nil {
				e.logger.Error("workflow run failed", "workflow_id", wf.ID, "error", err)
				continue
			}
			if out != nil {
				outcomes = append(outcomes, out)
			}
		}
	}
	return outcomes, nil
}

func (e *Engine) executeCurrent(ctx context.Context, workflowID string) (*PhaseOutcome, error) {
	wf, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	if wf.Status.Terminal() {
		return nil, fmt.Errorf("workflow %s is %s: %w", wf.ID, wf.Status, ErrTerminal)
	}

	def, err := phases.ByNumber(wf.Path, wf.CurrentPhase)
	if err != nil {
		return nil, fmt.Errorf("phase catalog: %w", err)
	}

	// A pending blocking checkpoint from an earlier phase holds the
	// workflow without consuming any work.
	if out, held, err := e.checkpointHold(ctx, wf, def); err != nil {
		return nil, err
	} else if held {
		return out, nil
	}

	if wf.Status == workflow.StatusPending {
		wf.Status = workflow.StatusInProgress
	}

	completed, err := e.phaseStore.ListCompleted(ctx, wf.ID)
	if err != nil {
		return nil, fmt.Errorf("load completed phases: %w", err)
	}
	prior := mergeOutputs(completed)

	// Dependency validation. A miss here means the control flow was
	// subverted, which the pipeline treats as a critical violation.
	if missing := missingDependencies(def, completed); len(missing) > 0 {
		reason := fmt.Sprintf("phase %s requires completed phases %v; missing %v", def.Code, def.DependsOn, missing)
		e.reporter.Report(ctx, violation.SeverityCritical, violation.OrderContext{
			WorkflowID:     wf.ID,
			OrderID:        wf.OrderID,
			AttemptedPhase: def.Number,
		}, reason)
		if e.metrics != nil {
			e.metrics.Violations.WithLabelValues(string(violation.SeverityCritical)).Inc()
		}
		e.blockWorkflow(ctx, wf, reason)
		return e.outcome(wf, def, workflow.PhaseBlocked, nil, false, reason), nil
	}

	// Conditional phases whose trigger does not fire are recorded as
	// skipped and the pointer advances.
	if def.Conditional && (def.Trigger == nil || !def.Trigger(prior)) {
		return e.skipPhase(ctx, wf, def)
	}

	exec, err := e.claimExecution(ctx, wf, def)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		// An interrupted run or a completed run whose pointer update was
		// lost; recovery decides which.
		return e.recoverExecution(ctx, wf, def)
	}

	wf.LastActivityAt = time.Now().UTC()
	if err := e.workflows.Update(ctx, wf); err != nil {
		return nil, fmt.Errorf("persist workflow start: %w", err)
	}

	handler := e.handlers[def.Task]
	result, herr := handler.Execute(ctx, &PhaseContext{
		Workflow:   wf,
		Definition: def,
		Prior:      prior,
		Execution:  exec,
	})
	if herr != nil || result == nil || !result.Success {
		if herr == nil && result != nil && result.Err != nil {
			herr = result.Err
		}
		if herr == nil {
			herr = fmt.Errorf("handler reported failure")
		}
		return e.failPhase(ctx, wf, def, exec, herr)
	}

	exec.Output = result.Output
	if exec.Output == nil {
		exec.Output = map[string]any{}
	}
	exec.QualityScore = result.QualityScore
	exec.RequiresReview = result.RequiresReview
	status := result.Status
	if status == "" {
		status = workflow.PhaseCompleted
	}

	// Task-specific enforcement hooks. Each may rewrite the status or stop
	// the workflow entirely.
	switch def.Task {
	case phases.TaskAuthorityResearch:
		if err := e.ingestCitations(ctx, wf, exec); err != nil {
			return e.failPhase(ctx, wf, def, exec, err)
		}
	case phases.TaskCitationCheck:
		out, done, err := e.enforceCitationGate(ctx, wf, def, exec, prior)
		if err != nil {
			return nil, err
		}
		if done {
			return out, nil
		}
	case phases.TaskQualityGrade:
		out, done, err := e.enforceQualityGate(ctx, wf, def, exec, prior, &status)
		if err != nil {
			return nil, err
		}
		if done {
			return out, nil
		}
	case phases.TaskDrafting, phases.TaskRevision:
		e.scanDraft(ctx, wf, def, exec)
	case phases.TaskAssembly:
		e.scanAssembly(ctx, wf, def, exec)
	}

	if exec.RequiresReview && status.Done() && def.Task != phases.TaskQualityGrade {
		// A review flag outside the grading gate stops advancement until
		// an operator clears it.
		status = workflow.PhaseRequiresReview
	}

	if !status.Done() {
		exec.Status = status
		now := time.Now().UTC()
		exec.CompletedAt = &now
		if err := e.phaseStore.Update(ctx, exec); err != nil {
			return nil, fmt.Errorf("persist phase execution: %w", err)
		}
		reason := fmt.Sprintf("phase %s ended with status %s", def.Code, status)
		if exec.ErrorMessage != "" {
			reason = exec.ErrorMessage
		}
		e.blockWorkflow(ctx, wf, reason)
		e.countPhase(wf, def, status)
		return e.outcome(wf, def, status, exec.Output, false, reason), nil
	}

	return e.completePhase(ctx, wf, def, exec, status)
}

// claimExecution returns the execution row to run, creating one when none
// exists. A nil row with nil error means executeCurrent must take the
// recovery path instead of dispatching.
func (e *Engine) claimExecution(ctx context.Context, wf *workflow.Workflow, def phases.Definition) (*workflow.PhaseExecution, error) {
	existing, err := e.phaseStore.Get(ctx, wf.ID, def.Number)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		exec := workflow.NewPhaseExecution(wf.ID, def.Number, def.Code, nil)
		if err := e.phaseStore.Create(ctx, exec); err != nil {
			return nil, fmt.Errorf("create phase execution: %w", err)
		}
		return exec, nil
	case err != nil:
		return nil, fmt.Errorf("load phase execution: %w", err)
	}

	switch existing.Status {
	case workflow.PhasePending:
		existing.Status = workflow.PhaseInProgress
		existing.RetryCount++
		existing.StartedAt = time.Now().UTC()
		existing.CompletedAt = nil
		existing.ErrorMessage = ""
		if err := e.phaseStore.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("reclaim phase execution: %w", err)
		}
		return existing, nil
	case workflow.PhaseInProgress, workflow.PhaseCompleted, workflow.PhaseCompletedWithWarning:
		return nil, nil
	default:
		return nil, fmt.Errorf("phase %s is %s; resolve and retry before re-running", def.Code, existing.Status)
	}
}

// recoverExecution handles the two crash-recovery shapes: an execution
// stuck in_progress (the process died mid-phase, so side effects are
// unknown and an operator must decide) and a completed execution whose
// pointer update was lost (safe to advance without re-running).
func (e *Engine) recoverExecution(ctx context.Context, wf *workflow.Workflow, def phases.Definition) (*PhaseOutcome, error) {
	exec, err := e.phaseStore.Get(ctx, wf.ID, def.Number)
	if err != nil {
		return nil, fmt.Errorf("load phase execution: %w", err)
	}

	if exec.Status.Done() {
		return e.advance(ctx, wf, def, exec, exec.Status, false)
	}

	reason := fmt.Sprintf("phase %s was interrupted mid-execution; operator retry required", def.Code)
	exec.Status = workflow.PhaseBlocked
	exec.ErrorMessage = reason
	if err := e.phaseStore.Update(ctx, exec); err != nil {
		return nil, fmt.Errorf("persist phase execution: %w", err)
	}
	e.blockWorkflow(ctx, wf, reason)
	return e.outcome(wf, def, workflow.PhaseBlocked, exec.Output, false, reason), nil
}

func (e *Engine) skipPhase(ctx context.Context, wf *workflow.Workflow, def phases.Definition) (*PhaseOutcome, error) {
	existing, err := e.phaseStore.Get(ctx, wf.ID, def.Number)
	if err == nil && existing.Status.Done() {
		// Skip already recorded; only the pointer update was lost.
		return e.advance(ctx, wf, def, existing, existing.Status, false)
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load phase execution: %w", err)
	}

	exec := workflow.NewPhaseExecution(wf.ID, def.Number, def.Code, nil)
	exec.Status = workflow.PhaseCompleted
	exec.Output = map[string]any{workflow.OutputKeySkipped: true}
	now := time.Now().UTC()
	exec.CompletedAt = &now
	if err := e.phaseStore.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("record skipped phase: %w", err)
	}
	e.logger.Info("conditional phase skipped", "workflow_id", wf.ID, "phase", def.Code)
	return e.advance(ctx, wf, def, exec, workflow.PhaseCompleted, false)
}

func (e *Engine) failPhase(ctx context.Context, wf *workflow.Workflow, def phases.Definition, exec *workflow.PhaseExecution, cause error) (*PhaseOutcome, error) {
	exec.Status = workflow.PhaseFailed
	exec.ErrorMessage = cause.Error()
	now := time.Now().UTC()
	exec.CompletedAt = &now
	if err := e.phaseStore.Update(ctx, exec); err != nil {
		return nil, fmt.Errorf("persist failed phase: %w", err)
	}

	wf.ErrorCount++
	wf.LastError = cause.Error()
	reason := fmt.Sprintf("phase %s failed: %v", def.Code, cause)
	e.blockWorkflow(ctx, wf, reason)
	e.countPhase(wf, def, workflow.PhaseFailed)
	e.logger.Error("phase failed", "workflow_id", wf.ID, "phase", def.Code, "error", cause)
	return e.outcome(wf, def, workflow.PhaseFailed, exec.Output, false, reason), nil
}

func (e *Engine) completePhase(ctx context.Context, wf *workflow.Workflow, def phases.Definition, exec *workflow.PhaseExecution, status workflow.PhaseStatus) (*PhaseOutcome, error) {
	exec.Status = status
	now := time.Now().UTC()
	exec.CompletedAt = &now
	if err := e.phaseStore.Update(ctx, exec); err != nil {
		return nil, fmt.Errorf("persist phase execution: %w", err)
	}

	if def.Checkpoint {
		if err := e.recordCheckpoint(ctx, wf, def, exec); err != nil {
			return nil, err
		}
	}
	return e.advance(ctx, wf, def, exec, status, true)
}

// advance moves the phase pointer past def, completing the workflow when
// def was the last phase. count controls whether the phase execution is
// counted in metrics (recovery re-advances are not).
func (e *Engine) advance(ctx context.Context, wf *workflow.Workflow, def phases.Definition, exec *workflow.PhaseExecution, status workflow.PhaseStatus, count bool) (*PhaseOutcome, error) {
	next, ok, err := phases.Next(wf.Path, def.Number)
	if err != nil {
		return nil, fmt.Errorf("phase catalog: %w", err)
	}

	completed := !ok
	if completed {
		// The final phase may have raised a blocking checkpoint (final
		// approval). The workflow is not done until it resolves.
		held, err := e.pendingBlocking(ctx, wf.ID)
		if err != nil {
			return nil, err
		}
		if held != nil {
			wf.LastActivityAt = time.Now().UTC()
			if err := e.workflows.Update(ctx, wf); err != nil {
				return nil, fmt.Errorf("persist workflow: %w", err)
			}
			if count {
				e.countPhase(wf, def, status)
			}
			out := e.outcome(wf, def, status, exec.Output, false,
				fmt.Sprintf("waiting on checkpoint %s", held.CheckpointCode))
			out.Waiting = true
			return out, nil
		}
		wf.Status = workflow.StatusCompleted
	} else {
		wf.CurrentPhase = next.Number
	}
	wf.LastActivityAt = time.Now().UTC()
	if err := e.workflows.Update(ctx, wf); err != nil {
		return nil, fmt.Errorf("advance workflow: %w", err)
	}

	if count {
		e.countPhase(wf, def, status)
	}
	e.logger.Info("phase complete",
		"workflow_id", wf.ID,
		"phase", def.Code,
		"status", status,
		"workflow_completed", completed)

	out := e.outcome(wf, def, status, exec.Output, true, "")
	out.WorkflowCompleted = completed
	return out, nil
}

func (e *Engine) blockWorkflow(ctx context.Context, wf *workflow.Workflow, reason string) {
	wf.Status = workflow.StatusBlocked
	wf.BlockedReason = reason
	wf.LastActivityAt = time.Now().UTC()
	if err := e.workflows.Update(ctx, wf); err != nil {
		e.logger.Error("failed to persist workflow block",
			"workflow_id", wf.ID, "reason", reason, "error", err)
	}
}

func (e *Engine) countPhase(wf *workflow.Workflow, def phases.Definition, status workflow.PhaseStatus) {
	if e.metrics == nil {
		return
	}
	e.metrics.PhasesExecuted.WithLabelValues(string(wf.Path), def.Code, string(status)).Inc()
}

func (e *Engine) outcome(wf *workflow.Workflow, def phases.Definition, status workflow.PhaseStatus, output map[string]any, advanced bool, reason string) *PhaseOutcome {
	return &PhaseOutcome{
		WorkflowID:  wf.ID,
		PhaseNumber: def.Number,
		PhaseCode:   def.Code,
		Status:      status,
		Output:      output,
		Advanced:    advanced,
		Reason:      reason,
	}
}

// mergeOutputs folds completed phases' outputs into one map in phase
// order, so later phases overwrite earlier same-named keys.
func mergeOutputs(completed []*workflow.PhaseExecution) map[string]any {
	prior := map[string]any{}
	for _, pe := range completed {
		for k, v := range pe.Output {
			prior[k] = v
		}
	}
	return prior
}

func missingDependencies(def phases.Definition, completed []*workflow.PhaseExecution) []float64 {
	done := map[float64]bool{}
	for _, pe := range completed {
		done[pe.PhaseNumber] = true
	}
	var missing []float64
	for _, dep := range def.DependsOn {
		if !done[dep] {
			missing = append(missing, dep)
		}
	}
	return missing
}
