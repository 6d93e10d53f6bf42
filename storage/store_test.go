package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/briefmill/briefmill/checkpoint"
	"github.com/briefmill/briefmill/citation"
	"github.com/briefmill/briefmill/workflow"
)

// The shared-cache in-memory database outlives individual tests, so every
// test uses freshly generated IDs rather than fixed ones.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWorkflowCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := workflow.NewWorkflow("order-create-get", workflow.PathInitiating, workflow.TierDispositive)
	wf.Metadata["rush"] = true
	if err := s.Workflows.Create(ctx, wf); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Workflows.Get(ctx, wf.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OrderID != wf.OrderID || got.Path != wf.Path || got.Tier != wf.Tier {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.CurrentPhase != 1 || got.Status != workflow.StatusPending {
		t.Errorf("new workflow state = phase %v status %s", got.CurrentPhase, got.Status)
	}
	if v, ok := got.Metadata["rush"].(bool); !ok || !v {
		t.Errorf("metadata not preserved: %v", got.Metadata)
	}

	if _, err := s.Workflows.Get(ctx, "no-such-workflow"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestWorkflowOneActivePerOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := workflow.NewWorkflow("order-single-active", workflow.PathInitiating, workflow.TierStandard)
	if err := s.Workflows.Create(ctx, first); err != nil {
		t.Fatalf("Create first: %v", err)
	}

	dup := workflow.NewWorkflow("order-single-active", workflow.PathOpposition, workflow.TierStandard)
	if err := s.Workflows.Create(ctx, dup); !errors.Is(err, ErrDuplicateWorkflow) {
		t.Fatalf("Create duplicate = %v, want ErrDuplicateWorkflow", err)
	}

	// A terminal workflow no longer blocks a new one for the same order.
	if err := s.Workflows.Block(ctx, first.ID, "operator cancelled"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if err := s.Workflows.Create(ctx, dup); err != nil {
		t.Fatalf("Create after block: %v", err)
	}
}

func TestWorkflowOptimisticLocking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := workflow.NewWorkflow("order-optlock", workflow.PathInitiating, workflow.TierStandard)
	if err := s.Workflows.Create(ctx, wf); err != nil {
		t.Fatalf("Create: %v", err)
	}

	a, err := s.Workflows.Get(ctx, wf.ID)
	if err != nil {
		t.Fatalf("Get a: %v", err)
	}
	b, err := s.Workflows.Get(ctx, wf.ID)
	if err != nil {
		t.Fatalf("Get b: %v", err)
	}

	a.CurrentPhase = 2
	if err := s.Workflows.Update(ctx, a); err != nil {
		t.Fatalf("Update a: %v", err)
	}
	if a.Version != 2 {
		t.Errorf("version after update = %d, want 2", a.Version)
	}

	b.CurrentPhase = 3
	if err := s.Workflows.Update(ctx, b); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale Update = %v, want ErrConflict", err)
	}

	got, err := s.Workflows.Get(ctx, wf.ID)
	if err != nil {
		t.Fatalf("Get after conflict: %v", err)
	}
	if got.CurrentPhase != 2 {
		t.Errorf("phase = %v, want winning writer's 2", got.CurrentPhase)
	}

	missing := workflow.NewWorkflow("order-optlock-missing", workflow.PathInitiating, workflow.TierStandard)
	if err := s.Workflows.Update(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update missing = %v, want ErrNotFound", err)
	}
}

func TestWorkflowBlockIgnoresVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := workflow.NewWorkflow("order-force-block", workflow.PathInitiating, workflow.TierStandard)
	if err := s.Workflows.Create(ctx, wf); err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Bump the version so a version-checked write would be stale.
	wf.Status = workflow.StatusInProgress
	if err := s.Workflows.Update(ctx, wf); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if err := s.Workflows.Block(ctx, wf.ID, "critical violation: sequence breach"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	got, err := s.Workflows.Get(ctx, wf.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != workflow.StatusBlocked {
		t.Errorf("status = %s, want blocked", got.Status)
	}
	if got.BlockedReason != "critical violation: sequence breach" {
		t.Errorf("blocked reason = %q", got.BlockedReason)
	}

	if err := s.Workflows.Block(ctx, "no-such-workflow", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Block missing = %v, want ErrNotFound", err)
	}
}

func TestWorkflowListByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := workflow.NewWorkflow("order-list-status", workflow.PathOpposition, workflow.TierProcedural)
	if err := s.Workflows.Create(ctx, wf); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pending, err := s.Workflows.ListByStatus(ctx, workflow.StatusPending)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	found := false
	for _, w := range pending {
		if w.ID == wf.ID {
			found = true
		}
		if w.Status != workflow.StatusPending {
			t.Errorf("listed workflow %s has status %s", w.ID, w.Status)
		}
	}
	if !found {
		t.Error("created workflow not listed under pending")
	}
}

func TestPhaseExecutionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := workflow.NewWorkflow("order-phase-exec", workflow.PathInitiating, workflow.TierStandard)
	if err := s.Workflows.Create(ctx, wf); err != nil {
		t.Fatalf("Create workflow: %v", err)
	}

	pe := workflow.NewPhaseExecution(wf.ID, 1, "I", map[string]any{"order_id": wf.OrderID})
	if err := s.Phases.Create(ctx, pe); err != nil {
		t.Fatalf("Create execution: %v", err)
	}

	got, err := s.Phases.Get(ctx, wf.ID, 1)
	if err != nil {
		t.Fatalf("Get execution: %v", err)
	}
	if got.Status != workflow.PhaseInProgress || got.PhaseCode != "I" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Input["order_id"] != wf.OrderID {
		t.Errorf("input not preserved: %v", got.Input)
	}
	if got.QualityScore != nil || got.CompletedAt != nil {
		t.Error("fresh execution should have nil score and completion time")
	}

	score := 0.91
	now := time.Now().UTC()
	got.Status = workflow.PhaseCompleted
	got.Output = map[string]any{"summary": "intake done"}
	got.QualityScore = &score
	got.CompletedAt = &now
	if err := s.Phases.Update(ctx, got); err != nil {
		t.Fatalf("Update execution: %v", err)
	}

	again, err := s.Phases.Get(ctx, wf.ID, 1)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if again.Status != workflow.PhaseCompleted {
		t.Errorf("status = %s", again.Status)
	}
	if again.QualityScore == nil || *again.QualityScore != 0.91 {
		t.Errorf("quality score = %v", again.QualityScore)
	}
	if again.Output["summary"] != "intake done" {
		t.Errorf("output = %v", again.Output)
	}
	if again.CompletedAt == nil {
		t.Error("completion time lost")
	}

	if _, err := s.Phases.Get(ctx, wf.ID, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing phase = %v, want ErrNotFound", err)
	}
}

func TestPhaseExecutionListCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := workflow.NewWorkflow("order-list-completed", workflow.PathInitiating, workflow.TierStandard)
	if err := s.Workflows.Create(ctx, wf); err != nil {
		t.Fatalf("Create workflow: %v", err)
	}

	// Insert out of phase order with a mix of statuses; only completed and
	// completed_with_warning come back, ordered by phase number.
	seed := []struct {
		number float64
		code   string
		status workflow.PhaseStatus
	}{
		{3, "III", workflow.PhaseCompleted},
		{1, "I", workflow.PhaseCompleted},
		{4, "IV", workflow.PhaseInProgress},
		{2, "II", workflow.PhaseCompletedWithWarning},
		{5, "V", workflow.PhaseFailed},
	}
	for _, sd := range seed {
		pe := workflow.NewPhaseExecution(wf.ID, sd.number, sd.code, nil)
		pe.Status = sd.status
		if err := s.Phases.Create(ctx, pe); err != nil {
			t.Fatalf("Create %s: %v", sd.code, err)
		}
	}

	done, err := s.Phases.ListCompleted(ctx, wf.ID)
	if err != nil {
		t.Fatalf("ListCompleted: %v", err)
	}
	var got []float64
	for _, pe := range done {
		got = append(got, pe.PhaseNumber)
	}
	want := []float64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("completed phases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("completed phases = %v, want %v", got, want)
		}
	}

	all, err := s.Phases.ListByWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("ListByWorkflow: %v", err)
	}
	if len(all) != len(seed) {
		t.Errorf("ListByWorkflow returned %d executions, want %d", len(all), len(seed))
	}
}

func TestCitationLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := workflow.NewWorkflow("order-citations", workflow.PathInitiating, workflow.TierStandard)
	if err := s.Workflows.Create(ctx, wf); err != nil {
		t.Fatalf("Create workflow: %v", err)
	}

	rec := citation.NewRecord(wf.ID, "", "Brown v. Board of Education, 347 U.S. 483 (1954)")
	rec.Components = citation.Components{Volume: "347", Reporter: "U.S.", Page: "483", Year: 1954}
	rec.Class = citation.ClassCase
	if err := s.Citations.Create(ctx, rec); err != nil {
		t.Fatalf("Create citation: %v", err)
	}

	listed, err := s.Citations.ListByWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("ListByWorkflow: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("listed %d citations, want 1", len(listed))
	}
	got := listed[0]
	if got.Status != citation.StatusPending || got.Components.Volume != "347" || got.Components.Year != 1954 {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if err := got.Transition(citation.StatusVerified); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	got.Confidence = 0.98
	if err := s.Citations.Update(ctx, got); err != nil {
		t.Fatalf("Update citation: %v", err)
	}
	entry := citation.NewLogEntry(got.ID, citation.StatusPending, citation.StatusVerified, "verifier confirmed")
	if err := s.Citations.AppendLog(ctx, entry); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	verified, err := s.Citations.CountByStatus(ctx, wf.ID, citation.StatusVerified)
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if verified != 1 {
		t.Errorf("verified count = %d, want 1", verified)
	}
	pending, err := s.Citations.CountByStatus(ctx, wf.ID, citation.StatusPending)
	if err != nil {
		t.Fatalf("CountByStatus pending: %v", err)
	}
	if pending != 0 {
		t.Errorf("pending count = %d, want 0", pending)
	}

	log, err := s.Citations.LogForCitation(ctx, got.ID)
	if err != nil {
		t.Fatalf("LogForCitation: %v", err)
	}
	if len(log) != 1 || log[0].ToStatus != citation.StatusVerified || log[0].Note != "verifier confirmed" {
		t.Errorf("log = %+v", log)
	}

	byID, err := s.Citations.Get(ctx, got.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if byID.Status != citation.StatusVerified || byID.VerifiedAt == nil {
		t.Errorf("Get round trip mismatch: %+v", byID)
	}
	if _, err := s.Citations.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing citation error = %v, want ErrNotFound", err)
	}
}

func TestCheckpointGetByCodeReturnsLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wf := workflow.NewWorkflow("order-checkpoints", workflow.PathInitiating, workflow.TierStandard)
	if err := s.Workflows.Create(ctx, wf); err != nil {
		t.Fatalf("Create workflow: %v", err)
	}

	def, ok := checkpoint.Lookup(checkpoint.FinalApproval)
	if !ok {
		t.Fatal("final_approval not in catalog")
	}

	first := checkpoint.NewInstance(wf.ID, def)
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	if err := s.Checkpoints.Create(ctx, first); err != nil {
		t.Fatalf("Create first: %v", err)
	}
	if !first.Resolve(checkpoint.ResolutionRequestChanges, "tighten the standard of review") {
		t.Fatal("resolve first")
	}
	if err := s.Checkpoints.Update(ctx, first); err != nil {
		t.Fatalf("Update first: %v", err)
	}

	// The rewound workflow re-completes the phase and raises a fresh hold.
	second := checkpoint.NewInstance(wf.ID, def)
	if err := s.Checkpoints.Create(ctx, second); err != nil {
		t.Fatalf("Create second: %v", err)
	}

	got, err := s.Checkpoints.GetByCode(ctx, wf.ID, checkpoint.FinalApproval)
	if err != nil {
		t.Fatalf("GetByCode: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("GetByCode returned %s, want latest instance %s", got.ID, second.ID)
	}
	if got.State != checkpoint.StatePending {
		t.Errorf("latest instance state = %s, want pending", got.State)
	}

	all, err := s.Checkpoints.ListByWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("ListByWorkflow: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("listed %d instances, want 2", len(all))
	}

	if _, err := s.Checkpoints.GetByCode(ctx, wf.ID, checkpoint.EvidenceGapHold); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByCode unrecorded = %v, want ErrNotFound", err)
	}
}
