package violation

import (
	"context"
	"errors"
	"testing"
)

type fakeAuditStore struct {
	records   []*Record
	blocked   map[string]string
	createErr error
}

func newFakeAuditStore() *fakeAuditStore {
	return &fakeAuditStore{blocked: map[string]string{}}
}

func (f *fakeAuditStore) CreateViolation(_ context.Context, rec *Record) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeAuditStore) BlockWorkflow(_ context.Context, workflowID, reason string) error {
	f.blocked[workflowID] = reason
	return nil
}

func TestReportPersistsRecord(t *testing.T) {
	store := newFakeAuditStore()
	reporter := NewReporter(store)

	reporter.Report(context.Background(), SeverityHigh,
		OrderContext{WorkflowID: "wf-1", AttemptedPhase: 6}, "stale authority escalated")

	if len(store.records) != 1 {
		t.Fatalf("records = %d, want 1", len(store.records))
	}
	rec := store.records[0]
	if rec.Severity != SeverityHigh || rec.WorkflowID != "wf-1" || rec.AttemptedPhase != 6 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if len(store.blocked) != 0 {
		t.Error("HIGH severity must not force a block")
	}
}

func TestCriticalBlocksOnlyInProduction(t *testing.T) {
	tests := []struct {
		name       string
		production bool
		wantBlock  bool
	}{
		{"production", true, true},
		{"non-production", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeAuditStore()
			reporter := NewReporter(store, WithProductionMode(tt.production))

			reporter.Report(context.Background(), SeverityCritical,
				OrderContext{WorkflowID: "wf-1", AttemptedPhase: 5}, "attempted phase 5 while phase 1 is incomplete")

			_, blocked := store.blocked["wf-1"]
			if blocked != tt.wantBlock {
				t.Errorf("blocked = %v, want %v", blocked, tt.wantBlock)
			}
			if tt.wantBlock && store.blocked["wf-1"] != "critical violation: attempted phase 5 while phase 1 is incomplete" {
				t.Errorf("block reason = %q", store.blocked["wf-1"])
			}
		})
	}
}

// Reporting must never propagate persistence failures to the caller; the
// pipeline's own progress cannot depend on the audit channel.
func TestReportSwallowsPersistenceFailure(t *testing.T) {
	store := newFakeAuditStore()
	store.createErr = errors.New("disk full")
	reporter := NewReporter(store)

	// Must not panic or return anything.
	reporter.Report(context.Background(), SeverityMedium, OrderContext{WorkflowID: "wf-1"}, "format issue")
}

func TestEscalateReportsHigh(t *testing.T) {
	store := newFakeAuditStore()
	reporter := NewReporter(store)

	reporter.Escalate(context.Background(), "wf-1", "VI", "gap protocol GC-02")

	if len(store.records) != 1 {
		t.Fatalf("records = %d, want 1", len(store.records))
	}
	if store.records[0].Severity != SeverityHigh {
		t.Errorf("severity = %s, want HIGH", store.records[0].Severity)
	}
}
