package citation

import (
	"context"
	"fmt"
	"testing"
)

func seedRecords(t *testing.T, ledger *fakeLedger, workflowID string, statuses []VerificationStatus) {
	t.Helper()
	for i, status := range statuses {
		rec := NewRecord(workflowID, "pe-1", fmt.Sprintf("%d U.S. %d (1990)", 100+i, 200+i))
		rec.Status = status
		if err := ledger.Create(context.Background(), rec); err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}
}

func TestCheckCitationRequirement(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []VerificationStatus
		minimum    int
		wantMeets  bool
		wantReason string
	}{
		{
			name:       "three verified of five against minimum four",
			statuses:   []VerificationStatus{StatusVerified, StatusVerified, StatusVerified, StatusInvalid, StatusInvalid},
			minimum:    4,
			wantMeets:  false,
			wantReason: "verified citations 3 < required 4",
		},
		{
			name:      "exactly at minimum",
			statuses:  []VerificationStatus{StatusVerified, StatusVerified, StatusVerified, StatusVerified},
			minimum:   4,
			wantMeets: true,
		},
		{
			name:       "pending never counts as verified",
			statuses:   []VerificationStatus{StatusVerified, StatusPending, StatusPending, StatusPending},
			minimum:    3,
			wantMeets:  false,
			wantReason: "verified citations 1 < required 3",
		},
		{
			name:       "no citations at all",
			statuses:   nil,
			minimum:    4,
			wantMeets:  false,
			wantReason: "verified citations 0 < required 4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger()
			seedRecords(t, ledger, "wf-1", tt.statuses)

			gate := NewGate(ledger)
			res, err := gate.CheckCitationRequirement(context.Background(), "wf-1", tt.minimum)
			if err != nil {
				t.Fatalf("CheckCitationRequirement: %v", err)
			}
			if res.Meets != tt.wantMeets {
				t.Errorf("Meets = %v, want %v", res.Meets, tt.wantMeets)
			}
			if !tt.wantMeets && res.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", res.Reason, tt.wantReason)
			}
			if res.CurrentCount != len(tt.statuses) {
				t.Errorf("CurrentCount = %d, want %d", res.CurrentCount, len(tt.statuses))
			}
		})
	}
}

// The gate must re-query on every call: verifications landing between
// calls change the verdict without any reset.
func TestGateRecountsOnEveryCall(t *testing.T) {
	ledger := newFakeLedger()
	seedRecords(t, ledger, "wf-1", []VerificationStatus{StatusVerified, StatusVerified, StatusVerified, StatusPending})

	gate := NewGate(ledger)
	res, err := gate.CheckCitationRequirement(context.Background(), "wf-1", 4)
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if res.Meets {
		t.Fatal("first check should fail with 3 of 4")
	}

	for _, rec := range ledger.records {
		if rec.Status == StatusPending {
			rec.Status = StatusVerified
		}
	}

	res, err = gate.CheckCitationRequirement(context.Background(), "wf-1", 4)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !res.Meets {
		t.Error("second check should pass after the fourth verification")
	}
}
