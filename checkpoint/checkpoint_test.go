package checkpoint

import "testing"

func TestForPhase(t *testing.T) {
	tests := []struct {
		phase    float64
		wantCode Code
		wantOK   bool
		blocking bool
	}{
		{1, IntakeComplete, true, false},
		{3, ResearchComplete, true, false},
		{4, EvidenceGapHold, true, true},
		{5, DraftComplete, true, false},
		{9, FinalApproval, true, true},
		{2, "", false, false},
		{7, "", false, false},
	}
	for _, tt := range tests {
		def, ok := ForPhase(tt.phase)
		if ok != tt.wantOK {
			t.Errorf("ForPhase(%v) ok = %v, want %v", tt.phase, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if def.Code != tt.wantCode || def.Blocking != tt.blocking {
			t.Errorf("ForPhase(%v) = %+v, want code=%s blocking=%v", tt.phase, def, tt.wantCode, tt.blocking)
		}
	}
}

func TestNotificationInstancesStartResolved(t *testing.T) {
	def, _ := Lookup(DraftComplete)
	inst := NewInstance("wf-1", def)
	if inst.State != StateResolved {
		t.Errorf("notification instance state = %s, want resolved", inst.State)
	}
	if !inst.AllowsAdvance() {
		t.Error("notification instance must allow advancement")
	}
}

func TestBlockingInstanceLifecycle(t *testing.T) {
	def, _ := Lookup(FinalApproval)
	inst := NewInstance("wf-1", def)

	if inst.State != StatePending {
		t.Fatalf("blocking instance state = %s, want pending", inst.State)
	}
	if inst.AllowsAdvance() {
		t.Error("pending blocking instance must not allow advancement")
	}

	if ok := inst.Resolve(Resolution("maybe"), ""); ok {
		t.Error("unknown resolution must be rejected")
	}

	if ok := inst.Resolve(ResolutionApproved, "looks good"); !ok {
		t.Fatal("valid resolution rejected")
	}
	if !inst.AllowsAdvance() {
		t.Error("approved instance must allow advancement")
	}

	if ok := inst.Resolve(ResolutionCancelled, ""); ok {
		t.Error("resolving twice must be rejected")
	}
}

func TestResolutionAdvanceSemantics(t *testing.T) {
	tests := []struct {
		resolution Resolution
		advances   bool
	}{
		{ResolutionApproved, true},
		{ResolutionCustomerResponse, true},
		{ResolutionRequestChanges, false},
		{ResolutionCancelled, false},
	}
	for _, tt := range tests {
		def, _ := Lookup(EvidenceGapHold)
		inst := NewInstance("wf-1", def)
		if !inst.Resolve(tt.resolution, "") {
			t.Fatalf("Resolve(%s) rejected", tt.resolution)
		}
		if got := inst.AllowsAdvance(); got != tt.advances {
			t.Errorf("AllowsAdvance after %s = %v, want %v", tt.resolution, got, tt.advances)
		}
	}
}
