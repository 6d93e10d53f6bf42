package phases

import (
	"testing"

	"github.com/briefmill/briefmill/workflow"
)

func TestForPathUnknown(t *testing.T) {
	if _, err := ForPath(workflow.Path("appellate")); err == nil {
		t.Error("unknown path should return an error, not a default catalog")
	}
}

func TestByNumber(t *testing.T) {
	def, err := ByNumber(workflow.PathInitiating, 5.1)
	if err != nil {
		t.Fatalf("ByNumber(5.1): %v", err)
	}
	if def.Code != "V.1" || def.Task != TaskCounterAnalysis || !def.Conditional {
		t.Errorf("unexpected definition for 5.1: %+v", def)
	}

	if _, err := ByNumber(workflow.PathInitiating, 99); err == nil {
		t.Error("unknown phase number should return an error")
	}
}

func TestNextTraversesSubPhases(t *testing.T) {
	next, ok, err := Next(workflow.PathInitiating, 5)
	if err != nil || !ok {
		t.Fatalf("Next(5): ok=%v err=%v", ok, err)
	}
	if next.Number != 5.1 {
		t.Errorf("Next(5).Number = %v, want 5.1", next.Number)
	}

	next, ok, err = Next(workflow.PathInitiating, 5.1)
	if err != nil || !ok {
		t.Fatalf("Next(5.1): ok=%v err=%v", ok, err)
	}
	if next.Number != 6 {
		t.Errorf("Next(5.1).Number = %v, want 6", next.Number)
	}

	_, ok, err = Next(workflow.PathInitiating, 9)
	if err != nil {
		t.Fatalf("Next(9): %v", err)
	}
	if ok {
		t.Error("phase 9 is last; Next should report no successor")
	}
}

func TestCatalogsAreParallel(t *testing.T) {
	for _, path := range []workflow.Path{workflow.PathInitiating, workflow.PathOpposition} {
		numbers, err := Numbers(path)
		if err != nil {
			t.Fatalf("Numbers(%s): %v", path, err)
		}
		if len(numbers) != 11 {
			t.Errorf("%s catalog has %d phases, want 11", path, len(numbers))
		}
		for i := 1; i < len(numbers); i++ {
			if numbers[i] <= numbers[i-1] {
				t.Errorf("%s catalog not strictly ordered at index %d: %v", path, i, numbers)
			}
		}
	}
}

func TestOppositionPhaseTwoIsCounterAnalysis(t *testing.T) {
	def, err := ByNumber(workflow.PathOpposition, 2)
	if err != nil {
		t.Fatalf("ByNumber: %v", err)
	}
	if def.Task != TaskCounterAnalysis {
		t.Errorf("opposition phase 2 task = %q, want counter_analysis", def.Task)
	}

	initiating, err := ByNumber(workflow.PathInitiating, 2)
	if err != nil {
		t.Fatalf("ByNumber: %v", err)
	}
	if initiating.Task != TaskJurisdictionReview {
		t.Errorf("initiating phase 2 task = %q, want jurisdiction_review", initiating.Task)
	}
}

func TestConditionalTriggers(t *testing.T) {
	def, err := ByNumber(workflow.PathInitiating, 5.1)
	if err != nil {
		t.Fatalf("ByNumber: %v", err)
	}

	tests := []struct {
		name  string
		prior map[string]any
		want  bool
	}{
		{"flag true", map[string]any{"anticipates_opposition": true}, true},
		{"flag false", map[string]any{"anticipates_opposition": false}, false},
		{"flag absent", map[string]any{}, false},
		{"wrong type", map[string]any{"anticipates_opposition": "yes"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := def.Trigger(tt.prior); got != tt.want {
				t.Errorf("Trigger(%v) = %v, want %v", tt.prior, got, tt.want)
			}
		})
	}
}

func TestRevisionTrigger(t *testing.T) {
	def, err := ByNumber(workflow.PathInitiating, 7.1)
	if err != nil {
		t.Fatalf("ByNumber: %v", err)
	}

	tests := []struct {
		name  string
		prior map[string]any
		want  bool
	}{
		{"requested, no loop revisions", map[string]any{"revision_requested": true}, true},
		{"requested, zero count", map[string]any{"revision_requested": true, "revision_count": 0}, true},
		{"requested, loop already revised", map[string]any{"revision_requested": true, "revision_count": 2}, false},
		{"requested, persisted count", map[string]any{"revision_requested": true, "revision_count": float64(2)}, false},
		{"not requested", map[string]any{"revision_count": 0}, false},
		{"flag false", map[string]any{"revision_requested": false}, false},
		{"wrong type", map[string]any{"revision_requested": "yes"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := def.Trigger(tt.prior); got != tt.want {
				t.Errorf("Trigger(%v) = %v, want %v", tt.prior, got, tt.want)
			}
		})
	}
}

func TestEveryTaskTypeHasCatalogUse(t *testing.T) {
	used := map[TaskType]bool{}
	for _, path := range []workflow.Path{workflow.PathInitiating, workflow.PathOpposition} {
		defs, err := ForPath(path)
		if err != nil {
			t.Fatalf("ForPath(%s): %v", path, err)
		}
		for _, def := range defs {
			used[def.Task] = true
		}
	}
	for _, task := range AllTaskTypes {
		if !used[task] {
			t.Errorf("task type %q appears in no catalog", task)
		}
	}
}
