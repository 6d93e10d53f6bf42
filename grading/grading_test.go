package grading

import (
	"testing"

	"github.com/briefmill/briefmill/workflow"
)

func TestScoreToGrade(t *testing.T) {
	policy := DefaultQualityPolicy()

	tests := []struct {
		name  string
		score float64
		want  Letter
	}{
		{"perfect", 1.0, GradeAPlus},
		{"a-plus boundary", 0.97, GradeAPlus},
		{"just under a-plus", 0.969, GradeA},
		{"standard threshold", 0.85, GradeB},
		{"procedural threshold", 0.83, GradeB},
		{"just under b", 0.829, GradeBMinus},
		{"b-plus boundary", 0.87, GradeBPlus},
		{"failing", 0.40, GradeF},
		{"zero", 0.0, GradeF},
		{"clamped high", 1.7, GradeAPlus},
		{"clamped low", -0.2, GradeF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.ScoreToGrade(tt.score)
			if got.Letter != tt.want {
				t.Errorf("ScoreToGrade(%v).Letter = %q, want %q", tt.score, got.Letter, tt.want)
			}
		})
	}
}

// The mapping must be total and monotonic: sweeping scores upward never
// produces a worse letter.
func TestScoreToGradeMonotonic(t *testing.T) {
	policy := DefaultQualityPolicy()
	prevRank := Rank(GradeF)
	for i := 0; i <= 1000; i++ {
		score := float64(i) / 1000
		grade := policy.ScoreToGrade(score)
		rank := Rank(grade.Letter)
		if rank > prevRank {
			t.Fatalf("grade got worse as score rose: score=%v letter=%q", score, grade.Letter)
		}
		prevRank = rank
	}
}

func TestThresholdPerTier(t *testing.T) {
	policy := DefaultQualityPolicy()

	tests := []struct {
		tier  workflow.Tier
		score float64
		want  bool
	}{
		{workflow.TierProcedural, 0.83, true},
		{workflow.TierProcedural, 0.82, false},
		{workflow.TierStandard, 0.85, true},
		{workflow.TierStandard, 0.849, false},
		{workflow.TierDispositive, 0.87, true},
		{workflow.TierDispositive, 0.86, false},
	}
	for _, tt := range tests {
		if got := policy.MeetsThreshold(tt.score, tt.tier); got != tt.want {
			t.Errorf("MeetsThreshold(%v, %s) = %v, want %v", tt.score, tt.tier, got, tt.want)
		}
	}
}

func TestCitationMinimum(t *testing.T) {
	policy := DefaultQualityPolicy()

	if got := policy.CitationMinimum(workflow.TierProcedural); got != 3 {
		t.Errorf("procedural minimum = %d, want 3", got)
	}
	if got := policy.CitationMinimum(workflow.TierDispositive); got != 6 {
		t.Errorf("dispositive minimum = %d, want 6", got)
	}

	// Unknown tiers fall back to the flat default rather than zero.
	if got := policy.CitationMinimum(workflow.Tier("emergency")); got != policy.DefaultCitationMinimum {
		t.Errorf("unknown tier minimum = %d, want default %d", got, policy.DefaultCitationMinimum)
	}
}

func TestEvaluateCriticalVeto(t *testing.T) {
	policy := DefaultQualityPolicy()

	eval := policy.Evaluate(0.95, workflow.TierStandard, []Issue{
		{Severity: SeverityCritical, Description: "mischaracterized holding"},
		{Severity: "minor", Description: "typo"},
	})
	if eval.Passed {
		t.Error("critical issue must veto a passing score")
	}
	if !eval.RequiresReview {
		t.Error("critical issue must require review")
	}
	if len(eval.CriticalIssues) != 1 {
		t.Errorf("CriticalIssues = %d, want 1", len(eval.CriticalIssues))
	}

	clean := policy.Evaluate(0.95, workflow.TierStandard, []Issue{{Severity: "minor", Description: "typo"}})
	if !clean.Passed || clean.RequiresReview {
		t.Errorf("clean high score should pass without review: %+v", clean)
	}
}

func TestPolicyValidate(t *testing.T) {
	policy := DefaultQualityPolicy()
	if err := policy.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	bad := DefaultQualityPolicy()
	bad.TierThresholds[workflow.TierStandard] = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("threshold above 1.0 should fail validation")
	}

	noLoops := DefaultQualityPolicy()
	noLoops.MaxRevisionLoops = 0
	if err := noLoops.Validate(); err == nil {
		t.Error("zero revision loops should fail validation")
	}
}
