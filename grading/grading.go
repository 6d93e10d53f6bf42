// Package grading converts numeric quality scores into letter grades and
// tier-dependent pass/fail decisions.
//
// The passing threshold is not a single global constant: a procedural
// motion passes at a lower bar than a dispositive one, reflecting
// proportional risk. Thresholds arrive through an injected QualityPolicy so
// the engine stays testable under varying policies.
package grading

import (
	"fmt"

	"github.com/briefmill/briefmill/workflow"
)

// QualityPolicy centralizes the numeric knobs of the quality gates. It is
// immutable after construction and passed into the engine, never read from
// package-level state.
type QualityPolicy struct {
	// TierThresholds maps each tier to its minimum passing score.
	TierThresholds map[workflow.Tier]float64 `yaml:"tier_thresholds"`

	// CitationMinimums maps each tier to its required verified-citation
	// count for the hard stop.
	CitationMinimums map[workflow.Tier]int `yaml:"citation_minimums"`

	// DefaultCitationMinimum applies when a tier has no explicit minimum.
	DefaultCitationMinimum int `yaml:"default_citation_minimum"`

	// MaxRevisionLoops caps the grading-to-revision regression.
	MaxRevisionLoops int `yaml:"max_revision_loops"`
}

// DefaultQualityPolicy returns the reference policy. The source system
// carried both a flat minimum of 4 and tier-scaled minimums; both live here
// and CitationMinimum resolves between them.
func DefaultQualityPolicy() QualityPolicy {
	return QualityPolicy{
		TierThresholds: map[workflow.Tier]float64{
			workflow.TierProcedural:  0.83,
			workflow.TierStandard:    0.85,
			workflow.TierDispositive: 0.87,
		},
		CitationMinimums: map[workflow.Tier]int{
			workflow.TierProcedural:  3,
			workflow.TierStandard:    4,
			workflow.TierDispositive: 6,
		},
		DefaultCitationMinimum: 4,
		MaxRevisionLoops:       3,
	}
}

// Validate checks the policy for internal consistency.
func (p QualityPolicy) Validate() error {
	if p.MaxRevisionLoops < 1 {
		return fmt.Errorf("max_revision_loops must be at least 1, got %d", p.MaxRevisionLoops)
	}
	if p.DefaultCitationMinimum < 0 {
		return fmt.Errorf("default_citation_minimum must not be negative")
	}
	for tier, th := range p.TierThresholds {
		if th < 0 || th > 1 {
			return fmt.Errorf("threshold for tier %s out of range [0,1]: %v", tier, th)
		}
	}
	return nil
}

// Threshold returns the passing score for a tier, falling back to the
// standard tier when the tier is unknown.
func (p QualityPolicy) Threshold(tier workflow.Tier) float64 {
	if th, ok := p.TierThresholds[tier]; ok {
		return th
	}
	return p.TierThresholds[workflow.TierStandard]
}

// CitationMinimum resolves the verified-citation minimum for a tier,
// preferring the tier-scaled value and falling back to the flat default.
func (p QualityPolicy) CitationMinimum(tier workflow.Tier) int {
	if m, ok := p.CitationMinimums[tier]; ok {
		return m
	}
	return p.DefaultCitationMinimum
}

// Letter is a letter grade on the fixed ladder.
type Letter string

// Grade ladder, best first.
const (
	GradeAPlus  Letter = "A+"
	GradeA      Letter = "A"
	GradeAMinus Letter = "A-"
	GradeBPlus  Letter = "B+"
	GradeB      Letter = "B"
	GradeBMinus Letter = "B-"
	GradeCPlus  Letter = "C+"
	GradeC      Letter = "C"
	GradeD      Letter = "D"
	GradeF      Letter = "F"
)

// ladder maps ladder cut-offs to letters, highest first. ScoreToGrade walks
// it in order, so boundaries are inclusive on the lower edge.
var ladder = []struct {
	min    float64
	letter Letter
}{
	{0.97, GradeAPlus},
	{0.93, GradeA},
	{0.90, GradeAMinus},
	{0.87, GradeBPlus},
	{0.83, GradeB},
	{0.80, GradeBMinus},
	{0.77, GradeCPlus},
	{0.73, GradeC},
	{0.65, GradeD},
	{0, GradeF},
}

// Rank returns the ladder position of a letter, 0 being best. Unknown
// letters rank below F.
func Rank(l Letter) int {
	for i, entry := range ladder {
		if entry.letter == l {
			return i
		}
	}
	return len(ladder)
}

// Grade is the result of scoring a phase output.
type Grade struct {
	Letter Letter  `json:"letter"`
	Score  float64 `json:"score"`

	// Passed reflects the tier threshold in effect when the grade was
	// computed.
	Passed bool `json:"passed"`
}

// ScoreToGrade maps a numeric score in [0,1] to a letter grade. The mapping
// is total and monotonic: scores outside the range are clamped, and a
// higher score never yields a worse letter. Passed is filled in against the
// standard tier; use Evaluate for tier-aware decisions.
func (p QualityPolicy) ScoreToGrade(score float64) Grade {
	clamped := score
	if clamped < 0 {
		clamped = 0
	}
	if clamped > 1 {
		clamped = 1
	}
	for _, entry := range ladder {
		if clamped >= entry.min {
			return Grade{
				Letter: entry.letter,
				Score:  score,
				Passed: clamped >= p.Threshold(workflow.TierStandard),
			}
		}
	}
	// Unreachable: the ladder's final entry has min 0.
	return Grade{Letter: GradeF, Score: score}
}

// MeetsThreshold reports whether score passes for the given tier.
func (p QualityPolicy) MeetsThreshold(score float64, tier workflow.Tier) bool {
	return score >= p.Threshold(tier)
}

// Issue is a reviewer-reported problem with a phase output.
type Issue struct {
	Severity    string `json:"severity"` // "critical", "major", "minor"
	Description string `json:"description"`
}

// SeverityCritical issues veto a passing score outright.
const SeverityCritical = "critical"

// Evaluation is the full quality verdict for a phase output.
type Evaluation struct {
	Grade          Grade         `json:"grade"`
	Tier           workflow.Tier `json:"tier"`
	Passed         bool          `json:"passed"`
	RequiresReview bool          `json:"requires_review"`
	CriticalIssues []Issue       `json:"critical_issues,omitempty"`
}

// Evaluate grades a score against a tier and applies the critical-issue
// veto: any critical-severity issue forces RequiresReview regardless of the
// raw score.
func (p QualityPolicy) Evaluate(score float64, tier workflow.Tier, issues []Issue) Evaluation {
	grade := p.ScoreToGrade(score)
	passed := p.MeetsThreshold(score, tier)
	grade.Passed = passed

	eval := Evaluation{
		Grade:  grade,
		Tier:   tier,
		Passed: passed,
	}
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			eval.CriticalIssues = append(eval.CriticalIssues, issue)
		}
	}
	if !passed || len(eval.CriticalIssues) > 0 {
		eval.RequiresReview = true
		eval.Passed = passed && len(eval.CriticalIssues) == 0
	}
	return eval
}
