// Package phases holds the static, path-scoped phase catalogs for the
// filing production pipeline.
//
// Phases are ordered by number; fractional numbers denote conditional
// sub-phases (5.1 carries code "V.1"). The catalog is reference data: the
// engine looks up definitions here and never mutates them. Conditional
// membership is expressed as a trigger predicate over the merged outputs of
// previously completed phases, not by string-matching phase codes at
// dispatch time.
package phases

import (
	"fmt"
	"sort"

	"github.com/briefmill/briefmill/workflow"
)

// TaskType is the closed enumeration of phase handler kinds. Dispatch is by
// TaskType only; an unregistered type is a fatal configuration error.
type TaskType string

const (
	TaskIntakeAnalysis     TaskType = "intake_analysis"
	TaskJurisdictionReview TaskType = "jurisdiction_review"
	TaskAuthorityResearch  TaskType = "authority_research"
	TaskEvidenceMapping    TaskType = "evidence_mapping"
	TaskDrafting           TaskType = "drafting"
	TaskCounterAnalysis    TaskType = "counter_analysis"
	TaskCitationCheck      TaskType = "citation_check"
	TaskQualityGrade       TaskType = "quality_grade"
	TaskRevision           TaskType = "revision"
	TaskAssembly           TaskType = "assembly"
	TaskFinalApproval      TaskType = "final_approval"
)

// AllTaskTypes lists every member of the enumeration. Engine construction
// validates its handler registry against this list so that a missing
// handler fails fast instead of surfacing mid-pipeline.
var AllTaskTypes = []TaskType{
	TaskIntakeAnalysis,
	TaskJurisdictionReview,
	TaskAuthorityResearch,
	TaskEvidenceMapping,
	TaskDrafting,
	TaskCounterAnalysis,
	TaskCitationCheck,
	TaskQualityGrade,
	TaskRevision,
	TaskAssembly,
	TaskFinalApproval,
}

// TriggerFunc decides whether a conditional phase runs, evaluated against
// the merged outputs of all previously completed phases.
type TriggerFunc func(prior map[string]any) bool

// Definition is one catalog entry.
type Definition struct {
	// Number orders the phase within its path. Fractional numbers are
	// sub-phases.
	Number float64

	// Code is the roman-numeral phase code ("I" .. "IX", "V.1").
	Code string

	Task TaskType

	// Checkpoint marks phases whose completion triggers a checkpoint
	// (blocking or notification; the checkpoint package decides which).
	Checkpoint bool

	// ExtendedReasoning grants the completion service a larger reasoning
	// budget for this phase.
	ExtendedReasoning bool

	// Conditional phases run only when Trigger returns true; otherwise the
	// engine records them as skipped and advances.
	Conditional bool
	Trigger     TriggerFunc

	// DependsOn lists phase numbers that must be complete before this
	// phase may run. The engine reports a dependency miss as a CRITICAL
	// control-flow violation.
	DependsOn []float64
}

// anticipatesOpposition is the trigger for counter-argument sub-phases: the
// drafting phase flags whether opposing arguments were anticipated.
func anticipatesOpposition(prior map[string]any) bool {
	v, ok := prior["anticipates_opposition"].(bool)
	return ok && v
}

// revisionRequested gates the revision sub-phase. Below-threshold scores
// are revised inside the grading phase's loop, which stamps both
// revision_requested and revision_count; this sub-phase therefore runs only
// when the grader requested a revision without the loop performing one
// (a touch-up request at a passing score).
func revisionRequested(prior map[string]any) bool {
	v, ok := prior["revision_requested"].(bool)
	if !ok || !v {
		return false
	}
	// revision_count is an int in memory and float64 after persistence.
	switch n := prior["revision_count"].(type) {
	case int:
		return n == 0
	case float64:
		return n == 0
	}
	return true
}

// initiating is the phase catalog for party-initiated filings.
var initiating = []Definition{
	{Number: 1, Code: "I", Task: TaskIntakeAnalysis, Checkpoint: true},
	{Number: 2, Code: "II", Task: TaskJurisdictionReview, DependsOn: []float64{1}},
	{Number: 3, Code: "III", Task: TaskAuthorityResearch, Checkpoint: true, DependsOn: []float64{1, 2}},
	{Number: 4, Code: "IV", Task: TaskEvidenceMapping, Checkpoint: true, DependsOn: []float64{1, 3}},
	{Number: 5, Code: "V", Task: TaskDrafting, Checkpoint: true, ExtendedReasoning: true, DependsOn: []float64{3, 4}},
	{Number: 5.1, Code: "V.1", Task: TaskCounterAnalysis, Conditional: true, Trigger: anticipatesOpposition, DependsOn: []float64{5}},
	{Number: 6, Code: "VI", Task: TaskCitationCheck, DependsOn: []float64{3, 5}},
	{Number: 7, Code: "VII", Task: TaskQualityGrade, ExtendedReasoning: true, DependsOn: []float64{5, 6}},
	{Number: 7.1, Code: "VII.1", Task: TaskRevision, Conditional: true, Trigger: revisionRequested, DependsOn: []float64{7}},
	{Number: 8, Code: "VIII", Task: TaskAssembly, DependsOn: []float64{6, 7}},
	{Number: 9, Code: "IX", Task: TaskFinalApproval, Checkpoint: true, DependsOn: []float64{8}},
}

// opposition is the phase catalog for responses to an opposing filing. The
// structure mirrors the initiating path; the opening analysis targets the
// opponent's motion and drafting produces a rebuttal.
var opposition = []Definition{
	{Number: 1, Code: "I", Task: TaskIntakeAnalysis, Checkpoint: true},
	{Number: 2, Code: "II", Task: TaskCounterAnalysis, DependsOn: []float64{1}},
	{Number: 3, Code: "III", Task: TaskAuthorityResearch, Checkpoint: true, DependsOn: []float64{1, 2}},
	{Number: 4, Code: "IV", Task: TaskEvidenceMapping, Checkpoint: true, DependsOn: []float64{1, 3}},
	{Number: 5, Code: "V", Task: TaskDrafting, Checkpoint: true, ExtendedReasoning: true, DependsOn: []float64{2, 3, 4}},
	{Number: 5.1, Code: "V.1", Task: TaskCounterAnalysis, Conditional: true, Trigger: anticipatesOpposition, DependsOn: []float64{5}},
	{Number: 6, Code: "VI", Task: TaskCitationCheck, DependsOn: []float64{3, 5}},
	{Number: 7, Code: "VII", Task: TaskQualityGrade, ExtendedReasoning: true, DependsOn: []float64{5, 6}},
	{Number: 7.1, Code: "VII.1", Task: TaskRevision, Conditional: true, Trigger: revisionRequested, DependsOn: []float64{7}},
	{Number: 8, Code: "VIII", Task: TaskAssembly, DependsOn: []float64{6, 7}},
	{Number: 9, Code: "IX", Task: TaskFinalApproval, Checkpoint: true, DependsOn: []float64{8}},
}

// ForPath returns the ordered catalog for a path. The returned slice is
// shared reference data; callers must not modify it.
func ForPath(p workflow.Path) ([]Definition, error) {
	switch p {
	case workflow.PathInitiating:
		return initiating, nil
	case workflow.PathOpposition:
		return opposition, nil
	default:
		return nil, fmt.Errorf("unknown workflow path: %q", p)
	}
}

// ByNumber returns the definition with the given phase number, or an error
// when the number is not in the catalog. A missing definition is a
// configuration error, never a soft default.
func ByNumber(p workflow.Path, number float64) (Definition, error) {
	defs, err := ForPath(p)
	if err != nil {
		return Definition{}, err
	}
	for _, d := range defs {
		if d.Number == number {
			return d, nil
		}
	}
	return Definition{}, fmt.Errorf("no phase definition for path %s phase %v", p, number)
}

// ByCode returns the definition with the given phase code.
func ByCode(p workflow.Path, code string) (Definition, error) {
	defs, err := ForPath(p)
	if err != nil {
		return Definition{}, err
	}
	for _, d := range defs {
		if d.Code == code {
			return d, nil
		}
	}
	return Definition{}, fmt.Errorf("no phase definition for path %s code %s", p, code)
}

// Next returns the definition that follows the given phase number, or
// ok=false when number is the final phase.
func Next(p workflow.Path, number float64) (Definition, bool, error) {
	defs, err := ForPath(p)
	if err != nil {
		return Definition{}, false, err
	}
	for i, d := range defs {
		if d.Number == number {
			if i+1 < len(defs) {
				return defs[i+1], true, nil
			}
			return Definition{}, false, nil
		}
	}
	return Definition{}, false, fmt.Errorf("no phase definition for path %s phase %v", p, number)
}

// First returns the opening phase of a path.
func First(p workflow.Path) (Definition, error) {
	defs, err := ForPath(p)
	if err != nil {
		return Definition{}, err
	}
	return defs[0], nil
}

// Last reports whether number is the final phase of the path.
func Last(p workflow.Path, number float64) (bool, error) {
	defs, err := ForPath(p)
	if err != nil {
		return false, err
	}
	return defs[len(defs)-1].Number == number, nil
}

// Numbers returns the ordered phase numbers of a path.
func Numbers(p workflow.Path) ([]float64, error) {
	defs, err := ForPath(p)
	if err != nil {
		return nil, err
	}
	nums := make([]float64, len(defs))
	for i, d := range defs {
		nums[i] = d.Number
	}
	sort.Float64s(nums)
	return nums, nil
}
