package citation

import (
	"context"
	"fmt"
)

// RequirementResult is the hard-stop verdict for a workflow's citations.
type RequirementResult struct {
	Meets         bool   `json:"meets"`
	VerifiedCount int    `json:"verified_count"`
	CurrentCount  int    `json:"current_count"`
	Minimum       int    `json:"minimum"`
	Reason        string `json:"reason,omitempty"`
}

// Gate enforces the minimum-verified-citation hard stop.
type Gate struct {
	ledger Ledger
}

// NewGate creates a gate over the given ledger.
func NewGate(ledger Ledger) *Gate {
	return &Gate{ledger: ledger}
}

// CheckCitationRequirement re-queries the workflow's citations and checks
// the verified count against the minimum. The counts are never cached
// across calls: a prior partial verification run must not mask a still
// deficient count.
func (g *Gate) CheckCitationRequirement(ctx context.Context, workflowID string, minimum int) (*RequirementResult, error) {
	records, err := g.ledger.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list citations for workflow %s: %w", workflowID, err)
	}

	verified := 0
	for _, rec := range records {
		if rec.Status == StatusVerified {
			verified++
		}
	}

	result := &RequirementResult{
		VerifiedCount: verified,
		CurrentCount:  len(records),
		Minimum:       minimum,
		Meets:         verified >= minimum,
	}
	if !result.Meets {
		result.Reason = fmt.Sprintf("verified citations %d < required %d", verified, minimum)
	}
	return result, nil
}
