// Package gap implements the gap closure engine: a fixed catalog of named
// remediation protocols, detection functions that scan phase outputs and
// citation results for known anomaly shapes, and resolution routines that
// either apply a scripted fix or escalate for human review.
package gap

import (
	"time"

	"github.com/google/uuid"
)

// Protocol identifies one remediation protocol in the fixed catalog.
type Protocol string

// The protocol catalog. Codes are stable identifiers recorded on events;
// auto-resolvable protocols carry a scripted fix, the rest escalate.
const (
	ProtocolCitationNotFound      Protocol = "GC-01"
	ProtocolHoldingMismatch       Protocol = "GC-02"
	ProtocolOverruledAuthority    Protocol = "GC-03"
	ProtocolInsufficientCitations Protocol = "GC-04"
	ProtocolMissingSection        Protocol = "GC-05"
	ProtocolWordCountOverage      Protocol = "GC-06"
	ProtocolMissingDisclosure     Protocol = "GC-07"
	ProtocolFormatViolation       Protocol = "GC-08"
	ProtocolCaptionDefect         Protocol = "GC-09"
	ProtocolMissingServiceCert    Protocol = "GC-10"
	ProtocolJurisdictionMismatch  Protocol = "GC-11"
	ProtocolStaleAuthority        Protocol = "GC-12"
	ProtocolQuoteMismatch         Protocol = "GC-13"
	ProtocolPinciteMissing        Protocol = "GC-14"
	ProtocolAuthorityTableGap     Protocol = "GC-15"
	ProtocolEvidenceGap           Protocol = "GC-16"
	ProtocolDeadlineConflict      Protocol = "GC-17"
)

// Entry describes one catalog protocol.
type Entry struct {
	Code Protocol
	Name string

	// AutoResolvable protocols carry a scripted remediation; the rest
	// transition straight to escalated.
	AutoResolvable bool

	// Action is the remediation description recorded on resolution.
	Action string
}

// catalog is the complete, enumerable protocol set.
var catalog = map[Protocol]Entry{
	ProtocolCitationNotFound:      {Code: ProtocolCitationNotFound, Name: "citation_not_found", AutoResolvable: false, Action: "escalate to attorney: cited authority could not be located"},
	ProtocolHoldingMismatch:       {Code: ProtocolHoldingMismatch, Name: "holding_mismatch", AutoResolvable: false, Action: "escalate to attorney: cited holding does not support the proposition"},
	ProtocolOverruledAuthority:    {Code: ProtocolOverruledAuthority, Name: "overruled_authority", AutoResolvable: false, Action: "escalate to attorney: authority overruled or superseded"},
	ProtocolInsufficientCitations: {Code: ProtocolInsufficientCitations, Name: "insufficient_citations", AutoResolvable: true, Action: "dispatch supplemental authority research for the motion's tier"},
	ProtocolMissingSection:        {Code: ProtocolMissingSection, Name: "missing_section", AutoResolvable: true, Action: "regenerate the missing structural section"},
	ProtocolWordCountOverage:      {Code: ProtocolWordCountOverage, Name: "word_count_overage", AutoResolvable: true, Action: "condense draft to within the jurisdiction's word limit"},
	ProtocolMissingDisclosure:     {Code: ProtocolMissingDisclosure, Name: "missing_disclosure", AutoResolvable: true, Action: "append the jurisdiction-mandated disclosure text"},
	ProtocolFormatViolation:       {Code: ProtocolFormatViolation, Name: "format_violation", AutoResolvable: true, Action: "re-format to the court's formatting rules"},
	ProtocolCaptionDefect:         {Code: ProtocolCaptionDefect, Name: "caption_defect", AutoResolvable: true, Action: "rebuild the caption block from order metadata"},
	ProtocolMissingServiceCert:    {Code: ProtocolMissingServiceCert, Name: "missing_certificate_of_service", AutoResolvable: true, Action: "append certificate of service from the service list"},
	ProtocolJurisdictionMismatch:  {Code: ProtocolJurisdictionMismatch, Name: "jurisdiction_mismatch", AutoResolvable: false, Action: "escalate to attorney: cited authority from non-controlling jurisdiction in a binding context"},
	ProtocolStaleAuthority:        {Code: ProtocolStaleAuthority, Name: "stale_authority", AutoResolvable: true, Action: "re-verify authority currency against the citator"},
	ProtocolQuoteMismatch:         {Code: ProtocolQuoteMismatch, Name: "quote_mismatch", AutoResolvable: false, Action: "escalate to attorney: quoted language differs from the source"},
	ProtocolPinciteMissing:        {Code: ProtocolPinciteMissing, Name: "pincite_missing", AutoResolvable: true, Action: "resolve pinpoint pages for citations lacking them"},
	ProtocolAuthorityTableGap:     {Code: ProtocolAuthorityTableGap, Name: "table_of_authorities_incomplete", AutoResolvable: true, Action: "regenerate table of authorities from the ledger"},
	ProtocolEvidenceGap:           {Code: ProtocolEvidenceGap, Name: "evidence_gap", AutoResolvable: false, Action: "escalate to customer: factual assertion lacks supporting evidence"},
	ProtocolDeadlineConflict:      {Code: ProtocolDeadlineConflict, Name: "deadline_conflict", AutoResolvable: false, Action: "escalate to attorney: filing deadline conflicts with production schedule"},
}

// Lookup returns the catalog entry for a protocol code.
func Lookup(p Protocol) (Entry, bool) {
	e, ok := catalog[p]
	return e, ok
}

// Catalog returns every protocol entry. The map is copied so callers cannot
// mutate the catalog.
func Catalog() map[Protocol]Entry {
	out := make(map[Protocol]Entry, len(catalog))
	for k, v := range catalog {
		out[k] = v
	}
	return out
}

// ResolutionState tracks an event through remediation.
type ResolutionState string

const (
	StatePending        ResolutionState = "pending"
	StateAutoResolved   ResolutionState = "auto_resolved"
	StateManualResolved ResolutionState = "manual_resolved"
	StateEscalated      ResolutionState = "escalated"
)

// Event records one detected anomaly. Events are append-only history:
// created by detection, mutated only by resolution, never deleted.
type Event struct {
	ID          string          `json:"id"`
	WorkflowID  string          `json:"workflow_id"`
	Protocol    Protocol        `json:"protocol"`
	PhaseCode   string          `json:"phase_code"`
	Context     string          `json:"context,omitempty"`
	State       ResolutionState `json:"state"`
	ActionTaken string          `json:"action_taken,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// NewEvent creates a pending event for a detected anomaly.
func NewEvent(workflowID string, protocol Protocol, phaseCode, context string) *Event {
	return &Event{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Protocol:   protocol,
		PhaseCode:  phaseCode,
		Context:    context,
		State:      StatePending,
		CreatedAt:  time.Now().UTC(),
	}
}
