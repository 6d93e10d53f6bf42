package gap

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/briefmill/briefmill/citation"
)

// Pre-compiled patterns for structural scans of drafted content.
var (
	// sectionHeaderRe matches top-level draft section headings.
	sectionHeaderRe = regexp.MustCompile(`(?mi)^#{1,2}\s+(.+)$`)
	// doubleSpacingRe flags runs of blank lines beyond court formatting rules.
	doubleSpacingRe = regexp.MustCompile(`\n{4,}`)
)

// requiredSections are the structural sections every filing draft must
// contain, matched case-insensitively against draft headings.
var requiredSections = []string{
	"introduction",
	"statement of facts",
	"argument",
	"conclusion",
}

// requiredDisclosures maps jurisdictions to mandated disclosure phrases.
// Absence of the phrase in an assembled draft triggers GC-07.
var requiredDisclosures = map[string]string{
	"federal": "certificate of compliance",
	"default": "certificate of service",
}

// Detector scans phase outputs and citation results for cataloged anomaly
// shapes and emits pending events. Detection is deterministic; no LLM calls.
type Detector struct {
	// WordLimit is the jurisdiction's word cap for the motion; 0 disables
	// the overage check.
	WordLimit int

	// CitationMinimum is the tier-resolved verified-citation requirement.
	CitationMinimum int
}

// ScanDraft inspects drafted content for structural anomalies.
func (d *Detector) ScanDraft(workflowID, phaseCode, content string) []*Event {
	var events []*Event

	headings := map[string]bool{}
	for _, m := range sectionHeaderRe.FindAllStringSubmatch(content, -1) {
		headings[strings.ToLower(strings.TrimSpace(m[1]))] = true
	}
	for _, want := range requiredSections {
		if !containsHeading(headings, want) {
			events = append(events, NewEvent(workflowID, ProtocolMissingSection, phaseCode,
				fmt.Sprintf("required section %q not found", want)))
		}
	}

	if d.WordLimit > 0 {
		words := len(strings.Fields(content))
		if words > d.WordLimit {
			events = append(events, NewEvent(workflowID, ProtocolWordCountOverage, phaseCode,
				fmt.Sprintf("draft is %d words against a limit of %d", words, d.WordLimit)))
		}
	}

	if doubleSpacingRe.MatchString(content) {
		events = append(events, NewEvent(workflowID, ProtocolFormatViolation, phaseCode,
			"excess blank lines violate court formatting rules"))
	}

	return events
}

// ScanAssembly inspects the assembled filing for mandated disclosures.
func (d *Detector) ScanAssembly(workflowID, phaseCode, jurisdiction, content string) []*Event {
	var events []*Event

	phrase, ok := requiredDisclosures[strings.ToLower(jurisdiction)]
	if !ok {
		phrase = requiredDisclosures["default"]
	}
	if !strings.Contains(strings.ToLower(content), phrase) {
		events = append(events, NewEvent(workflowID, ProtocolMissingDisclosure, phaseCode,
			fmt.Sprintf("mandated disclosure %q not found", phrase)))
	}
	if !strings.Contains(strings.ToLower(content), "certificate of service") {
		events = append(events, NewEvent(workflowID, ProtocolMissingServiceCert, phaseCode,
			"certificate of service absent from assembled filing"))
	}

	return events
}

// ScanCitations inspects verification results for citation anomalies.
func (d *Detector) ScanCitations(workflowID, phaseCode string, records []*citation.Record) []*Event {
	var events []*Event

	verified := 0
	for _, rec := range records {
		switch rec.Status {
		case citation.StatusVerified:
			verified++
		case citation.StatusInvalid:
			events = append(events, NewEvent(workflowID, ProtocolCitationNotFound, phaseCode,
				fmt.Sprintf("citation %q failed verification", rec.RawText)))
		case citation.StatusNeedsUpdate:
			events = append(events, NewEvent(workflowID, ProtocolStaleAuthority, phaseCode,
				fmt.Sprintf("citation %q has a suggested correction: %s", rec.RawText, rec.CorrectedText)))
		case citation.StatusFlagged:
			events = append(events, NewEvent(workflowID, ProtocolHoldingMismatch, phaseCode,
				fmt.Sprintf("citation %q flagged: holding may not support the proposition", rec.RawText)))
		}
		if rec.Status == citation.StatusVerified && rec.Class == citation.ClassCase && rec.Components.Page == "" {
			events = append(events, NewEvent(workflowID, ProtocolPinciteMissing, phaseCode,
				fmt.Sprintf("citation %q lacks a pinpoint page", rec.RawText)))
		}
	}

	if d.CitationMinimum > 0 && verified < d.CitationMinimum {
		events = append(events, NewEvent(workflowID, ProtocolInsufficientCitations, phaseCode,
			fmt.Sprintf("verified citations %d < required %d for tier", verified, d.CitationMinimum)))
	}

	return events
}

// containsHeading reports whether any collected heading contains the wanted
// section name.
func containsHeading(headings map[string]bool, want string) bool {
	for h := range headings {
		if strings.Contains(h, want) {
			return true
		}
	}
	return false
}
