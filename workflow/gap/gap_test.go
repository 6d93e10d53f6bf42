package gap

import (
	"context"
	"strings"
	"testing"

	"github.com/briefmill/briefmill/citation"
)

type fakeEventStore struct {
	events map[string]*Event
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: map[string]*Event{}}
}

func (f *fakeEventStore) Create(_ context.Context, e *Event) error {
	f.events[e.ID] = e
	return nil
}

func (f *fakeEventStore) Update(_ context.Context, e *Event) error {
	f.events[e.ID] = e
	return nil
}

func (f *fakeEventStore) ListByWorkflow(_ context.Context, workflowID string) ([]*Event, error) {
	var out []*Event
	for _, e := range f.events {
		if e.WorkflowID == workflowID {
			out = append(out, e)
		}
	}
	return out, nil
}

type recordingEscalator struct {
	reasons []string
}

func (r *recordingEscalator) Escalate(_ context.Context, workflowID, phaseCode, reason string) {
	r.reasons = append(r.reasons, reason)
}

func TestCatalogComplete(t *testing.T) {
	catalog := Catalog()
	if len(catalog) != 17 {
		t.Fatalf("catalog has %d protocols, want 17", len(catalog))
	}
	for code, entry := range catalog {
		if entry.Name == "" || entry.Action == "" {
			t.Errorf("protocol %s missing name or action: %+v", code, entry)
		}
	}
}

func TestScanDraft(t *testing.T) {
	detector := &Detector{WordLimit: 50}

	complete := `# Introduction
text
# Statement of Facts
text
# Argument
text
# Conclusion
text`
	if events := detector.ScanDraft("wf-1", "V", complete); len(events) != 0 {
		t.Errorf("complete draft produced %d events: %+v", len(events), events)
	}

	missing := "# Introduction\ntext\n# Argument\ntext"
	events := detector.ScanDraft("wf-1", "V", missing)
	protocols := map[Protocol]bool{}
	for _, e := range events {
		protocols[e.Protocol] = true
	}
	if !protocols[ProtocolMissingSection] {
		t.Errorf("missing sections not detected: %+v", events)
	}

	long := "# Introduction\n# Statement of Facts\n# Argument\n# Conclusion\n" + strings.Repeat("word ", 100)
	events = detector.ScanDraft("wf-1", "V", long)
	found := false
	for _, e := range events {
		if e.Protocol == ProtocolWordCountOverage {
			found = true
		}
	}
	if !found {
		t.Error("word overage not detected")
	}
}

func TestScanAssembly(t *testing.T) {
	detector := &Detector{}

	good := "MOTION\n...\nCertificate of Compliance\n...\nCertificate of Service"
	if events := detector.ScanAssembly("wf-1", "VIII", "federal", good); len(events) != 0 {
		t.Errorf("complete assembly produced events: %+v", events)
	}

	events := detector.ScanAssembly("wf-1", "VIII", "federal", "MOTION ONLY")
	if len(events) != 2 {
		t.Fatalf("expected disclosure and service-certificate events, got %d", len(events))
	}
}

func TestScanCitations(t *testing.T) {
	mk := func(status citation.VerificationStatus, class citation.Class, page string) *citation.Record {
		rec := citation.NewRecord("wf-1", "pe-1", "raw")
		rec.Status = status
		rec.Class = class
		rec.Components.Page = page
		return rec
	}

	detector := &Detector{CitationMinimum: 2}
	records := []*citation.Record{
		mk(citation.StatusVerified, citation.ClassCase, "483"),
		mk(citation.StatusVerified, citation.ClassCase, ""), // pincite missing
		mk(citation.StatusInvalid, citation.ClassCase, ""),
		mk(citation.StatusNeedsUpdate, citation.ClassStatute, ""),
		mk(citation.StatusFlagged, citation.ClassCase, ""),
	}

	events := detector.ScanCitations("wf-1", "VI", records)
	counts := map[Protocol]int{}
	for _, e := range events {
		counts[e.Protocol]++
	}
	if counts[ProtocolCitationNotFound] != 1 {
		t.Errorf("GC-01 count = %d, want 1", counts[ProtocolCitationNotFound])
	}
	if counts[ProtocolStaleAuthority] != 1 {
		t.Errorf("stale authority count = %d, want 1", counts[ProtocolStaleAuthority])
	}
	if counts[ProtocolHoldingMismatch] != 1 {
		t.Errorf("holding mismatch count = %d, want 1", counts[ProtocolHoldingMismatch])
	}
	if counts[ProtocolPinciteMissing] != 1 {
		t.Errorf("pincite count = %d, want 1", counts[ProtocolPinciteMissing])
	}
	// Two verified against a minimum of two: no insufficiency event.
	if counts[ProtocolInsufficientCitations] != 0 {
		t.Errorf("unexpected insufficiency event with minimum met")
	}
}

func TestResolverAutoVsEscalate(t *testing.T) {
	store := newFakeEventStore()
	escalator := &recordingEscalator{}
	resolver := NewResolver(store, escalator)

	auto := NewEvent("wf-1", ProtocolFormatViolation, "V", "excess blank lines")
	manual := NewEvent("wf-1", ProtocolHoldingMismatch, "VI", "holding may not support")

	escalated, err := resolver.Process(context.Background(), []*Event{auto, manual})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if auto.State != StateAutoResolved {
		t.Errorf("auto-resolvable event state = %s, want auto_resolved", auto.State)
	}
	if auto.ActionTaken == "" {
		t.Error("auto-resolved event must record the action taken")
	}
	if manual.State != StateEscalated {
		t.Errorf("non-auto event state = %s, want escalated", manual.State)
	}
	if len(escalated) != 1 || escalated[0] != manual {
		t.Errorf("escalated = %+v, want just the manual event", escalated)
	}
	if len(escalator.reasons) != 1 {
		t.Errorf("escalator called %d times, want 1", len(escalator.reasons))
	}
}

func TestResolverRejectsUnknownProtocol(t *testing.T) {
	resolver := NewResolver(newFakeEventStore(), nil)
	bogus := NewEvent("wf-1", Protocol("GC-99"), "V", "")
	if _, err := resolver.Process(context.Background(), []*Event{bogus}); err == nil {
		t.Error("unknown protocol must be a hard error")
	}
}
