package llm

import "testing"

func TestDecodeStructuredTiers(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantTier ParseTier
	}{
		{
			name:     "strict json",
			content:  `{"score": 0.91, "feedback": "solid"}`,
			wantTier: TierStrict,
		},
		{
			name:     "fenced block",
			content:  "Here is my assessment:\n```json\n{\"score\": 0.88}\n```\nLet me know.",
			wantTier: TierExtracted,
		},
		{
			name:     "trailing commas recovered",
			content:  "```json\n{\"items\": [\"one\", \"two\",], \"score\": 0.8,}\n```",
			wantTier: TierExtracted,
		},
		{
			name:     "field regex scrape",
			content:  `The draft scores well. "score": 0.85 and "revision_requested": false overall {{broken`,
			wantTier: TierFieldRegex,
		},
		{
			name:     "nothing extractable",
			content:  "I apologize, but I cannot provide a structured assessment at this time.",
			wantTier: TierFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeStructured(tt.content)
			if got.Tier != tt.wantTier {
				t.Errorf("Tier = %q, want %q", got.Tier, tt.wantTier)
			}
			if got.Raw != tt.content {
				t.Error("Raw must always preserve the original content")
			}
		})
	}
}

func TestDecodeStructuredScore(t *testing.T) {
	got := DecodeStructured(`{"score": 0.87}`)
	score, ok := got.Score()
	if !ok || score != 0.87 {
		t.Errorf("Score() = %v, %v; want 0.87, true", score, ok)
	}

	got = DecodeStructured(`{"quality_score": 0.92}`)
	score, ok = got.Score()
	if !ok || score != 0.92 {
		t.Errorf("quality_score alias = %v, %v; want 0.92, true", score, ok)
	}

	got = DecodeStructured(`{"feedback": "no score here"}`)
	if _, ok := got.Score(); ok {
		t.Error("Score() should report absence")
	}
}

func TestDecodeStructuredFailurePreservesRaw(t *testing.T) {
	raw := "completely unstructured refusal text"
	got := DecodeStructured(raw)
	if got.Tier != TierFailed {
		t.Fatalf("Tier = %q, want failed", got.Tier)
	}
	if len(got.Fields) != 0 {
		t.Errorf("Fields should be empty on failure, got %v", got.Fields)
	}
	if got.Raw != raw {
		t.Error("raw text must be preserved verbatim")
	}
}

func TestStructuredAccessors(t *testing.T) {
	got := DecodeStructured(`{"content": "draft text", "anticipates_opposition": true}`)

	if s, ok := got.String("content"); !ok || s != "draft text" {
		t.Errorf("String(content) = %q, %v", s, ok)
	}
	if b, ok := got.Bool("anticipates_opposition"); !ok || !b {
		t.Errorf("Bool(anticipates_opposition) = %v, %v", b, ok)
	}
	if _, ok := got.String("missing"); ok {
		t.Error("String on absent key should report absence")
	}
}
