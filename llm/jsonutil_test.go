package llm

import (
	"encoding/json"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string // if non-empty, check this key exists in parsed JSON
		wantErr bool
	}{
		{
			name:    "plain JSON",
			input:   `{"score": 0.9}`,
			wantKey: "score",
		},
		{
			name:    "markdown code block",
			input:   "```json\n{\"score\": 0.9}\n```",
			wantKey: "score",
		},
		{
			name:    "markdown block with trailing text",
			input:   "```json\n{\"score\": 0.9}\n```\n\n**Some extra commentary**",
			wantKey: "score",
		},
		{
			name:    "line comments in values",
			input:   "```json\n{\n  \"citations\": [\n    \"347 U.S. 483\",          // landmark case\n    \"42 U.S.C. § 1983\"  // statute\n  ]\n}\n```",
			wantKey: "citations",
		},
		{
			name:    "comments and trailing commas",
			input:   "```json\n{\n  \"issues\": [\n    \"one\",  // first\n    \"two\",  // second\n  ]\n}\n```",
			wantKey: "issues",
		},
		{
			name:    "URL in string not stripped",
			input:   `{"url": "http://example.com/path"}`,
			wantKey: "url",
		},
		{
			name:    "prose before bare object",
			input:   "Here is the result:\n{\"score\": 0.8, \"feedback\": \"fine\"}",
			wantKey: "score",
		},
		{
			name:    "no JSON at all",
			input:   "just prose, nothing structured",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractJSON(tt.input)
			var parsed map[string]any
			err := json.Unmarshal([]byte(got), &parsed)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected unparseable result, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("extracted JSON does not parse: %v\nextracted: %q", err, got)
			}
			if _, ok := parsed[tt.wantKey]; !ok {
				t.Errorf("key %q missing from %v", tt.wantKey, parsed)
			}
		})
	}
}
