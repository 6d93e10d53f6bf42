package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// ParseTier records which extraction tier produced a structured result.
type ParseTier string

const (
	// TierStrict means the content parsed directly as JSON.
	TierStrict ParseTier = "strict"

	// TierExtracted means JSON was recovered from a fenced block or a
	// greedy object match.
	TierExtracted ParseTier = "extracted"

	// TierFieldRegex means individual fields were scraped by regex from
	// otherwise unparseable text.
	TierFieldRegex ParseTier = "field_regex"

	// TierFailed means all three tiers failed; the raw text is preserved
	// as a flagged, low-confidence result.
	TierFailed ParseTier = "failed"
)

// Pre-compiled field patterns for the last-resort extraction tier. They
// scrape the fields phase handlers rely on out of malformed responses.
var (
	scoreFieldPattern   = regexp.MustCompile(`(?i)"?(?:quality_)?score"?\s*[:=]\s*(0?\.\d+|1\.0|0|1)`)
	contentFieldPattern = regexp.MustCompile(`(?is)"content"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	summaryFieldPattern = regexp.MustCompile(`(?is)"summary"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	boolFieldPattern    = regexp.MustCompile(`(?i)"(\w+)"\s*:\s*(true|false)`)
)

// StructuredResult is the outcome of the three-tier extraction.
type StructuredResult struct {
	// Fields holds the extracted key/value pairs. For TierFailed it is
	// empty and Raw carries the original text.
	Fields map[string]any

	Tier ParseTier

	// Raw is the original response content, preserved verbatim when all
	// extraction tiers fail so that nothing is discarded.
	Raw string
}

// DecodeStructured extracts JSON-shaped content from a completion response
// through three fallback tiers: strict parse, fenced-block/greedy-object
// extraction, then per-field regex scraping. If everything fails the raw
// text is preserved with TierFailed — never discarded, never an error.
func DecodeStructured(content string) *StructuredResult {
	// Tier 1: strict parse.
	var fields map[string]any
	if err := json.Unmarshal([]byte(content), &fields); err == nil {
		return &StructuredResult{Fields: fields, Tier: TierStrict, Raw: content}
	}

	// Tier 2: fenced block or greedy object extraction with cleanup.
	if extracted := ExtractJSON(content); extracted != "" {
		fields = nil
		if err := json.Unmarshal([]byte(extracted), &fields); err == nil {
			return &StructuredResult{Fields: fields, Tier: TierExtracted, Raw: content}
		}
	}

	// Tier 3: scrape individual fields by regex.
	fields = map[string]any{}
	if m := scoreFieldPattern.FindStringSubmatch(content); m != nil {
		if score, err := strconv.ParseFloat(m[1], 64); err == nil {
			fields["score"] = score
		}
	}
	if m := contentFieldPattern.FindStringSubmatch(content); m != nil {
		fields["content"] = unescapeJSONString(m[1])
	}
	if m := summaryFieldPattern.FindStringSubmatch(content); m != nil {
		fields["summary"] = unescapeJSONString(m[1])
	}
	for _, m := range boolFieldPattern.FindAllStringSubmatch(content, -1) {
		fields[m[1]] = m[2] == "true"
	}
	if len(fields) > 0 {
		return &StructuredResult{Fields: fields, Tier: TierFieldRegex, Raw: content}
	}

	return &StructuredResult{Tier: TierFailed, Raw: content}
}

// Score returns the extracted numeric score field, if any.
func (r *StructuredResult) Score() (float64, bool) {
	for _, key := range []string{"score", "quality_score"} {
		if v, ok := r.Fields[key]; ok {
			switch n := v.(type) {
			case float64:
				return n, true
			case json.Number:
				if f, err := n.Float64(); err == nil {
					return f, true
				}
			}
		}
	}
	return 0, false
}

// String returns the named field as a string, if present.
func (r *StructuredResult) String(key string) (string, bool) {
	v, ok := r.Fields[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool returns the named field as a bool, if present.
func (r *StructuredResult) Bool(key string) (bool, bool) {
	v, ok := r.Fields[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// unescapeJSONString undoes JSON escaping in a regex-captured string value.
func unescapeJSONString(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

// Describe returns a short human-readable label for logging.
func (r *StructuredResult) Describe() string {
	return fmt.Sprintf("tier=%s fields=%d", r.Tier, len(r.Fields))
}
