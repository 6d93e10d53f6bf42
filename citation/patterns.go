package citation

import (
	"regexp"
	"strconv"
	"strings"
)

// Pre-compiled citation grammars. A citation that matches none of these and
// not the "Name v. Name" fallback is structurally invalid with no further
// verification attempted.
var (
	// caseReporterPattern matches reported case citations:
	// "347 U.S. 483 (1954)", "123 F.3d 456 (9th Cir. 1997)".
	caseReporterPattern = regexp.MustCompile(`(?i)\b(\d{1,4})\s+([A-Z][A-Za-z0-9.\s]{0,18}?)\s+(\d{1,5})(?:,\s*\d{1,5})?\s*(?:\(([^()]*?)(\d{4})\))?`)

	// statutePattern matches statutory code citations:
	// "42 U.S.C. § 1983", "28 U.S.C. §§ 1331-1332".
	statutePattern = regexp.MustCompile(`(?i)\b(\d{1,3})\s+(U\.?S\.?C\.?[A-Za-z.]*)\s*§{1,2}\s*([\d.\-a-z()]+)`)

	// regulationPattern matches regulatory citations:
	// "29 C.F.R. § 1910.95".
	regulationPattern = regexp.MustCompile(`(?i)\b(\d{1,3})\s+(C\.?F\.?R\.?)\s*§{1,2}\s*([\d.\-a-z()]+)`)

	// rulePattern matches procedural rule citations:
	// "Fed. R. Civ. P. 56(c)", "Fed. R. Evid. 702".
	rulePattern = regexp.MustCompile(`(?i)\bFed\.?\s*R\.?\s*(Civ|Crim|App|Evid|Bankr)\.?\s*P?\.?\s*(\d+[a-z()\d.]*)`)

	// caseNamePattern is the fallback "Name v. Name" grammar for case
	// citations with no reporter match.
	caseNamePattern = regexp.MustCompile(`\b([A-Z][A-Za-z'.\-]+(?:\s+[A-Z][A-Za-z'.\-]+)*)\s+v\.?\s+([A-Z][A-Za-z'.\-]+(?:\s+[A-Z][A-Za-z'.\-]+)*)`)

	// bindingCourtPattern identifies courts whose holdings bind the forum.
	bindingCourtPattern = regexp.MustCompile(`(?i)U\.?S\.?|S\.\s*Ct\.|Supreme\s+Court`)
)

// ParseResult is the structural validation outcome for one citation string.
type ParseResult struct {
	Valid      bool
	Class      Class
	Components Components
	Authority  Authority

	// NameOnly marks citations that only matched the Name v. Name
	// fallback; they are structurally plausible but carry less confidence.
	NameOnly bool
}

// Parse validates raw citation text against the grammars and extracts the
// components of the first matching form.
func Parse(raw string) ParseResult {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ParseResult{}
	}

	if m := statutePattern.FindStringSubmatch(text); m != nil {
		return ParseResult{
			Valid: true,
			Class: ClassStatute,
			Components: Components{
				Volume:   m[1],
				Reporter: m[2],
				Page:     m[3],
			},
			Authority: AuthorityBinding,
		}
	}

	if m := regulationPattern.FindStringSubmatch(text); m != nil {
		return ParseResult{
			Valid: true,
			Class: ClassRegulation,
			Components: Components{
				Volume:   m[1],
				Reporter: m[2],
				Page:     m[3],
			},
			Authority: AuthorityBinding,
		}
	}

	if m := rulePattern.FindStringSubmatch(text); m != nil {
		return ParseResult{
			Valid: true,
			Class: ClassRegulation,
			Components: Components{
				Reporter: "Fed. R. " + m[1] + ". P.",
				Page:     m[2],
			},
			Authority: AuthorityBinding,
		}
	}

	if m := caseReporterPattern.FindStringSubmatch(text); m != nil {
		comp := Components{
			Volume:   m[1],
			Reporter: strings.TrimSpace(m[2]),
			Page:     m[3],
			Court:    strings.TrimSpace(m[4]),
		}
		if m[5] != "" {
			if year, err := strconv.Atoi(m[5]); err == nil {
				comp.Year = year
			}
		}
		return ParseResult{
			Valid:      true,
			Class:      ClassCase,
			Components: comp,
			Authority:  classifyAuthority(comp),
		}
	}

	if caseNamePattern.MatchString(text) {
		return ParseResult{
			Valid:     true,
			Class:     ClassCase,
			Authority: AuthorityPersuasive,
			NameOnly:  true,
		}
	}

	return ParseResult{}
}

// classifyAuthority decides binding weight from the reporter/court fields.
// Supreme Court and official U.S. reporters bind; everything else is
// treated as persuasive until the verifier says otherwise.
func classifyAuthority(c Components) Authority {
	if bindingCourtPattern.MatchString(c.Reporter) || bindingCourtPattern.MatchString(c.Court) {
		return AuthorityBinding
	}
	return AuthorityPersuasive
}

// Extract scans free text for citation candidates across all grammars,
// returning the distinct matched strings in order of appearance. Used by
// the authority-research phase to seed the ledger from drafted content.
func Extract(text string) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(matches []string) {
		for _, m := range matches {
			trimmed := strings.TrimSpace(m)
			if trimmed == "" || seen[trimmed] {
				continue
			}
			seen[trimmed] = true
			out = append(out, trimmed)
		}
	}

	add(statutePattern.FindAllString(text, -1))
	add(regulationPattern.FindAllString(text, -1))
	add(rulePattern.FindAllString(text, -1))
	add(caseReporterPattern.FindAllString(text, -1))
	return out
}
