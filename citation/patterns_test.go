package citation

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantValid bool
		wantClass Class
		nameOnly  bool
	}{
		{
			name:      "supreme court reporter",
			raw:       "Brown v. Board of Education, 347 U.S. 483 (1954)",
			wantValid: true,
			wantClass: ClassCase,
		},
		{
			name:      "circuit reporter",
			raw:       "Smith v. Jones, 123 F.3d 456 (9th Cir. 1997)",
			wantValid: true,
			wantClass: ClassCase,
		},
		{
			name:      "statute",
			raw:       "42 U.S.C. § 1983",
			wantValid: true,
			wantClass: ClassStatute,
		},
		{
			name:      "statute range",
			raw:       "28 U.S.C. §§ 1331-1332",
			wantValid: true,
			wantClass: ClassStatute,
		},
		{
			name:      "regulation",
			raw:       "29 C.F.R. § 1910.95",
			wantValid: true,
			wantClass: ClassRegulation,
		},
		{
			name:      "civil procedure rule",
			raw:       "Fed. R. Civ. P. 56(c)",
			wantValid: true,
			wantClass: ClassRegulation,
		},
		{
			name:      "evidence rule",
			raw:       "Fed. R. Evid. 702",
			wantValid: true,
			wantClass: ClassRegulation,
		},
		{
			name:      "name only fallback",
			raw:       "Marbury v. Madison",
			wantValid: true,
			wantClass: ClassCase,
			nameOnly:  true,
		},
		{
			name:      "not a citation",
			raw:       "the court should grant the motion",
			wantValid: false,
		},
		{
			name:      "empty",
			raw:       "   ",
			wantValid: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			if got.Valid != tt.wantValid {
				t.Fatalf("Parse(%q).Valid = %v, want %v", tt.raw, got.Valid, tt.wantValid)
			}
			if !tt.wantValid {
				return
			}
			if got.Class != tt.wantClass {
				t.Errorf("Class = %q, want %q", got.Class, tt.wantClass)
			}
			if got.NameOnly != tt.nameOnly {
				t.Errorf("NameOnly = %v, want %v", got.NameOnly, tt.nameOnly)
			}
		})
	}
}

func TestParseComponents(t *testing.T) {
	got := Parse("Brown v. Board of Education, 347 U.S. 483 (1954)")
	if got.Components.Volume != "347" {
		t.Errorf("Volume = %q, want 347", got.Components.Volume)
	}
	if got.Components.Page != "483" {
		t.Errorf("Page = %q, want 483", got.Components.Page)
	}
	if got.Components.Year != 1954 {
		t.Errorf("Year = %d, want 1954", got.Components.Year)
	}
	if got.Authority != AuthorityBinding {
		t.Errorf("Authority = %q, want binding", got.Authority)
	}
}

func TestExtract(t *testing.T) {
	text := `As the Court held in Brown v. Board of Education, 347 U.S. 483 (1954),
segregation violates equal protection. See also 42 U.S.C. § 1983 and
Fed. R. Civ. P. 56(c). The same statute, 42 U.S.C. § 1983, is cited twice.`

	got := Extract(text)
	if len(got) != 3 {
		t.Fatalf("Extract returned %d candidates, want 3 (deduplicated): %v", len(got), got)
	}
	seen := map[string]bool{}
	for _, c := range got {
		if seen[c] {
			t.Errorf("duplicate candidate %q", c)
		}
		seen[c] = true
	}
}
