// Package ingest reads award records and labeled training examples from
// JSONL (optionally gzip-compressed) and CSV files and normalizes them.
package ingest

import (
	"strings"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
)

// agencyAliases maps upper-cased long agency names to the codes used by the
// rule priors
var agencyAliases = map[string]string{
	"DEPARTMENT OF DEFENSE":                         "DOD",
	"DEPT OF DEFENSE":                               "DOD",
	"DOD":                                           "DOD",
	"NATIONAL AERONAUTICS AND SPACE ADMINISTRATION": "NASA",
	"NASA":                                          "NASA",
	"DEPARTMENT OF ENERGY":                          "DOE",
	"DOE":                                           "DOE",
	"DEPARTMENT OF HEALTH AND HUMAN SERVICES":       "HHS",
	"HHS":                                           "HHS",
	"NATIONAL INSTITUTES OF HEALTH":                 "NIH",
	"NIH":                                           "NIH",
	"NATIONAL SCIENCE FOUNDATION":                   "NSF",
	"NSF":                                           "NSF",
	"DEPARTMENT OF HOMELAND SECURITY":               "DHS",
	"DHS":                                           "DHS",
	"DEPARTMENT OF AGRICULTURE":                     "USDA",
	"USDA":                                          "USDA",
	"DEPARTMENT OF COMMERCE":                        "DOC",
	"DOC":                                           "DOC",
	"DEPARTMENT OF TRANSPORTATION":                  "DOT",
	"DOT":                                           "DOT",
	"DEPARTMENT OF EDUCATION":                       "ED",
	"ED":                                            "ED",
	"ENVIRONMENTAL PROTECTION AGENCY":               "EPA",
	"EPA":                                           "EPA",
}

// dateLayouts are tried in order when parsing award dates
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeAgency upper-cases and collapses an agency name and maps known
// long forms to their short code. Unknown agencies keep their upper-cased name.
func NormalizeAgency(agency string) string {
	agency = strings.ToUpper(collapseSpace(agency))
	agency = strings.TrimPrefix(agency, "U.S. ")
	agency = strings.TrimPrefix(agency, "US ")
	if code, ok := agencyAliases[agency]; ok {
		return code
	}
	return agency
}

// SplitKeywords splits on ';' and ',' and drops blanks and case-insensitive
// duplicates, keeping first occurrences in order
func SplitKeywords(raw ...string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, r := range raw {
		parts := strings.FieldsFunc(r, func(c rune) bool { return c == ';' || c == ',' })
		for _, p := range parts {
			p = collapseSpace(p)
			if p == "" {
				continue
			}
			key := strings.ToLower(p)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// ParseDate accepts ISO, RFC3339 and US month/day/year dates. Blank input
// yields the zero time.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// NormalizeAward trims text fields, normalizes the agency and dedupes keywords
func NormalizeAward(a types.Award) types.Award {
	a.ID = strings.TrimSpace(a.ID)
	a.Agency = NormalizeAgency(a.Agency)
	a.Branch = collapseSpace(a.Branch)
	a.Title = collapseSpace(a.Title)
	a.Abstract = collapseSpace(a.Abstract)
	a.Keywords = SplitKeywords(a.Keywords...)
	a.TopicCode = strings.TrimSpace(a.TopicCode)
	a.Program = strings.ToUpper(strings.TrimSpace(a.Program))
	a.Phase = normalizePhase(a.Phase)
	a.Firm = collapseSpace(a.Firm)
	return a
}

func normalizePhase(phase string) string {
	p := strings.ToUpper(strings.TrimSpace(phase))
	p = strings.TrimPrefix(p, "PHASE ")
	switch p {
	case "1":
		return "I"
	case "2":
		return "II"
	case "3":
		return "III"
	}
	return p
}
