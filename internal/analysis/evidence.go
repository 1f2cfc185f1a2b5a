package analysis

import (
	"fmt"
	"strings"
)

const (
	MaxEvidenceStatements = 3
	MaxEvidenceWords      = 50
)

// ExtractEvidence finds up to three excerpts that contain the category's terms.
// Fields are searched in order; per term the shortest containing sentence is
// used, cut to a window around the match when it exceeds the word limit.
// No locatable match yields an empty slice.
func ExtractEvidence(fields []FieldText, categoryName string, terms []string) []EvidenceStatement {
	out := make([]EvidenceStatement, 0, MaxEvidenceStatements)
	folded := foldKeywords(terms)
	original := make(map[string]string, len(terms))
	for _, t := range terms {
		if k := foldText(t); k != "" {
			if _, ok := original[k]; !ok {
				original[k] = strings.TrimSpace(t)
			}
		}
	}

	seen := make(map[string]struct{})
	for _, f := range fields {
		sentences := splitSentences(f.Text)
		for _, term := range folded {
			excerpt, ok := bestExcerpt(sentences, term)
			if !ok {
				continue
			}
			key := string(f.Field) + "\x00" + excerpt
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, EvidenceStatement{
				Source:    f.Field,
				Excerpt:   excerpt,
				Rationale: fmt.Sprintf("matches %q for %s", original[term], categoryName),
				Term:      original[term],
			})
			if len(out) == MaxEvidenceStatements {
				return out
			}
		}
	}
	return out
}

func bestExcerpt(sentences []string, term string) (string, bool) {
	best := ""
	bestWords := 0
	for _, s := range sentences {
		if !containsAsWord(strings.ToLower(s), term) {
			continue
		}
		n := len(strings.Fields(s))
		if best == "" || n < bestWords {
			best, bestWords = s, n
		}
	}
	if best == "" {
		return "", false
	}
	if bestWords <= MaxEvidenceWords {
		return best, true
	}
	return window(best, term), true
}

// window returns MaxEvidenceWords words centered on the first occurrence of term
func window(sentence, term string) string {
	words := strings.Fields(sentence)
	span := len(strings.Fields(term))
	at := 0
	for i := 0; i+span <= len(words); i++ {
		if containsAsWord(strings.ToLower(strings.Join(words[i:i+span], " ")), term) {
			at = i
			break
		}
	}
	start := max(0, at-(MaxEvidenceWords-span)/2)
	end := min(len(words), start+MaxEvidenceWords)
	start = max(0, end-MaxEvidenceWords)
	return strings.Join(words[start:end], " ")
}

// splitSentences breaks text after terminal punctuation followed by whitespace
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?', ';':
			if i+1 == len(text) || text[i+1] == ' ' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
