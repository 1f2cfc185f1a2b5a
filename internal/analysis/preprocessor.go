package analysis

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"golang.org/x/text/unicode/norm"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9][a-z0-9-]*`)

// BuildFeatureText joins title, abstract, keywords and enrichment into one
// feature string. Training and scoring both go through here so the field
// order never drifts.
func BuildFeatureText(award types.Award, enrichment *types.Enrichment) string {
	fields := FieldTexts(award, enrichment)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Text)
	}
	return strings.Join(parts, " ")
}

// FieldTexts returns the non-empty normalized text of each source field in feature order
func FieldTexts(award types.Award, enrichment *types.Enrichment) []FieldText {
	out := make([]FieldText, 0, 4)
	add := func(field Field, text string) {
		text = NormalizeText(text)
		if text != "" {
			out = append(out, FieldText{Field: field, Text: text})
		}
	}

	add(FieldTitle, award.Title)
	add(FieldAbstract, award.Abstract)
	add(FieldKeywords, strings.Join(award.Keywords, " "))
	if enrichment != nil {
		enriched := enrichment.Description
		if len(enrichment.Keywords) > 0 {
			enriched += " " + strings.Join(enrichment.Keywords, " ")
		}
		add(FieldEnrichment, enriched)
	}
	return out
}

// NormalizeText applies NFKC, drops control characters and collapses whitespace
func NormalizeText(text string) string {
	text = norm.NFKC.String(text)
	text = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}

// foldText lowercases normalized text for matching
func foldText(text string) string {
	return strings.ToLower(NormalizeText(text))
}

// Preprocessor turns feature text into n-gram terms
type Preprocessor struct {
	ngramMin  int
	ngramMax  int
	stopWords map[string]struct{}
}

// NewPreprocessor creates a preprocessor for the given n-gram range and stop words
func NewPreprocessor(ngramMin, ngramMax int, stopWords map[string]struct{}) *Preprocessor {
	return &Preprocessor{ngramMin: ngramMin, ngramMax: ngramMax, stopWords: stopWords}
}

// Tokens lowercases, tokenizes and removes stop words and single characters
func (p *Preprocessor) Tokens(text string) []string {
	raw := tokenPattern.FindAllString(foldText(text), -1)
	tokens := raw[:0]
	for _, tok := range raw {
		tok = strings.Trim(tok, "-")
		if len(tok) < 2 {
			continue
		}
		if _, stop := p.stopWords[tok]; stop {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// Terms returns every n-gram of the filtered token stream, in text order
func (p *Preprocessor) Terms(text string) []string {
	tokens := p.Tokens(text)
	if len(tokens) == 0 {
		return nil
	}
	terms := make([]string, 0, len(tokens)*(p.ngramMax-p.ngramMin+1))
	for n := p.ngramMin; n <= p.ngramMax; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			terms = append(terms, strings.Join(tokens[i:i+n], " "))
		}
	}
	return terms
}
