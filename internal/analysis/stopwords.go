package analysis

import (
	"sort"
	"strings"
)

var genericStopWords = []string{
	"a", "about", "above", "after", "again", "against", "all", "also", "am", "an", "and", "any", "are", "as", "at",
	"be", "because", "been", "before", "being", "below", "between", "both", "but", "by",
	"can", "could", "did", "do", "does", "doing", "down", "during",
	"each", "either", "etc", "few", "for", "from", "further",
	"had", "has", "have", "having", "he", "her", "here", "hers", "him", "his", "how",
	"i", "if", "in", "into", "is", "it", "its", "itself",
	"may", "me", "might", "more", "most", "much", "must", "my",
	"no", "nor", "not", "now", "of", "off", "on", "once", "only", "or", "other", "our", "ours", "out", "over", "own",
	"per", "same", "shall", "she", "should", "so", "some", "such",
	"than", "that", "the", "their", "theirs", "them", "then", "there", "these", "they", "this", "those", "through", "to", "too",
	"under", "until", "up", "upon", "us", "very",
	"was", "we", "were", "what", "when", "where", "which", "while", "who", "whom", "why", "will", "with", "within", "would",
	"you", "your", "yours",
}

// Program boilerplate that appears across every award regardless of technology area.
var domainStopWords = []string{
	"sbir", "sttr", "phase", "ii", "iii", "proposal", "proposed", "propose", "proposes",
	"program", "project", "contract", "contractor", "award", "awarded", "offeror",
	"solicitation", "topic", "effort", "objective", "objectives", "technical",
	"small", "business", "innovation", "research", "feasibility", "demonstrate",
	"demonstration", "develop", "development", "developed", "prototype", "commercial",
	"commercialization", "government", "dod", "nasa", "nih", "nsf", "doe", "usaf", "navy", "army",
	"approach", "capability", "capabilities", "performance", "system", "systems",
	"novel", "new", "use", "using", "based", "provide", "provides", "work", "task", "tasks",
}

// StopWords returns the generic plus domain stop-word set with extra words merged in
func StopWords(extra []string) map[string]struct{} {
	set := make(map[string]struct{}, len(genericStopWords)+len(domainStopWords)+len(extra))
	for _, list := range [][]string{genericStopWords, domainStopWords, extra} {
		for _, w := range list {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				set[w] = struct{}{}
			}
		}
	}
	return set
}

func sortedStopWords(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func stopWordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
