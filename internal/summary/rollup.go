// Package summary rolls the latest assessments of an award portfolio up by
// category, band and agency, and derives the historical tie-break signals
// used when ranking categories.
package summary

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/taxonomy"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
)

// Filter narrows the portfolio before rolling it up. Empty slices match
// everything; From and To bound the award date inclusively when set.
type Filter struct {
	Agencies   []string        `json:"agencies,omitempty"`
	Categories []string        `json:"categories,omitempty"`
	Bands      []analysis.Band `json:"bands,omitempty"`
	From       time.Time       `json:"from,omitempty"`
	To         time.Time       `json:"to,omitempty"`
}

// NewFilter parses band names, lowercases category IDs and drops blank values
func NewFilter(agencies, categories, bands []string) (Filter, error) {
	f := Filter{
		Agencies:   compact(agencies),
		Categories: compact(categories),
	}
	for i, c := range f.Categories {
		f.Categories[i] = strings.ToLower(c)
	}
	for _, b := range compact(bands) {
		band, err := analysis.ParseBand(b)
		if err != nil {
			return Filter{}, err
		}
		if !slices.Contains(f.Bands, band) {
			f.Bands = append(f.Bands, band)
		}
	}
	return f, nil
}

func compact(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// key is a canonical form of the filter, independent of value order
func (f Filter) key() string {
	norm := func(values []string) string {
		out := make([]string, 0, len(values))
		for _, v := range values {
			out = append(out, strings.ToUpper(strings.TrimSpace(v)))
		}
		sort.Strings(out)
		return strings.Join(out, ",")
	}
	bands := make([]string, 0, len(f.Bands))
	for _, b := range f.Bands {
		bands = append(bands, b.String())
	}
	return strings.Join([]string{
		norm(f.Agencies),
		norm(f.Categories),
		norm(bands),
		dateKey(f.From),
		dateKey(f.To),
	}, "|")
}

func dateKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

// MatchAward reports whether the award passes the agency and date bounds
func (f Filter) MatchAward(a types.Award) bool {
	if len(f.Agencies) > 0 && !slices.ContainsFunc(f.Agencies, func(s string) bool {
		return strings.EqualFold(strings.TrimSpace(s), a.Agency)
	}) {
		return false
	}
	if !f.From.IsZero() && (a.AwardDate.IsZero() || a.AwardDate.Before(f.From)) {
		return false
	}
	if !f.To.IsZero() && (a.AwardDate.IsZero() || a.AwardDate.After(f.To)) {
		return false
	}
	return true
}

// MatchAssessment reports whether the primary category and band pass
func (f Filter) MatchAssessment(a analysis.Assessment) bool {
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, a.PrimaryCategory) {
		return false
	}
	if len(f.Bands) > 0 && !slices.Contains(f.Bands, a.Band) {
		return false
	}
	return true
}

// Bucket is one row of a rollup. Share is the bucket's fraction of the
// awards in scope and ObligatedShare its fraction of the obligated total.
type Bucket struct {
	Key            string  `json:"key"`
	Name           string  `json:"name,omitempty"`
	Awards         int     `json:"awards"`
	Obligated      float64 `json:"obligated"`
	Share          float64 `json:"share"`
	ObligatedShare float64 `json:"obligated_share"`
}

// CategoryRollup adds the band breakdown for one primary category
type CategoryRollup struct {
	Bucket
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Summary is a portfolio view over the latest assessment of each award
type Summary struct {
	TaxonomyVersion string           `json:"taxonomy_version"`
	GeneratedAt     time.Time        `json:"generated_at"`
	Filter          Filter           `json:"filter"`
	Awards          int              `json:"awards"`
	Unscored        int              `json:"unscored"`
	Obligated       float64          `json:"obligated"`
	ByCategory      []CategoryRollup `json:"by_category"`
	ByBand          []Bucket         `json:"by_band"`
	ByAgency        []Bucket         `json:"by_agency"`
}

type tally struct {
	awards    int
	obligated float64
}

func (t *tally) add(amount float64) {
	t.awards++
	t.obligated += amount
}

func (t tally) bucket(key, name string, awards int, obligated float64) Bucket {
	b := Bucket{Key: key, Name: name, Awards: t.awards, Obligated: t.obligated}
	if awards > 0 {
		b.Share = float64(t.awards) / float64(awards)
	}
	if obligated > 0 {
		b.ObligatedShare = t.obligated / obligated
	}
	return b
}

// Build rolls up awards by the primary category and band of their latest
// assessment. Awards in scope without an assessment count as unscored and
// are left out of the rollups. Every active taxonomy category appears in
// ByCategory in taxonomy order, followed by any other primary seen.
// Agencies are ordered by obligated total.
func Build(tax *taxonomy.Taxonomy, awards []types.Award, latest []analysis.Assessment, filter Filter) *Summary {
	byAward := make(map[string]analysis.Assessment, len(latest))
	for _, a := range latest {
		if cur, ok := byAward[a.AwardID]; !ok || a.ScoredAt.After(cur.ScoredAt) {
			byAward[a.AwardID] = a
		}
	}

	s := &Summary{TaxonomyVersion: tax.Version(), Filter: filter}

	categories := make(map[string]*tally)
	bands := make(map[analysis.Band]*tally)
	bandCounts := make(map[string]map[analysis.Band]int)
	agencies := make(map[string]*tally)

	for _, award := range awards {
		if !filter.MatchAward(award) {
			continue
		}
		assessment, scored := byAward[award.ID]
		if !scored {
			if len(filter.Categories) == 0 && len(filter.Bands) == 0 {
				s.Unscored++
			}
			continue
		}
		if !filter.MatchAssessment(assessment) {
			continue
		}

		s.Awards++
		s.Obligated += award.ObligatedAmount

		primary := assessment.PrimaryCategory
		if categories[primary] == nil {
			categories[primary] = &tally{}
			bandCounts[primary] = make(map[analysis.Band]int)
		}
		categories[primary].add(award.ObligatedAmount)
		bandCounts[primary][assessment.Band]++

		if bands[assessment.Band] == nil {
			bands[assessment.Band] = &tally{}
		}
		bands[assessment.Band].add(award.ObligatedAmount)

		agency := award.Agency
		if agency == "" {
			agency = "UNKNOWN"
		}
		if agencies[agency] == nil {
			agencies[agency] = &tally{}
		}
		agencies[agency].add(award.ObligatedAmount)
	}

	ids := tax.IDs()
	var extra []string
	for id := range categories {
		if !slices.Contains(ids, id) {
			extra = append(extra, id)
		}
	}
	sort.Slice(extra, func(i, j int) bool {
		if oi, oj := tax.Order(extra[i]), tax.Order(extra[j]); oi != oj {
			return oi < oj
		}
		return extra[i] < extra[j]
	})
	ids = append(ids, extra...)
	for _, id := range ids {
		t := categories[id]
		if t == nil {
			t = &tally{}
		}
		counts := bandCounts[id]
		s.ByCategory = append(s.ByCategory, CategoryRollup{
			Bucket: t.bucket(id, tax.Name(id), s.Awards, s.Obligated),
			High:   counts[analysis.BandHigh],
			Medium: counts[analysis.BandMedium],
			Low:    counts[analysis.BandLow],
		})
	}

	for _, band := range []analysis.Band{analysis.BandHigh, analysis.BandMedium, analysis.BandLow} {
		t := bands[band]
		if t == nil {
			t = &tally{}
		}
		s.ByBand = append(s.ByBand, t.bucket(band.String(), "", s.Awards, s.Obligated))
	}

	for agency, t := range agencies {
		s.ByAgency = append(s.ByAgency, t.bucket(agency, "", s.Awards, s.Obligated))
	}
	sort.Slice(s.ByAgency, func(i, j int) bool {
		a, b := s.ByAgency[i], s.ByAgency[j]
		if a.Obligated != b.Obligated {
			return a.Obligated > b.Obligated
		}
		return a.Key < b.Key
	})

	return s
}

// TieBreakSignals totals obligated dollars and the latest award date per
// primary category across the scored portfolio
func TieBreakSignals(awards []types.Award, latest []analysis.Assessment) analysis.TieBreakSignals {
	primary := make(map[string]string, len(latest))
	for _, a := range latest {
		primary[a.AwardID] = a.PrimaryCategory
	}

	signals := make(analysis.TieBreakSignals)
	for _, award := range awards {
		category, ok := primary[award.ID]
		if !ok || category == "" || category == taxonomy.NoneCategoryID {
			continue
		}
		signal := signals[category]
		signal.ObligatedAmount += award.ObligatedAmount
		if award.AwardDate.After(signal.LatestAwardDate) {
			signal.LatestAwardDate = award.AwardDate
		}
		signals[category] = signal
	}
	return signals
}
