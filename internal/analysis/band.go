package analysis

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/taxonomy"
)

// BandFor maps a normalized score to its band. Boundary scores belong to the higher band.
func BandFor(score float64, cfg BandConfig) Band {
	switch {
	case score >= cfg.High:
		return BandHigh
	case score >= cfg.Medium:
		return BandMedium
	default:
		return BandLow
	}
}

// TieBreakSignal is historical portfolio context for one category
type TieBreakSignal struct {
	ObligatedAmount float64   `json:"obligated_amount"`
	LatestAwardDate time.Time `json:"latest_award_date"`
}

// TieBreakSignals maps category id to its historical signal
type TieBreakSignals map[string]TieBreakSignal

// Classification is the primary category, its band and the supporting categories
type Classification struct {
	Primary    string               `json:"primary"`
	Score      float64              `json:"score"`
	Band       Band                 `json:"band"`
	Supporting []SupportingCategory `json:"supporting"`
}

// Rank orders categories by score descending. Equal scores go to the higher
// historical obligated amount, then the more recent award date, then the lower id.
func Rank(scores map[string]float64, signals TieBreakSignals) []SupportingCategory {
	ranked := make([]SupportingCategory, 0, len(scores))
	for _, id := range sortedKeys(scores) {
		ranked = append(ranked, SupportingCategory{CategoryID: id, Score: scores[id]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		sa, sb := signals[a.CategoryID], signals[b.CategoryID]
		if sa.ObligatedAmount != sb.ObligatedAmount {
			return sa.ObligatedAmount > sb.ObligatedAmount
		}
		if !sa.LatestAwardDate.Equal(sb.LatestAwardDate) {
			return sa.LatestAwardDate.After(sb.LatestAwardDate)
		}
		return a.CategoryID < b.CategoryID
	})
	return ranked
}

// Classify selects the primary category, assigns its band and picks
// supporting categories that clear the threshold and score strictly below the primary.
func Classify(scores map[string]float64, cfg BandConfig, signals TieBreakSignals) (Classification, error) {
	if err := cfg.Validate(); err != nil {
		return Classification{}, err
	}
	if len(scores) == 0 {
		return Classification{}, fmt.Errorf("%w: no category scores to classify", ErrInvalidConfig)
	}
	for id, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return Classification{}, fmt.Errorf("%w: category %q has non-finite score", ErrInvalidConfig, id)
		}
	}

	ranked := Rank(scores, signals)
	primary := ranked[0]
	if noneScore, ok := scores[taxonomy.NoneCategoryID]; ok && !anyPositive(scores) {
		primary = SupportingCategory{CategoryID: taxonomy.NoneCategoryID, Score: noneScore}
	}
	out := Classification{
		Primary:    primary.CategoryID,
		Score:      primary.Score,
		Band:       BandFor(primary.Score, cfg),
		Supporting: []SupportingCategory{},
	}
	if primary.CategoryID == taxonomy.NoneCategoryID {
		return out, nil
	}

	for _, c := range ranked[1:] {
		if len(out.Supporting) >= cfg.SupportingCap {
			break
		}
		if c.CategoryID == taxonomy.NoneCategoryID {
			continue
		}
		if c.Score >= cfg.SupportingThreshold && c.Score < primary.Score {
			out.Supporting = append(out.Supporting, c)
		}
	}
	return out, nil
}

// anyPositive reports whether a real category scored above zero
func anyPositive(scores map[string]float64) bool {
	for id, s := range scores {
		if id != taxonomy.NoneCategoryID && s > 0 {
			return true
		}
	}
	return false
}
