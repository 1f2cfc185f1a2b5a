package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/cache"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/database"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/monitoring"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/taxonomy"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day1 = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	day3 = time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
)

func portfolio() ([]types.Award, []analysis.Assessment) {
	awards := []types.Award{
		{ID: "A1", Agency: "DOD", ObligatedAmount: 100, AwardDate: day1},
		{ID: "A2", Agency: "DOD", ObligatedAmount: 300, AwardDate: day2},
		{ID: "A3", Agency: "NASA", ObligatedAmount: 600, AwardDate: day3},
		{ID: "A4", Agency: "NSF", ObligatedAmount: 50, AwardDate: day3},
	}
	scored := time.Date(2024, 10, 1, 12, 0, 0, 0, time.UTC)
	latest := []analysis.Assessment{
		{AwardID: "A1", PrimaryCategory: "hypersonics", Band: analysis.BandLow, ScoredAt: scored.Add(-time.Hour)},
		{AwardID: "A1", PrimaryCategory: "quantum_computing", Band: analysis.BandHigh, ScoredAt: scored},
		{AwardID: "A2", PrimaryCategory: "hypersonics", Band: analysis.BandMedium, ScoredAt: scored},
		{AwardID: "A3", PrimaryCategory: "hypersonics", Band: analysis.BandHigh, ScoredAt: scored},
	}
	return awards, latest
}

func defaultTaxonomy(t *testing.T) *taxonomy.Taxonomy {
	t.Helper()
	tax, err := taxonomy.Default()
	require.NoError(t, err)
	return tax
}

func category(t *testing.T, s *Summary, id string) CategoryRollup {
	t.Helper()
	for _, c := range s.ByCategory {
		if c.Key == id {
			return c
		}
	}
	t.Fatalf("category %s missing from summary", id)
	return CategoryRollup{}
}

func TestBuild(t *testing.T) {
	tax := defaultTaxonomy(t)
	awards, latest := portfolio()

	s := Build(tax, awards, latest, Filter{})

	assert.Equal(t, tax.Version(), s.TaxonomyVersion)
	assert.Equal(t, 3, s.Awards)
	assert.Equal(t, 1, s.Unscored)
	assert.InDelta(t, 1000.0, s.Obligated, 1e-9)
	assert.Len(t, s.ByCategory, len(tax.IDs()))
	assert.Equal(t, tax.IDs()[0], s.ByCategory[0].Key)

	hyper := category(t, s, "hypersonics")
	assert.Equal(t, 2, hyper.Awards)
	assert.InDelta(t, 900.0, hyper.Obligated, 1e-9)
	assert.InDelta(t, 2.0/3.0, hyper.Share, 1e-9)
	assert.InDelta(t, 0.9, hyper.ObligatedShare, 1e-9)
	assert.Equal(t, 1, hyper.High)
	assert.Equal(t, 1, hyper.Medium)
	assert.Equal(t, 0, hyper.Low)
	assert.Equal(t, tax.Name("hypersonics"), hyper.Name)

	quantum := category(t, s, "quantum_computing")
	assert.Equal(t, 1, quantum.Awards, "older assessment of A1 must be ignored")
	assert.Equal(t, 1, quantum.High)

	require.Len(t, s.ByBand, 3)
	assert.Equal(t, "High", s.ByBand[0].Key)
	assert.Equal(t, 2, s.ByBand[0].Awards)
	assert.InDelta(t, 700.0, s.ByBand[0].Obligated, 1e-9)
	assert.Equal(t, "Medium", s.ByBand[1].Key)
	assert.Equal(t, 1, s.ByBand[1].Awards)
	assert.Equal(t, "Low", s.ByBand[2].Key)
	assert.Equal(t, 0, s.ByBand[2].Awards)

	require.Len(t, s.ByAgency, 2)
	assert.Equal(t, "NASA", s.ByAgency[0].Key)
	assert.Equal(t, "DOD", s.ByAgency[1].Key)
	assert.InDelta(t, 0.4, s.ByAgency[1].ObligatedShare, 1e-9)
}

func TestBuildFilters(t *testing.T) {
	tax := defaultTaxonomy(t)
	awards, latest := portfolio()

	tests := []struct {
		name      string
		filter    Filter
		awards    int
		unscored  int
		obligated float64
	}{
		{name: "agency case-insensitive", filter: Filter{Agencies: []string{"dod"}}, awards: 2, obligated: 400},
		{name: "agency with unscored award", filter: Filter{Agencies: []string{"NSF"}}, awards: 0, unscored: 1},
		{name: "band", filter: Filter{Bands: []analysis.Band{analysis.BandHigh}}, awards: 2, obligated: 700},
		{name: "category", filter: Filter{Categories: []string{"hypersonics"}}, awards: 2, obligated: 900},
		{name: "date range", filter: Filter{From: day2, To: day2}, awards: 1, obligated: 300},
		{name: "from", filter: Filter{From: day3}, awards: 1, unscored: 1, obligated: 600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Build(tax, awards, latest, tt.filter)
			assert.Equal(t, tt.awards, s.Awards)
			assert.Equal(t, tt.unscored, s.Unscored)
			assert.InDelta(t, tt.obligated, s.Obligated, 1e-9)
		})
	}
}

func TestBuildUnknownCategory(t *testing.T) {
	tax := defaultTaxonomy(t)
	awards := []types.Award{{ID: "X", Agency: "DOE", ObligatedAmount: 10}}
	latest := []analysis.Assessment{{AwardID: "X", PrimaryCategory: "legacy_area", Band: analysis.BandLow}}

	s := Build(tax, awards, latest, Filter{})
	last := s.ByCategory[len(s.ByCategory)-1]
	assert.Equal(t, "legacy_area", last.Key)
	assert.Equal(t, "legacy_area", last.Name)
	assert.Equal(t, 1, last.Low)
}

func TestFilterKey(t *testing.T) {
	a := Filter{Agencies: []string{"nasa", "DOD"}, Bands: []analysis.Band{analysis.BandLow, analysis.BandHigh}}
	b := Filter{Agencies: []string{"DOD", "NASA"}, Bands: []analysis.Band{analysis.BandHigh, analysis.BandLow}}
	assert.Equal(t, a.key(), b.key())
	assert.NotEqual(t, a.key(), Filter{}.key())
	assert.NotEqual(t, Filter{From: day1}.key(), Filter{To: day1}.key())
}

func TestTieBreakSignals(t *testing.T) {
	awards, latest := portfolio()
	awards = append(awards, types.Award{ID: "A5", ObligatedAmount: 999, AwardDate: day3})
	latest = append(latest, analysis.Assessment{AwardID: "A5", PrimaryCategory: taxonomy.NoneCategoryID})

	// latest is already one assessment per award in production; keep only the newest A1 here
	latest = latest[1:]

	signals := TieBreakSignals(awards, latest)

	require.Len(t, signals, 2)
	assert.InDelta(t, 900.0, signals["hypersonics"].ObligatedAmount, 1e-9)
	assert.True(t, day3.Equal(signals["hypersonics"].LatestAwardDate))
	assert.InDelta(t, 100.0, signals["quantum_computing"].ObligatedAmount, 1e-9)
	assert.True(t, day1.Equal(signals["quantum_computing"].LatestAwardDate))
	_, ok := signals[taxonomy.NoneCategoryID]
	assert.False(t, ok)
}

type fakeStore struct {
	awards  []types.Award
	latest  []analysis.Assessment
	calls   int
	listErr error
}

func (f *fakeStore) ListAwards(context.Context) ([]types.Award, error) {
	f.calls++
	return f.awards, f.listErr
}

func (f *fakeStore) LatestAssessments(context.Context) ([]database.AssessmentRecord, error) {
	out := make([]database.AssessmentRecord, len(f.latest))
	for i, a := range f.latest {
		out[i] = database.AssessmentRecord{ID: a.AwardID, Assessment: a}
	}
	return out, nil
}

func TestServiceCaching(t *testing.T) {
	tax := defaultTaxonomy(t)
	awards, latest := portfolio()
	store := &fakeStore{awards: awards, latest: latest[1:]}

	c := cache.NewCache(time.Hour)
	defer c.Close()
	metrics := monitoring.NewMetrics()
	svc := NewService(store, tax, c, metrics)
	svc.now = func() time.Time { return day3 }

	ctx := context.Background()
	first, err := svc.Summary(ctx, Filter{Agencies: []string{"DOD", "NASA"}})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Awards)
	assert.True(t, day3.Equal(first.GeneratedAt))

	second, err := svc.Summary(ctx, Filter{Agencies: []string{"nasa", "dod"}})
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, first.Awards, second.Awards)
	assert.Equal(t, first.ByCategory, second.ByCategory)
	assert.Equal(t, []analysis.Band(nil), second.Filter.Bands)

	svc.Invalidate()
	_, err = svc.Summary(ctx, Filter{Agencies: []string{"DOD", "NASA"}})
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats["cache_hits"])
	assert.Equal(t, int64(2), stats["cache_misses"])
}

func TestServiceWithoutCache(t *testing.T) {
	tax := defaultTaxonomy(t)
	awards, latest := portfolio()
	store := &fakeStore{awards: awards, latest: latest[1:]}
	svc := NewService(store, tax, nil, nil)

	for range 2 {
		_, err := svc.Summary(context.Background(), Filter{})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, store.calls)
	svc.Invalidate()

	signals, err := svc.TieBreakSignals(context.Background())
	require.NoError(t, err)
	assert.Contains(t, signals, "hypersonics")
}

func TestServiceStoreError(t *testing.T) {
	store := &fakeStore{listErr: errors.New("disk gone")}
	svc := NewService(store, defaultTaxonomy(t), nil, nil)

	_, err := svc.Summary(context.Background(), Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")

	_, err = svc.TieBreakSignals(context.Background())
	require.Error(t, err)
}

func TestNewFilter(t *testing.T) {
	f, err := NewFilter([]string{"DOD, NASA", " "}, []string{"Hypersonics"}, []string{"high", "High", "low"})
	require.NoError(t, err)
	assert.Equal(t, []string{"DOD", "NASA"}, f.Agencies)
	assert.Equal(t, []string{"hypersonics"}, f.Categories)
	assert.Equal(t, []analysis.Band{analysis.BandHigh, analysis.BandLow}, f.Bands)

	empty, err := NewFilter(nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Filter{}, empty)

	_, err = NewFilter(nil, nil, []string{"extreme"})
	assert.ErrorIs(t, err, analysis.ErrInvalidConfig)
}
