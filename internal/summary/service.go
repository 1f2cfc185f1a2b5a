package summary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/cache"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/database"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/monitoring"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/taxonomy"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"github.com/goccy/go-json"
)

// Store is the part of the repository the summary reads from
type Store interface {
	ListAwards(ctx context.Context) ([]types.Award, error)
	LatestAssessments(ctx context.Context) ([]database.AssessmentRecord, error)
}

// Service builds portfolio summaries and caches them for the cache TTL
type Service struct {
	store    Store
	taxonomy *taxonomy.Taxonomy
	cache    *cache.Cache
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// NewService creates a summary service. A nil cache disables caching and a
// nil metrics skips hit/miss accounting.
func NewService(store Store, tax *taxonomy.Taxonomy, c *cache.Cache, metrics *monitoring.Metrics) *Service {
	return &Service{
		store:    store,
		taxonomy: tax,
		cache:    c,
		metrics:  metrics,
		now:      time.Now,
	}
}

func (s *Service) cacheKey(filter Filter) string {
	return cache.Key("summary", s.taxonomy.Version(), filter.key())
}

func (s *Service) load(ctx context.Context) ([]types.Award, []analysis.Assessment, error) {
	awards, err := s.store.ListAwards(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list awards: %w", err)
	}
	records, err := s.store.LatestAssessments(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list latest assessments: %w", err)
	}
	latest := make([]analysis.Assessment, len(records))
	for i, rec := range records {
		latest[i] = rec.Assessment
	}
	return awards, latest, nil
}

// Summary returns the portfolio rollup for filter, from cache when fresh
func (s *Service) Summary(ctx context.Context, filter Filter) (*Summary, error) {
	key := s.cacheKey(filter)
	if cached, ok := s.cached(key); ok {
		return cached, nil
	}

	awards, latest, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	summary := Build(s.taxonomy, awards, latest, filter)
	summary.GeneratedAt = s.now().UTC()
	s.put(key, summary)

	slog.Debug("Summary built",
		"awards", summary.Awards,
		"unscored", summary.Unscored,
		"categories", len(summary.ByCategory),
	)
	return summary, nil
}

// TieBreakSignals derives tie-break signals from the stored portfolio
func (s *Service) TieBreakSignals(ctx context.Context) (analysis.TieBreakSignals, error) {
	awards, latest, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return TieBreakSignals(awards, latest), nil
}

// Invalidate drops every cached summary. Call it after new assessments are
// persisted.
func (s *Service) Invalidate() {
	if s.cache == nil {
		return
	}
	s.cache.Clear()
	slog.Debug("Summary cache invalidated")
}

func (s *Service) cached(key string) (*Summary, bool) {
	if s.cache == nil {
		return nil, false
	}

	data, found := s.cache.Get(key)
	if !found {
		if s.metrics != nil {
			s.metrics.IncrementCacheMiss()
		}
		return nil, false
	}

	var summary Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		slog.Error("Failed to unmarshal cached summary", "error", err, "key", key)
		return nil, false
	}
	if s.metrics != nil {
		s.metrics.IncrementCacheHit()
	}
	return &summary, true
}

func (s *Service) put(key string, summary *Summary) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(summary)
	if err != nil {
		slog.Error("Failed to marshal summary for cache", "error", err)
		return
	}
	s.cache.Set(key, data)
}
