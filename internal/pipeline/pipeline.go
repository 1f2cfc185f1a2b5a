package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/database"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/monitoring"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/summary"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
)

// Outcome summarizes one batch run
type Outcome struct {
	Results  []analysis.BatchResult
	Scored   int
	Failed   int
	Persist  bool
	Duration time.Duration
}

// Pipeline scores awards and optionally persists them with their
// assessments. The analyzer is swapped atomically when tie-break signals
// are refreshed, so scoring never blocks on a refresh.
type Pipeline struct {
	analyzer atomic.Pointer[analysis.Analyzer]
	repo     *database.Repository
	summary  *summary.Service
	metrics  *monitoring.Metrics
	logger   *monitoring.Logger
}

// New creates a pipeline. summarySvc may be nil when nothing caches
// portfolio summaries.
func New(a *analysis.Analyzer, repo *database.Repository, summarySvc *summary.Service, metrics *monitoring.Metrics, logger *monitoring.Logger) *Pipeline {
	p := &Pipeline{
		repo:    repo,
		summary: summarySvc,
		metrics: metrics,
		logger:  logger,
	}
	p.analyzer.Store(a)
	return p
}

// Analyzer returns the analyzer currently in use
func (p *Pipeline) Analyzer() *analysis.Analyzer {
	return p.analyzer.Load()
}

// RefreshTieBreak recomputes tie-break signals from the stored portfolio
func (p *Pipeline) RefreshTieBreak(ctx context.Context) (int, error) {
	awards, err := p.repo.ListAwards(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list awards: %w", err)
	}
	records, err := p.repo.LatestAssessments(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list latest assessments: %w", err)
	}
	latest := make([]analysis.Assessment, len(records))
	for i, rec := range records {
		latest[i] = rec.Assessment
	}

	signals := summary.TieBreakSignals(awards, latest)
	p.analyzer.Store(p.Analyzer().WithTieBreak(signals))
	return len(signals), nil
}

// ScoreOne scores a single award. A nil enrichment is resolved from the
// enrichment cache.
func (p *Pipeline) ScoreOne(ctx context.Context, award types.Award, enrichment *types.Enrichment, persist bool) (analysis.Assessment, error) {
	start := time.Now()
	a := p.Analyzer()
	mode := a.Mode().String()

	if enrichment == nil {
		resolved, err := p.repo.ResolveEnrichment(ctx, []string{award.ID})
		if err != nil {
			return analysis.Assessment{}, err
		}
		enrichment = resolved[award.ID]
	}

	assessment, err := a.Score(analysis.ScoreInput{Award: award, Enrichment: enrichment})
	if err != nil {
		p.metrics.RecordScoringFailure(mode)
		return analysis.Assessment{}, err
	}

	if persist {
		if err := p.persist(ctx, []types.Award{award}, []analysis.Assessment{assessment}); err != nil {
			return analysis.Assessment{}, err
		}
	}

	elapsed := time.Since(start)
	p.metrics.RecordAssessment(mode, assessment.PrimaryCategory, assessment.Band.String())
	p.metrics.RecordScoringDuration(elapsed, false)
	p.logger.ScoringLogger(award.ID, mode, assessment.PrimaryCategory, assessment.Band.String(), assessment.PrimaryScore, elapsed)
	return assessment, nil
}

// ScoreBatch scores awards in parallel. Awards that fail are counted and
// reported in their result; only successful assessments are persisted.
func (p *Pipeline) ScoreBatch(ctx context.Context, awards []types.Award, persist bool) (Outcome, error) {
	start := time.Now()
	a := p.Analyzer()
	mode := a.Mode().String()

	ids := make([]string, len(awards))
	for i, award := range awards {
		ids[i] = award.ID
	}
	enrichments, err := p.repo.ResolveEnrichment(ctx, ids)
	if err != nil {
		return Outcome{}, err
	}

	inputs := make([]analysis.ScoreInput, len(awards))
	for i, award := range awards {
		inputs[i] = analysis.ScoreInput{Award: award, Enrichment: enrichments[award.ID]}
	}

	results, err := a.ScoreBatch(ctx, inputs)
	out := Outcome{Results: results, Persist: persist}
	if err != nil {
		return out, err
	}

	var (
		scoredAwards []types.Award
		assessments  []analysis.Assessment
	)
	for i, r := range results {
		if r.Err != nil {
			out.Failed++
			p.metrics.RecordScoringFailure(mode)
			continue
		}
		out.Scored++
		p.metrics.RecordAssessment(mode, r.Assessment.PrimaryCategory, r.Assessment.Band.String())
		scoredAwards = append(scoredAwards, awards[i])
		assessments = append(assessments, r.Assessment)
	}

	if persist && len(assessments) > 0 {
		if err := p.persist(ctx, scoredAwards, assessments); err != nil {
			return out, err
		}
	}

	out.Duration = time.Since(start)
	p.metrics.RecordScoringDuration(out.Duration, true)
	p.logger.BatchLogger(mode, len(awards), out.Scored, out.Failed, out.Duration)
	return out, nil
}

func (p *Pipeline) persist(ctx context.Context, awards []types.Award, assessments []analysis.Assessment) error {
	if err := p.repo.UpsertAwards(ctx, awards); err != nil {
		return err
	}
	if _, err := p.repo.SaveAssessments(ctx, assessments); err != nil {
		return err
	}
	if p.summary != nil {
		p.summary.Invalidate()
	}
	if n, err := p.RefreshTieBreak(ctx); err != nil {
		p.logger.Warn("Tie-break signals not refreshed", "error", err)
	} else {
		p.logger.Debug("Tie-break signals refreshed", "categories", n)
	}
	return nil
}
