package main

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	apperrors "github.com/ZanzyTHEbar/sbir-cet-classifier/internal/errors"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/export"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/security"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/summary"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"github.com/gin-gonic/gin"
)

// BatchItem is the outcome for one award of a batch
type BatchItem struct {
	AwardID    string               `json:"award_id"`
	Assessment *analysis.Assessment `json:"assessment,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// BatchScoreResponse is returned by the batch score endpoint
type BatchScoreResponse struct {
	Results    []BatchItem `json:"results"`
	Scored     int         `json:"scored"`
	Failed     int         `json:"failed"`
	Persisted  bool        `json:"persisted"`
	DurationMS int64       `json:"duration_ms"`
}

// AwardResponse is an award with its latest assessment, if scored
type AwardResponse struct {
	Award            types.Award          `json:"award"`
	LatestAssessment *analysis.Assessment `json:"latest_assessment,omitempty"`
}

func abortWithError(c *gin.Context, err error) {
	appErr := apperrors.ToAppError(err)
	appErr.RequestID = c.GetHeader("X-Request-ID")
	apperrors.LogError(c, appErr)
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr.Response())
}

func abortInvalidBody(c *gin.Context, err error) {
	abortWithError(c, apperrors.NewValidationError("invalid request body", err.Error()))
}

// handleHealth godoc
// @Summary  Service and dependency health
// @Tags     system
// @Produce  json
// @Success  200
// @Failure  503
// @Router   /health [get]
func (a *app) handleHealth(c *gin.Context) {
	report := a.health.Check(c.Request.Context())
	analyzer := a.pipeline.Analyzer()

	c.JSON(report.HTTPStatus(), gin.H{
		"status":           report.Status,
		"timestamp":        report.CheckedAt.Format(time.RFC3339),
		"version":          version,
		"uptime_seconds":   int64(time.Since(a.started).Seconds()),
		"scoring_mode":     analyzer.Mode().String(),
		"model_version":    analyzer.ModelVersion(),
		"taxonomy_version": a.taxonomy.Version(),
		"checks":           report.Checks,
	})
}

// handleStats returns process, cache and limiter statistics
func (a *app) handleStats(c *gin.Context) {
	rateLimit := a.metrics.GetRateLimitStats()
	for k, v := range a.limiter.GetStats() {
		rateLimit[k] = v
	}

	c.JSON(http.StatusOK, gin.H{
		"requests":    a.metrics.GetStats(),
		"scoring":     a.metrics.GetScoringStats(),
		"rate_limit":  rateLimit,
		"cache":       a.cache.Stats(),
		"database":    a.db.GetPoolStats(),
		"compression": a.compression.GetStats(),
		"encoder":     a.encoder.GetStats(),
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}

// handleCategories godoc
// @Summary  List CET categories of the active taxonomy
// @Tags     taxonomy
// @Produce  json
// @Param    all  query  bool  false  "include retired categories"
// @Success  200
// @Router   /api/v1/categories [get]
func (a *app) handleCategories(c *gin.Context) {
	categories := a.taxonomy.Active()
	if all, _ := strconv.ParseBool(c.Query("all")); all {
		categories = a.taxonomy.Categories()
	}
	c.JSON(http.StatusOK, gin.H{
		"taxonomy_version": a.taxonomy.Version(),
		"categories":       categories,
	})
}

// handleScore godoc
// @Summary  Score one award
// @Tags     scoring
// @Accept   json
// @Produce  json
// @Param    request  body  types.ScoreRequest  true  "award to score"
// @Success  200
// @Failure  400  {object}  apperrors.ErrorResponse
// @Router   /api/v1/score [post]
func (a *app) handleScore(c *gin.Context) {
	var req types.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidBody(c, err)
		return
	}
	if problems := a.security.ValidateAward(req.Award); problems != nil {
		abortWithError(c, apperrors.NewValidationErrorWithMap(problems))
		return
	}

	award := a.security.SanitizeAward(req.Award)
	assessment, err := a.pipeline.ScoreOne(c.Request.Context(), award, req.Enrichment, req.Persist)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, assessment)
}

// handleScoreBatch godoc
// @Summary  Score a batch of awards
// @Tags     scoring
// @Accept   json
// @Produce  json
// @Param    request  body  types.BatchScoreRequest  true  "awards to score"
// @Success  200  {object}  BatchScoreResponse
// @Failure  400  {object}  apperrors.ErrorResponse
// @Failure  413  {object}  apperrors.ErrorResponse
// @Router   /api/v1/score/batch [post]
func (a *app) handleScoreBatch(c *gin.Context) {
	var req types.BatchScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalidBody(c, err)
		return
	}

	if limit := a.cfg.Server.MaxBatchSize; limit > 0 && len(req.Awards) > limit {
		appErr := apperrors.NewValidationError(fmt.Sprintf("batch of %d awards exceeds the limit of %d", len(req.Awards), limit))
		appErr.HTTPStatus = http.StatusRequestEntityTooLarge
		abortWithError(c, appErr)
		return
	}

	problems := make(map[string]string)
	awards := make([]types.Award, len(req.Awards))
	for i, award := range req.Awards {
		for field, msg := range a.security.ValidateAward(award) {
			problems[fmt.Sprintf("awards[%d].%s", i, field)] = msg
		}
		awards[i] = a.security.SanitizeAward(award)
	}
	if len(problems) > 0 {
		abortWithError(c, apperrors.NewValidationErrorWithMap(problems))
		return
	}

	if !a.limiter.ChargeBatch(c, len(awards)) {
		return
	}

	out, err := a.pipeline.ScoreBatch(c.Request.Context(), awards, req.Persist)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := BatchScoreResponse{
		Results:    make([]BatchItem, len(out.Results)),
		Scored:     out.Scored,
		Failed:     out.Failed,
		Persisted:  out.Persist,
		DurationMS: out.Duration.Milliseconds(),
	}
	for i, r := range out.Results {
		item := BatchItem{AwardID: r.AwardID}
		if r.Err != nil {
			item.Error = r.Err.Error()
		} else {
			assessment := r.Assessment
			item.Assessment = &assessment
		}
		resp.Results[i] = item
	}
	a.encoder.Render(c, http.StatusOK, resp)
}

func parseDateQuery(c *gin.Context, key string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a YYYY-MM-DD date", key)
	}
	return t, nil
}

// handleSummary godoc
// @Summary  Portfolio rollups by category, band and agency
// @Tags     portfolio
// @Produce  json
// @Param    agency    query  string  false  "comma separated agencies"
// @Param    category  query  string  false  "comma separated category IDs"
// @Param    band      query  string  false  "comma separated bands"
// @Param    from      query  string  false  "earliest award date, YYYY-MM-DD"
// @Param    to        query  string  false  "latest award date, YYYY-MM-DD"
// @Success  200  {object}  summary.Summary
// @Router   /api/v1/summary [get]
func (a *app) handleSummary(c *gin.Context) {
	filter, err := summary.NewFilter(c.QueryArray("agency"), c.QueryArray("category"), c.QueryArray("band"))
	if err != nil {
		abortWithError(c, apperrors.NewValidationError(err.Error()))
		return
	}
	problems := make(map[string]string)
	if filter.From, err = parseDateQuery(c, "from"); err != nil {
		problems["from"] = err.Error()
	}
	if filter.To, err = parseDateQuery(c, "to"); err != nil {
		problems["to"] = err.Error()
	}
	if len(problems) == 0 && !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		problems["to"] = "to must not be before from"
	}
	if len(problems) > 0 {
		abortWithError(c, apperrors.NewValidationErrorWithMap(problems))
		return
	}

	s, err := a.summary.Summary(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, err)
		return
	}
	a.encoder.Render(c, http.StatusOK, s)
}

// handleAward godoc
// @Summary  Award with its latest assessment
// @Tags     portfolio
// @Produce  json
// @Param    id  path  string  true  "award ID"
// @Success  200  {object}  AwardResponse
// @Failure  404  {object}  apperrors.ErrorResponse
// @Router   /api/v1/awards/{id} [get]
func (a *app) handleAward(c *gin.Context) {
	ctx := c.Request.Context()
	award, err := a.repo.GetAward(ctx, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := AwardResponse{Award: award}
	latest, err := a.repo.LatestAssessment(ctx, award.ID)
	switch {
	case err == nil:
		resp.LatestAssessment = &latest.Assessment
	case !errors.Is(err, apperrors.ErrNotFound):
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleAssessments godoc
// @Summary  Assessment history of an award, newest first
// @Tags     portfolio
// @Produce  json
// @Param    id  path  string  true  "award ID"
// @Success  200
// @Failure  404  {object}  apperrors.ErrorResponse
// @Router   /api/v1/awards/{id}/assessments [get]
func (a *app) handleAssessments(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := a.repo.GetAward(ctx, id); err != nil {
		abortWithError(c, err)
		return
	}

	history, err := a.repo.AssessmentHistory(ctx, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"award_id":    id,
		"count":       len(history),
		"assessments": history,
	})
}

// handleExport godoc
// @Summary   Governed CSV or Parquet export of latest assessments
// @Tags      export
// @Accept    json
// @Produce   text/csv
// @Security  BearerAuth
// @Param     request  body  types.ExportRequest  false  "format, filters and fields"
// @Success   200
// @Failure   400  {object}  apperrors.ErrorResponse
// @Failure   401  {object}  apperrors.ErrorResponse
// @Failure   403  {object}  apperrors.ErrorResponse
// @Router    /api/v1/export [post]
func (a *app) handleExport(c *gin.Context) {
	var wire types.ExportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&wire); err != nil {
			abortInvalidBody(c, err)
			return
		}
	}

	req, err := export.ParseRequest(wire)
	if err != nil {
		abortWithError(c, apperrors.NewValidationError(err.Error()))
		return
	}

	claims := security.GetClaims(c)
	full := claims.HasRole(security.RoleExportFull)

	var buf bytes.Buffer
	result, err := a.exporter.Export(c.Request.Context(), &buf, req, full)
	switch {
	case errors.Is(err, export.ErrUnknownField), errors.Is(err, export.ErrNoFields):
		abortWithError(c, apperrors.NewValidationError(err.Error()))
		return
	case err != nil:
		abortWithError(c, err)
		return
	}

	filename := fmt.Sprintf("cet-export-%s%s", time.Now().UTC().Format("20060102T150405Z"), result.Format.Extension())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Header("X-Export-Rows", strconv.Itoa(result.Rows))
	c.Header("X-Export-Matched", strconv.Itoa(result.Matched))
	c.Header("X-Export-Truncated", strconv.FormatBool(result.Truncated))
	if len(result.Withheld) > 0 {
		c.Header("X-Export-Withheld", strings.Join(result.Withheld, ","))
	}

	slog.Info("Export served",
		"subject", claims.Subject,
		"format", result.Format,
		"rows", result.Rows,
		"full", full)
	c.Data(http.StatusOK, result.Format.ContentType(), buf.Bytes())
}
