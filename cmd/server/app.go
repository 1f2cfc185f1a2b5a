package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/cache"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/config"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/database"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/encoding"
	apperrors "github.com/ZanzyTHEbar/sbir-cet-classifier/internal/errors"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/export"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/middleware"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/monitoring"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/pipeline"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/ratelimit"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/resilience"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/security"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/summary"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/taxonomy"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// exportRate bounds governed exports per token subject
var exportRate = ratelimit.Rate{Limit: 10, Burst: 3, Period: time.Minute}

// app holds every long-lived dependency of the HTTP server
type app struct {
	cfg     config.Config
	started time.Time

	db       *database.DB
	repo     *database.Repository
	taxonomy *taxonomy.Taxonomy
	pipeline *pipeline.Pipeline
	summary  *summary.Service
	exporter *export.Exporter

	cache       *cache.Cache
	redis       *ratelimit.RedisClient
	limiter     *ratelimit.RateLimiter
	auth        *security.Authenticator
	security    *security.SecurityMiddleware
	compression *middleware.Compression
	encoder     *encoding.Encoder
	health      *resilience.Health

	metrics *monitoring.Metrics
	logger  *monitoring.Logger
}

// newApp opens storage and builds the analyzer. It fails when the configured
// scoring mode needs a model that cannot be loaded.
func newApp(ctx context.Context, cfg config.Config, logger *monitoring.Logger) (*app, error) {
	db, err := database.NewDB(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	tax, err := pipeline.LoadTaxonomy(cfg.Storage.TaxonomyPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load taxonomy: %w", err)
	}

	analyzer, err := pipeline.BuildAnalyzer(cfg, tax)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{
		cfg:         cfg,
		started:     time.Now(),
		db:          db,
		repo:        database.NewRepository(db),
		taxonomy:    tax,
		cache:       cache.NewCache(cfg.Server.SummaryTTL),
		auth:        security.NewAuthenticator(cfg.Server.JWTSecret),
		compression: middleware.NewCompression(middleware.DefaultCompressionConfig()),
		encoder:     encoding.Default(),
		health:      resilience.NewHealth(5 * time.Second),
		metrics:     monitoring.NewMetrics(),
		logger:      logger,
	}

	a.summary = summary.NewService(a.repo, tax, a.cache, a.metrics)
	a.pipeline = pipeline.New(analyzer, a.repo, a.summary, a.metrics, logger)
	a.exporter = export.NewExporter(a.repo, cfg.Export.DefaultFields, cfg.Export.MaxRows)

	if n, err := a.pipeline.RefreshTieBreak(ctx); err != nil {
		slog.Warn("Tie-break signals unavailable, ties resolve by category id", "error", err)
	} else {
		slog.Info("Tie-break signals loaded", "categories", n)
	}

	secCfg := security.DefaultSecurityConfig()
	secCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	secCfg.RequestTimeout = cfg.Server.RequestTimeout
	secCfg.EnableHSTS = cfg.Server.Mode == "release"
	a.security = security.NewSecurityMiddleware(secCfg)

	a.redis, err = ratelimit.NewRedisClient(ctx, ratelimit.RedisOptions{
		Addr:     cfg.Server.RateLimit.RedisAddr,
		Password: cfg.Server.RateLimit.RedisPassword,
		DB:       cfg.Server.RateLimit.RedisDB,
	})
	if err != nil {
		slog.Warn("Redis unavailable, rate limits are per process", "error", err)
	}
	limits := ratelimit.DefaultConfig()
	limits.RequestsPerMinute = cfg.Server.RateLimit.RequestsPerMinute
	limits.Burst = cfg.Server.RateLimit.Burst
	a.limiter = ratelimit.NewRateLimiter(a.redis, limits, a.metrics)

	a.health.Register("database", true, db.Ping)
	if cfg.Server.RateLimit.RedisAddr != "" {
		a.health.Register("redis", false, a.redis.HealthCheck)
	}

	if !a.auth.Enabled() {
		slog.Warn("No JWT secret configured, exports are disabled")
	}
	monitoring.SetModelInfo(analyzer.ModelVersion(), tax.Version())
	slog.Info("Analyzer ready",
		"mode", analyzer.Mode().String(),
		"model_version", analyzer.ModelVersion(),
		"taxonomy_version", tax.Version(),
		"categories", len(tax.IDs()))

	return a, nil
}

// Close releases background workers and connections
func (a *app) Close() {
	a.limiter.Close()
	a.cache.Close()
	apperrors.SafeClose(a.redis, "redis")
	apperrors.SafeClose(a.db, "database")
}
