package main

import (
	"net/http/pprof"

	_ "github.com/ZanzyTHEbar/sbir-cet-classifier/internal/apidocs"
	apperrors "github.com/ZanzyTHEbar/sbir-cet-classifier/internal/errors"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/monitoring"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/security"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// maxScoreBodyBytes flags score requests larger than this in the security log
const maxScoreBodyBytes = 32 << 20

// cachedRoutes are GET routes whose responses only change with the taxonomy
var cachedRoutes = []string{"/api/v1/categories"}

func (a *app) router() *gin.Engine {
	r := gin.New()

	// monitoring first so every request is counted
	r.Use(monitoring.MonitoringMiddleware(a.metrics, a.logger))
	r.Use(monitoring.SecurityMonitoringMiddleware(a.logger, maxScoreBodyBytes))

	r.Use(apperrors.ErrorHandler())
	r.Use(apperrors.RecoveryHandler())

	r.Use(security.SecurityHeadersMiddleware(a.security.Config().EnableHSTS))
	r.Use(a.security.CORSConfig())
	r.Use(a.security.RequestTimeout)
	r.Use(a.security.ValidateContentType)
	r.Use(a.compression.Handler())

	r.GET("/health", a.handleHealth)
	r.GET("/metrics", monitoring.PrometheusHandler())
	r.GET("/metrics/stats", a.handleStats)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if a.cfg.Server.Mode == gin.DebugMode {
		r.GET("/debug/pprof/", gin.WrapF(pprof.Index))
		r.GET("/debug/pprof/cmdline", gin.WrapF(pprof.Cmdline))
		r.GET("/debug/pprof/profile", gin.WrapF(pprof.Profile))
		r.GET("/debug/pprof/symbol", gin.WrapF(pprof.Symbol))
		r.GET("/debug/pprof/trace", gin.WrapF(pprof.Trace))
	}

	api := r.Group("/api/v1")
	api.Use(a.limiter.IPRateLimitMiddleware())
	api.Use(a.cache.Middleware(a.metrics, cachedRoutes...))
	{
		api.GET("/categories", a.handleCategories)
		api.POST("/score", a.handleScore)
		api.POST("/score/batch", a.handleScoreBatch)
		api.GET("/summary", a.handleSummary)
		api.GET("/awards/:id", a.handleAward)
		api.GET("/awards/:id/assessments", a.handleAssessments)
		api.POST("/export",
			a.auth.RequireAuth(),
			security.RequireRole(security.RoleExport),
			a.limiter.SubjectRateLimitMiddleware("export", exportRate),
			a.handleExport,
		)
	}

	return r
}
