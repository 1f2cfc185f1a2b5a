package monitoring

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cet"

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"route"})

	awardsScoredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scoring",
		Name:      "awards_scored_total",
		Help:      "Assessments produced by scoring mode and band",
	}, []string{"mode", "band"})

	scoringFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scoring",
		Name:      "failures_total",
		Help:      "Awards that failed to score by scoring mode",
	}, []string{"mode"})

	scoringLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scoring",
		Name:      "latency_seconds",
		Help:      "Per-request scoring latency, single or batch",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	})

	cacheRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "requests_total",
		Help:      "Summary cache lookups by result",
	}, []string{"result"})

	rateLimitBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "blocks_total",
		Help:      "Requests rejected by the rate limiter by scope",
	}, []string{"scope"})

	modelInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "info",
		Help:      "Active model version and taxonomy version, value is always 1",
	}, []string{"model_version", "taxonomy_version"})
)

// PrometheusHandler serves the default registry in the exposition format
func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// SetModelInfo publishes the active model and taxonomy versions
func SetModelInfo(modelVersion, taxonomyVersion string) {
	modelInfo.Reset()
	modelInfo.WithLabelValues(modelVersion, taxonomyVersion).Set(1)
}
