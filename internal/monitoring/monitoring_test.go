package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "info", "json")

	logger.ScoringLogger("A-1", "rules", "quantum_computing", "High", 88.5, 3*time.Millisecond)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Award Scored", entry["msg"])
	assert.Equal(t, "A-1", entry["award_id"])
	assert.Equal(t, "High", entry["band"])
	assert.Contains(t, entry, "timestamp")
	assert.NotContains(t, entry, "time")
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn", "text")

	logger.BatchLogger("hybrid", 10, 10, 0, time.Second)
	assert.Empty(t, buf.String())

	logger.BatchLogger("hybrid", 10, 8, 2, time.Second)
	assert.Contains(t, buf.String(), "failed=2")

	buf.Reset()
	logger.TrainingLogger("v1", 40, []string{"ai", "qc"}, []string{"qc"}, time.Second)
	assert.Contains(t, buf.String(), "uncalibrated")
}

func TestMetricsScoringStats(t *testing.T) {
	m := NewMetrics()
	m.RecordAssessment("rules", "quantum_computing", "High")
	m.RecordAssessment("rules", "quantum_computing", "Medium")
	m.RecordAssessment("rules", "none", "Low")
	m.RecordScoringFailure("rules")
	m.RecordScoringDuration(10*time.Millisecond, true)

	stats := m.GetScoringStats()
	assert.Equal(t, int64(3), stats["awards_scored"])
	assert.Equal(t, int64(1), stats["scoring_failures"])
	assert.Equal(t, int64(1), stats["batch_runs"])
	assert.Equal(t, map[string]int64{"High": 1, "Medium": 1, "Low": 1}, stats["by_band"])
	assert.Equal(t, map[string]int64{"quantum_computing": 2, "none": 1}, stats["by_category"])

	m.Reset()
	assert.Equal(t, int64(0), m.GetScoringStats()["awards_scored"])
}

func TestMetricsPercentiles(t *testing.T) {
	m := NewMetrics()
	assert.Equal(t, time.Duration(0), m.GetPercentileResponseTime(50))

	for i := 1; i <= 100; i++ {
		m.RecordResponseTime("/api/v1/score", time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, m.GetPercentileResponseTime(50))
	assert.Equal(t, 100*time.Millisecond, m.GetPercentileResponseTime(100))

	for i := 0; i < maxResponseSamples+10; i++ {
		m.RecordResponseTime("/api/v1/score", time.Millisecond)
	}
	m.ResponseTimesMutex.RLock()
	assert.Len(t, m.ResponseTimes, maxResponseSamples)
	m.ResponseTimesMutex.RUnlock()
}

func TestMonitoringMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	metrics := NewMetrics()
	r := gin.New()
	r.Use(MonitoringMiddleware(metrics, NewLoggerTo(&buf, "info", "json")))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	for _, path := range []string{"/ok", "/ok", "/bad", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	stats := metrics.GetStats()
	assert.Equal(t, int64(4), stats["total_requests"])
	assert.Equal(t, int64(2), stats["error_count"])
	assert.Equal(t, map[int]int64{200: 2, 400: 1, 404: 1}, metrics.GetStatusCodeDistribution())
	assert.Equal(t, 4, strings.Count(buf.String(), "HTTP Request"))
}

func TestSecurityMonitoringMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		method  string
		target  string
		agent   string
		body    string
		flagged string
	}{
		{name: "clean", method: http.MethodGet, target: "/api/v1/summary?agency=DOD", agent: "curl/8"},
		{name: "sql injection", method: http.MethodGet, target: "/api/v1/summary?agency=x%27%20UNION%20SELECT%201", agent: "curl/8", flagged: "potential_sql_injection"},
		{name: "scanner", method: http.MethodGet, target: "/health", agent: "sqlmap/1.7", flagged: "suspicious_user_agent"},
		{name: "large batch", method: http.MethodPost, target: "/api/v1/score/batch", agent: "curl/8", body: strings.Repeat("x", 64), flagged: "large_request_body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := gin.New()
			r.Use(SecurityMonitoringMiddleware(NewLoggerTo(&buf, "info", "json"), 32))
			r.Any("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })

			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			req.Header.Set("User-Agent", tt.agent)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusNoContent, w.Code)
			if tt.flagged == "" {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), tt.flagged)
		})
	}
}

func TestMemorySampler(t *testing.T) {
	metrics := NewMetrics()
	var buf bytes.Buffer
	s := NewMemorySampler(metrics, NewLoggerTo(&buf, "info", "json"), time.Millisecond, 1)

	ms := s.Sample()
	assert.Equal(t, int64(ms.HeapAlloc), metrics.GetStats()["go_heap_alloc_bytes"])
	assert.Contains(t, buf.String(), "memory_pressure")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sampler did not stop after context cancellation")
	}
}

func TestPrometheusHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	SetModelInfo("v-test", "2025.1")
	NewMetrics().RecordAssessment("rules", "none", "Low")

	r := gin.New()
	r.GET("/metrics", PrometheusHandler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "cet_scoring_awards_scored_total")
	assert.Contains(t, body, `cet_model_info{model_version="v-test",taxonomy_version="2025.1"} 1`)
}
