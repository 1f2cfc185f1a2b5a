package resilience

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status is the overall or per-dependency health
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// ProbeFunc checks one dependency
type ProbeFunc func(ctx context.Context) error

type check struct {
	name     string
	critical bool
	probe    ProbeFunc
}

// CheckResult is the outcome of one probe
type CheckResult struct {
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	Critical  bool    `json:"critical"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// Report is the health of every registered dependency
type Report struct {
	Status    Status        `json:"status"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

// HTTPStatus is 503 when a critical dependency is down
func (r Report) HTTPStatus() int {
	if r.Status == StatusDown {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// Health runs dependency probes. A failing critical dependency marks the
// service down; any other failure marks it degraded.
type Health struct {
	mu      sync.RWMutex
	checks  []check
	timeout time.Duration
	now     func() time.Time
}

// NewHealth creates a registry whose probes each get timeout to finish
func NewHealth(timeout time.Duration) *Health {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Health{timeout: timeout, now: time.Now}
}

// Register adds a probe. Registering a name again replaces it.
func (h *Health) Register(name string, critical bool, probe ProbeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := check{name: name, critical: critical, probe: probe}
	for i := range h.checks {
		if h.checks[i].name == name {
			h.checks[i] = c
			return
		}
	}
	h.checks = append(h.checks, c)
	slog.Debug("Registered health check", "name", name, "critical", critical)
}

// Check runs every probe concurrently. Results keep registration order.
func (h *Health) Check(ctx context.Context) Report {
	h.mu.RLock()
	checks := append([]check(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = h.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: StatusOK, Checks: results, CheckedAt: h.now().UTC()}
	for _, r := range results {
		if r.Status == StatusOK {
			continue
		}
		if r.Critical {
			report.Status = StatusDown
			break
		}
		report.Status = StatusDegraded
	}
	return report
}

func (h *Health) run(ctx context.Context, c check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := c.probe(ctx)
	result := CheckResult{
		Name:      c.name,
		Status:    StatusOK,
		Critical:  c.critical,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		result.Status = StatusDegraded
		if c.critical {
			result.Status = StatusDown
		}
		result.Error = err.Error()
		slog.Warn("Health check failed", "name", c.name, "critical", c.critical, "error", err)
	}
	return result
}
