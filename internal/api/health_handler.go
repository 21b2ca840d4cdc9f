package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/onboarding/internal/pkg/httputil"
)

const healthVersion = "1.0.0"

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck is the result of probing one dependency.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Pinger is a dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// probe describes how one dependency is checked.
type probe struct {
	name     string
	critical bool
	timeout  time.Duration
	slow     time.Duration // latency above this reports "degraded"; zero disables
	pinger   Pinger        // nil when the dependency is not configured
}

// HealthChecker probes the account store, Redis and the upload bucket.
// Only the account store is critical.
type HealthChecker struct {
	probes    []probe
	startTime time.Time
}

// NewHealthChecker builds a checker. Any dependency may be nil and is then
// reported as "not configured".
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, bucket Pinger) *HealthChecker {
	hc := &HealthChecker{startTime: time.Now()}

	var dbPing, redisPing Pinger
	if db != nil {
		dbPing = PingFunc(db.PingContext)
	}
	if redisClient != nil {
		redisPing = PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	hc.probes = []probe{
		{name: "database", critical: true, timeout: 3 * time.Second, slow: time.Second, pinger: dbPing},
		{name: "redis", timeout: 2 * time.Second, slow: 500 * time.Millisecond, pinger: redisPing},
		{name: "s3", timeout: 3 * time.Second, pinger: bucket},
	}
	return hc
}

// HandleHealth always answers 200; the body carries the aggregate status.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAll(r.Context())
	httputil.OK(w, HealthStatus{
		Status:  hc.overall(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness answers 200 while the process is up.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness answers 503 when a critical dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAll(r.Context())
	overall := hc.overall(checks)

	status := http.StatusOK
	if overall == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]interface{}{
		"ready":  overall != "unhealthy",
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAll(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, len(hc.probes))
	for _, p := range hc.probes {
		go func(p probe) { ch <- result{p.name, p.run(ctx)} }(p)
	}

	checks := make(map[string]ComponentCheck, len(hc.probes))
	for range hc.probes {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

func (p probe) run(ctx context.Context) ComponentCheck {
	if p.pinger == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err := p.pinger.Ping(ctx)
	latency := time.Since(start)

	switch {
	case err != nil:
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: fmt.Sprintf("ping failed: %v", err)}
	case p.slow > 0 && latency > p.slow:
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String()}
}

func (hc *HealthChecker) overall(checks map[string]ComponentCheck) string {
	critical := make(map[string]bool, len(hc.probes))
	for _, p := range hc.probes {
		critical[p.name] = p.critical
	}
	return determineOverallStatus(checks, critical)
}

// determineOverallStatus is "unhealthy" when a configured critical component
// is down, "degraded" when anything else configured is down or slow, and
// "healthy" otherwise.
func determineOverallStatus(checks map[string]ComponentCheck, critical map[string]bool) string {
	status := "healthy"
	for name, c := range checks {
		configured := c.Message != "not configured"
		switch {
		case c.Status == "down" && configured && critical[name]:
			return "unhealthy"
		case c.Status == "degraded", c.Status == "down" && configured:
			status = "degraded"
		}
	}
	return status
}

// formatUptime renders a duration like "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
