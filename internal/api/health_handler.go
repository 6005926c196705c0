package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ignite/scrub-gateway/internal/pkg/httputil"
	"github.com/ignite/scrub-gateway/internal/pkg/logger"
)

// Overall health states. StatusOK keeps the body compatible with clients that
// expect {"status":"OK"}.
const (
	StatusOK        = "OK"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"`
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Pinger is any dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type component struct {
	pinger   Pinger
	critical bool
}

// HealthChecker pings the gateway's dependencies.
type HealthChecker struct {
	components map[string]component
	timeout    time.Duration
	slow       time.Duration
	startTime  time.Time
}

// NewHealthChecker creates a HealthChecker with no components.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		components: make(map[string]component),
		timeout:    3 * time.Second,
		slow:       time.Second,
		startTime:  time.Now(),
	}
}

// Add registers a dependency. A critical dependency that is down makes the
// service unready. A nil pinger is reported as not configured.
func (hc *HealthChecker) Add(name string, p Pinger, critical bool) *HealthChecker {
	hc.components[name] = component{pinger: p, critical: critical}
	return hc
}

const healthVersion = "1.0.0"

// HandleHealth returns the status of every component. It always answers 200;
// use /health/ready for probes that need a 503.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	httputil.OK(w, HealthStatus{
		Status:  hc.overall(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness always returns 200 while the process is serving.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness returns 503 when a critical dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := hc.overall(checks)

	ready := overall != StatusUnhealthy
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]any{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, len(hc.components))
	for name, c := range hc.components {
		go func(name string, c component) {
			ch <- result{name, hc.check(ctx, name, c.pinger)}
		}(name, c)
	}

	checks := make(map[string]ComponentCheck, len(hc.components))
	for range hc.components {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

func (hc *HealthChecker) check(ctx context.Context, name string, p Pinger) ComponentCheck {
	if p == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(pingCtx)
	latency := time.Since(start)

	if err != nil {
		logger.Warn("health check failed", "component", name, "error", err)
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: "ping failed"}
	}
	if latency > hc.slow {
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

// overall is unhealthy when a configured critical component is down, and
// degraded when anything else is not up.
func (hc *HealthChecker) overall(checks map[string]ComponentCheck) string {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := StatusOK
	for _, name := range names {
		c := checks[name]
		configured := c.Message != "not configured"
		switch {
		case c.Status == "down" && configured && hc.components[name].critical:
			return StatusUnhealthy
		case c.Status == "degraded", c.Status == "down" && configured:
			status = StatusDegraded
		}
	}
	return status
}

// formatUptime produces a human-readable uptime string like "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
