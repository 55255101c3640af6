package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"onboardr/pkg/logger"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

type namedCheck struct {
	name     string
	check    Check
	critical bool
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	startTime   time.Time
	serviceName string
	version     string

	mu     sync.RWMutex
	checks []namedCheck
}

// New creates a new health check handler
func New(log *logger.Logger, serviceName, version string) *Handler {
	return &Handler{
		log:         log.Component("health"),
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
}

// AddCheck registers a dependency probe. Critical checks gate readiness;
// the rest only degrade /health.
func (h *Handler) AddCheck(name string, check Check, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, check: check, critical: critical})
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status      string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Service     string                     `json:"service"`
	Version     string                     `json:"version"`
	Uptime      string                     `json:"uptime"`
	Timestamp   string                     `json:"timestamp"`
	Checks      map[string]ComponentHealth `json:"checks"`
	ErrorDetail string                     `json:"error_detail,omitempty"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	Critical     bool   `json:"critical"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 OK if service is running
// Used by Kubernetes liveness probe
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness fails when any critical check fails
// Used by Kubernetes readiness probe
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := h.run(ctx)
	status := h.newStatus(checks)

	statusCode := http.StatusOK
	for _, c := range checks {
		if c.Critical && c.Status != StatusHealthy {
			status.Status = StatusUnhealthy
			statusCode = http.StatusServiceUnavailable
		}
	}
	if statusCode != http.StatusOK {
		h.log.Warnw("Readiness check failed", "checks", checks)
	}

	writeJSON(w, statusCode, status)
}

// HandleHealth returns detailed health status (includes all checks)
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks := h.run(ctx)
	status := h.newStatus(checks)
	statusCode := http.StatusOK

	for _, c := range checks {
		if c.Status == StatusHealthy {
			continue
		}
		if c.Critical {
			status.Status = StatusUnhealthy
			statusCode = http.StatusServiceUnavailable
			break
		}
		// still 200 for degraded
		status.Status = StatusDegraded
	}

	writeJSON(w, statusCode, status)
}

func (h *Handler) newStatus(checks map[string]ComponentHealth) HealthStatus {
	return HealthStatus{
		Status:    StatusHealthy,
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    checks,
	}
}

// run executes all checks concurrently
func (h *Handler) run(ctx context.Context) map[string]ComponentHealth {
	h.mu.RLock()
	checks := append([]namedCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make(map[string]ComponentHealth, len(checks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range checks {
		wg.Add(1)
		go func(c namedCheck) {
			defer wg.Done()
			res := h.probe(ctx, c)
			mu.Lock()
			results[c.name] = res
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

func (h *Handler) probe(ctx context.Context, c namedCheck) ComponentHealth {
	start := time.Now()
	err := c.check(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Errorw("Health check failed", "check", c.name, "error", err, "elapsed", elapsed)
		return ComponentHealth{
			Status:       StatusUnhealthy,
			Critical:     c.critical,
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}

	return ComponentHealth{
		Status:       StatusHealthy,
		Critical:     c.critical,
		ResponseTime: elapsed.String(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
