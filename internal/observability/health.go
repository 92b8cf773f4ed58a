package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// HealthStatus is the state of the service or one of its components.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// severity orders statuses so the report carries the worst one.
func (s HealthStatus) severity() int {
	switch s {
	case HealthStatusUnhealthy:
		return 2
	case HealthStatusDegraded:
		return 1
	default:
		return 0
	}
}

const (
	readinessTimeout = 5 * time.Second
	fullTimeout      = 10 * time.Second
)

// ComponentHealth is the result of one checker.
type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthResponse is the body of every health endpoint.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// HealthChecker reports the health of one component.
type HealthChecker func(ctx context.Context) ComponentHealth

// Health tracks readiness and the registered component checkers.
type Health struct {
	version string
	ready   atomic.Bool

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealth creates a Health that starts out not ready.
func NewHealth(version string) *Health {
	return &Health{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds or replaces the checker for a component.
func (h *Health) RegisterChecker(name string, checker HealthChecker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

// SetReady toggles readiness during startup and shutdown.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports whether the service accepts traffic.
func (h *Health) IsReady() bool { return h.ready.Load() }

// LivenessHandler answers as long as the process can serve HTTP.
func (h *Health) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.write(w, h.report(HealthStatusHealthy))
	}
}

// ReadinessHandler runs the component checks once the service is ready.
func (h *Health) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.IsReady() {
			h.write(w, h.report(HealthStatusUnhealthy))
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		h.write(w, h.checkAll(ctx))
	}
}

// FullHealthHandler runs every component check regardless of readiness.
func (h *Health) FullHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), fullTimeout)
		defer cancel()
		h.write(w, h.checkAll(ctx))
	}
}

func (h *Health) report(status HealthStatus) HealthResponse {
	return HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
}

func (h *Health) write(w http.ResponseWriter, resp HealthResponse) {
	code := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// checkAll runs the checkers concurrently and folds their statuses into the
// worst one.
func (h *Health) checkAll(ctx context.Context) HealthResponse {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	checkers := make([]HealthChecker, 0, len(h.checkers))
	for name, c := range h.checkers {
		names = append(names, name)
		checkers = append(checkers, c)
	}
	h.mu.RUnlock()

	results := make([]ComponentHealth, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			res := c(ctx)
			res.Latency = time.Since(start).String()
			results[i] = res
		}()
	}
	wg.Wait()

	resp := h.report(HealthStatusHealthy)
	resp.Components = make(map[string]ComponentHealth, len(results))
	for i, res := range results {
		resp.Components[names[i]] = res
		if res.Status.severity() > resp.Status.severity() {
			resp.Status = res.Status
		}
	}
	return resp
}

// DatabaseChecker is unhealthy when ping fails.
func DatabaseChecker(ping func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: "verdict log unreachable: " + err.Error()}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "connected"}
	}
}

// EngineChecker is unhealthy once the compliance engine has been closed.
func EngineChecker(isReady func() bool) HealthChecker {
	return func(ctx context.Context) ComponentHealth {
		if !isReady() {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: "compliance engine closed"}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "ready"}
	}
}

// CapacityChecker reports degraded once used/limit reaches the threshold
// fraction. A limit of zero means unbounded.
func CapacityChecker(name string, used func() int, limit int, threshold float64) HealthChecker {
	return func(ctx context.Context) ComponentHealth {
		n := used()
		if limit <= 0 {
			return ComponentHealth{Status: HealthStatusHealthy, Message: fmt.Sprintf("%d %s", n, name)}
		}
		msg := fmt.Sprintf("%d/%d %s", n, limit, name)
		if float64(n) >= threshold*float64(limit) {
			return ComponentHealth{Status: HealthStatusDegraded, Message: msg + " (near capacity)"}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: msg}
	}
}

// DropChecker reports degraded while the drop counter keeps rising between
// checks.
func DropChecker(dropped func() int64) HealthChecker {
	var mu sync.Mutex
	var last int64
	return func(ctx context.Context) ComponentHealth {
		mu.Lock()
		defer mu.Unlock()

		n := dropped()
		delta := n - last
		last = n
		if delta > 0 {
			return ComponentHealth{
				Status:  HealthStatusDegraded,
				Message: fmt.Sprintf("%d records dropped since last check", delta),
			}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "no dropped records"}
	}
}
