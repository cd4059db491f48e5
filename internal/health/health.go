package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/logtriage/internal/metrics"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status      Status                 `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheck represents a health check function
type HealthCheck func(ctx context.Context) ComponentHealth

// Checker manages health checks for all components
type Checker struct {
	mu         sync.RWMutex
	components map[string]HealthCheck
	lastStatus map[string]ComponentHealth
	timeout    time.Duration
	metrics    *metrics.Collector
}

// NewChecker creates a new health checker
func NewChecker(timeout time.Duration) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Checker{
		components: make(map[string]HealthCheck),
		lastStatus: make(map[string]ComponentHealth),
		timeout:    timeout,
	}
}

// SetMetrics exports every check result as a health status gauge
func (c *Checker) SetMetrics(m *metrics.Collector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Register registers a health check for a component
func (c *Checker) Register(name string, check HealthCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = check
}

// Unregister removes a health check
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.components, name)
	delete(c.lastStatus, name)
}

// Check runs all health checks concurrently
func (c *Checker) Check(ctx context.Context) map[string]ComponentHealth {
	c.mu.RLock()
	components := make(map[string]HealthCheck, len(c.components))
	for k, v := range c.components {
		components[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]ComponentHealth, len(components))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for name, check := range components {
		wg.Add(1)
		go func(n string, chk HealthCheck) {
			defer wg.Done()
			result := c.run(ctx, n, chk)

			resultsMu.Lock()
			results[n] = result
			resultsMu.Unlock()
		}(name, check)
	}

	wg.Wait()
	return results
}

// CheckComponent runs a single component's health check
func (c *Checker) CheckComponent(ctx context.Context, name string) (ComponentHealth, bool) {
	c.mu.RLock()
	check, exists := c.components[name]
	c.mu.RUnlock()

	if !exists {
		return ComponentHealth{}, false
	}
	return c.run(ctx, name, check), true
}

// run executes one check under the checker timeout and records the result
func (c *Checker) run(ctx context.Context, name string, check HealthCheck) ComponentHealth {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := check(checkCtx)
	result.LastChecked = time.Now()

	c.mu.Lock()
	c.lastStatus[name] = result
	m := c.metrics
	c.mu.Unlock()

	if m != nil {
		value := 0.0
		if result.Status != StatusUnhealthy {
			value = 1
		}
		m.HealthStatus.WithLabelValues(name).Set(value)
	}
	return result
}

// GetLastStatus returns the last known status of all components
func (c *Checker) GetLastStatus() map[string]ComponentHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := make(map[string]ComponentHealth)
	for k, v := range c.lastStatus {
		status[k] = v
	}
	return status
}

// OverallStatus returns the overall health status
func (c *Checker) OverallStatus(ctx context.Context) Status {
	return overall(c.Check(ctx))
}

// overall is unhealthy if any component is, else degraded if any component is
func overall(results map[string]ComponentHealth) Status {
	status := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// HealthResponse represents the HTTP response for health checks
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// HTTPHandler reports every component. Degraded still answers 200.
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.Check(r.Context())
		response := HealthResponse{
			Status:     overall(results),
			Components: results,
			Timestamp:  time.Now(),
		}
		writeJSON(w, statusCode(response.Status), response)
	}
}

// LivenessHandler returns a simple liveness probe handler
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessHandler returns a readiness probe handler
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.OverallStatus(r.Context())
		writeJSON(w, statusCode(status), map[string]interface{}{
			"status":    status,
			"timestamp": time.Now(),
		})
	}
}

func statusCode(status Status) int {
	if status == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// AlwaysHealthy returns a health check that always reports healthy
func AlwaysHealthy() HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		return ComponentHealth{
			Status:  StatusHealthy,
			Message: "Component is healthy",
		}
	}
}

// CheckFunc creates a health check from a simple boolean function
func CheckFunc(check func() (bool, string)) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		healthy, message := check()
		status := StatusHealthy
		if !healthy {
			status = StatusUnhealthy
		}
		return ComponentHealth{
			Status:  status,
			Message: message,
		}
	}
}

// RuleSet is the part of the rule engine readiness depends on
type RuleSet interface {
	Len() int
	Invalid() int
}

// RulesCheck is degraded when any rule is disabled by an invalid regex or
// when no rules are loaded, since every entry then lands in the unassigned bucket
func RulesCheck(rules RuleSet) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		total, invalid := rules.Len(), rules.Invalid()
		result := ComponentHealth{
			Status:   StatusHealthy,
			Message:  fmt.Sprintf("%d rules loaded", total),
			Metadata: map[string]interface{}{"rules": total, "invalid": invalid},
		}
		switch {
		case total == 0:
			result.Status = StatusDegraded
			result.Message = "No rules loaded"
		case invalid > 0:
			result.Status = StatusDegraded
			result.Message = fmt.Sprintf("%d of %d rules disabled by invalid regex", invalid, total)
		}
		return result
	}
}

// Pinger is implemented by sinks that can verify their destination is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck is unhealthy while p cannot reach its destination
func PingCheck(p Pinger) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		if err := p.Ping(ctx); err != nil {
			return ComponentHealth{
				Status:  StatusUnhealthy,
				Message: err.Error(),
			}
		}
		return ComponentHealth{
			Status:   StatusHealthy,
			Message:  "Reachable",
			Metadata: map[string]interface{}{"latency_ms": time.Since(start).Milliseconds()},
		}
	}
}
