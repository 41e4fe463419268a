// internal/monitoring/health.go
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// CheckFunc reports a component's status. A nil error with a non-empty
// status other than healthy signals degradation.
type CheckFunc func(ctx context.Context) (HealthStatus, string)

// HealthCheck is the last result of one named check
type HealthCheck struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message,omitempty"`
	Critical  bool          `json:"critical"`
	LastCheck time.Time     `json:"last_check"`
	Duration  time.Duration `json:"duration"`
}

// SystemHealth represents overall engine health
type SystemHealth struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
	Checks    []HealthCheck `json:"checks"`
}

type registeredCheck struct {
	name     string
	critical bool
	fn       CheckFunc
}

// HealthManager runs registered checks on demand
type HealthManager struct {
	checks  []registeredCheck
	mu      sync.RWMutex
	timeout time.Duration
	started time.Time
}

// NewHealthManager creates a health manager; timeout bounds each check
func NewHealthManager(timeout time.Duration) *HealthManager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthManager{timeout: timeout, started: time.Now()}
}

// RegisterCheck adds a check. A failing critical check makes the whole
// system unhealthy, a failing non-critical one only degraded.
func (hm *HealthManager) RegisterCheck(name string, critical bool, fn CheckFunc) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks = append(hm.checks, registeredCheck{name: name, critical: critical, fn: fn})
}

// GetHealth runs every check concurrently and aggregates the result
func (hm *HealthManager) GetHealth(ctx context.Context) SystemHealth {
	hm.mu.RLock()
	checks := append([]registeredCheck(nil), hm.checks...)
	hm.mu.RUnlock()

	results := make([]HealthCheck, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c registeredCheck) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, hm.timeout)
			defer cancel()

			start := time.Now()
			status, msg := c.fn(checkCtx)
			results[i] = HealthCheck{
				Name:      c.name,
				Status:    status,
				Message:   msg,
				Critical:  c.critical,
				LastCheck: start,
				Duration:  time.Since(start),
			}
		}(i, c)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	overall := HealthStatusHealthy
	for _, r := range results {
		switch r.Status {
		case HealthStatusHealthy:
		case HealthStatusUnhealthy:
			if r.Critical {
				overall = HealthStatusUnhealthy
			} else if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		default:
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
	}

	return SystemHealth{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(hm.started),
		Checks:    results,
	}
}

// HealthHandler returns HTTP handlers for health endpoints
func (hm *HealthManager) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.GetHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		json.NewEncoder(w).Encode(health)
	}
}

// LivenessHandler answers as long as the process serves HTTP
func (hm *HealthManager) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": HealthStatusHealthy,
			"uptime": time.Since(hm.started).String(),
		})
	}
}
