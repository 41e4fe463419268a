// internal/monitoring/metrics_test.go
package monitoring

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// metricValue finds a counter or gauge value in the gathered families
func metricValue(t *testing.T, mm *MetricsManager, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := mm.Registry().Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestMetricsManager_Records(t *testing.T) {
	mm := NewMetricsManager(MetricsConfig{})

	mm.RecordMethod("gallery", "dom", true, 2, time.Second)
	mm.RecordMethod("gallery", "dom", false, 0, time.Second)
	mm.RecordFile("gallery", 1024)
	mm.RecordBreakerTransition("gallery", "open")
	mm.RecordRateLimitWait("gallery")
	mm.RecordJobStart()
	mm.RecordJobFinished("completed", 3*time.Second)

	prefix := "mediascrapexter_engine_"
	if got := metricValue(t, mm, prefix+"method_attempts_total", map[string]string{"source": "gallery", "result": "success"}); got != 1 {
		t.Errorf("Expected 1 successful attempt, got %g", got)
	}
	if got := metricValue(t, mm, prefix+"method_retries_total", map[string]string{"method": "dom"}); got != 2 {
		t.Errorf("Expected 2 retries, got %g", got)
	}
	if got := metricValue(t, mm, prefix+"files_downloaded_total", map[string]string{"source": "gallery"}); got != 1 {
		t.Errorf("Expected 1 file, got %g", got)
	}
	if got := metricValue(t, mm, prefix+"jobs_active", nil); got != 0 {
		t.Errorf("Expected no active jobs, got %g", got)
	}
	if got := metricValue(t, mm, prefix+"jobs_total", map[string]string{"status": "completed"}); got != 1 {
		t.Errorf("Expected 1 completed job, got %g", got)
	}
}

func TestMetricsManager_SeparateRegistries(t *testing.T) {
	// Two managers must not collide on registration
	a := NewMetricsManager(MetricsConfig{})
	b := NewMetricsManager(MetricsConfig{})
	if a.Registry() == b.Registry() {
		t.Error("Expected distinct registries")
	}
}

func TestRouter_ServesMetricsAndHealth(t *testing.T) {
	mm := NewMetricsManager(MetricsConfig{Namespace: "test"})
	mm.RecordFile("s", 10)

	health := NewHealthManager(time.Second)
	health.RegisterCheck("stats", false, func(ctx context.Context) (HealthStatus, string) {
		return HealthStatusDegraded, "flush pending"
	})

	srv := httptest.NewServer(mm.Router("/metrics", health))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(body), "test_engine_files_downloaded_total") {
		t.Errorf("Expected files_downloaded_total in metrics output")
	}

	resp, err = http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for degraded health, got %d", resp.StatusCode)
	}
	var h SystemHealth
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if h.Status != HealthStatusDegraded {
		t.Errorf("Expected degraded, got %s", h.Status)
	}
}

func TestHealthManager_CriticalFailure(t *testing.T) {
	hm := NewHealthManager(time.Second)
	hm.RegisterCheck("ok", false, func(ctx context.Context) (HealthStatus, string) {
		return HealthStatusHealthy, ""
	})
	hm.RegisterCheck("catalog", true, func(ctx context.Context) (HealthStatus, string) {
		return HealthStatusUnhealthy, "connection refused"
	})

	h := hm.GetHealth(context.Background())
	if h.Status != HealthStatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", h.Status)
	}
	if len(h.Checks) != 2 || h.Checks[0].Name != "catalog" {
		t.Errorf("Expected checks sorted by name, got %+v", h.Checks)
	}
}
