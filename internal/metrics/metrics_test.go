package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsCounters(t *testing.T) {
	m := New()

	m.RecordCacheHit()
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordAuthFailure()
	m.RecordRetry()

	snapshot := m.GetSnapshot()

	if snapshot.TotalRequests != 4 {
		t.Errorf("expected 4 total requests, got %d", snapshot.TotalRequests)
	}
	if snapshot.CacheHits != 2 {
		t.Errorf("expected 2 cache hits, got %d", snapshot.CacheHits)
	}
	if snapshot.CacheMisses != 1 {
		t.Errorf("expected 1 cache miss, got %d", snapshot.CacheMisses)
	}
	if snapshot.AuthFailures != 1 {
		t.Errorf("expected 1 auth failure, got %d", snapshot.AuthFailures)
	}
	if snapshot.RetriedRequests != 1 {
		t.Errorf("expected 1 retried request, got %d", snapshot.RetriedRequests)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.RecordCacheHit()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()

	m.Handler()(rr, req)

	if rr.Code != 200 {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var snapshot Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&snapshot); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if snapshot.TotalRequests != 1 {
		t.Errorf("expected 1 total request in response, got %d", snapshot.TotalRequests)
	}
}

func TestMetricsReset(t *testing.T) {
	m := New()

	m.RecordCacheHit()
	m.Reset()

	snapshot := m.GetSnapshot()

	if snapshot.TotalRequests != 0 {
		t.Errorf("expected 0 total requests after reset, got %d", snapshot.TotalRequests)
	}
}

func TestBackendMetrics(t *testing.T) {
	m := New()

	m.RecordBackendRequest("backend1", 5*time.Millisecond, false)
	m.RecordBackendRequest("backend1", 10*time.Millisecond, false)
	m.RecordBackendRequest("backend1", 15*time.Millisecond, true)
	m.RecordBackendRequest("backend2", 3*time.Millisecond, false)

	snapshot := m.GetSnapshot()

	b1Stats, ok := snapshot.BackendStats["backend1"]
	if !ok {
		t.Fatal("expected backend1 stats")
	}

	if b1Stats.Requests != 3 {
		t.Errorf("expected 3 requests for backend1, got %d", b1Stats.Requests)
	}
	if b1Stats.Errors != 1 {
		t.Errorf("expected 1 error for backend1, got %d", b1Stats.Errors)
	}
	if b1Stats.ErrorRate < 33 || b1Stats.ErrorRate > 34 {
		t.Errorf("expected ~33%% error rate, got %.2f%%", b1Stats.ErrorRate)
	}
	if b1Stats.AvgLatencyMs < 9.9 || b1Stats.AvgLatencyMs > 10.1 {
		t.Errorf("expected ~10ms avg latency, got %.2fms", b1Stats.AvgLatencyMs)
	}
	if b1Stats.MinLatencyMs < 4.9 || b1Stats.MinLatencyMs > 5.1 {
		t.Errorf("expected 5ms min latency, got %.2fms", b1Stats.MinLatencyMs)
	}
	if b1Stats.MaxLatencyMs < 14.9 || b1Stats.MaxLatencyMs > 15.1 {
		t.Errorf("expected 15ms max latency, got %.2fms", b1Stats.MaxLatencyMs)
	}

	b2Stats, ok := snapshot.BackendStats["backend2"]
	if !ok {
		t.Fatal("expected backend2 stats")
	}
	if b2Stats.Requests != 1 {
		t.Errorf("expected 1 request for backend2, got %d", b2Stats.Requests)
	}
	if b2Stats.Errors != 0 {
		t.Errorf("expected 0 errors for backend2, got %d", b2Stats.Errors)
	}
}

func TestBackendMetricsReset(t *testing.T) {
	m := New()

	m.RecordBackendRequest("backend1", 5*time.Millisecond, false)
	m.Reset()

	snapshot := m.GetSnapshot()

	if len(snapshot.BackendStats) != 0 {
		t.Errorf("expected 0 backend stats after reset, got %d", len(snapshot.BackendStats))
	}
}

func TestPrometheusBackendMetrics(t *testing.T) {
	m := New()
	m.RecordBackendRequest("test-backend", 5*time.Millisecond, false)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()

	m.PrometheusHandler()(rr, req)

	body := rr.Body.String()

	if !strings.Contains(body, "relaygate_backend_requests_total{backend=\"test-backend\"}") {
		t.Error("expected relaygate_backend_requests_total metric")
	}
	if !strings.Contains(body, "relaygate_backend_errors_total{backend=\"test-backend\"}") {
		t.Error("expected relaygate_backend_errors_total metric")
	}
	if !strings.Contains(body, "relaygate_backend_latency_ms_avg{backend=\"test-backend\"}") {
		t.Error("expected relaygate_backend_latency_ms_avg metric")
	}
}
