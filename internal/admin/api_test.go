package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relaygate/internal/backend"
	"relaygate/internal/metrics"
)

func TestHealthEndpoint(t *testing.T) {
	api := New(Config{
		Addr:    ":0",
		Version: "test",
	})

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()

	api.handleHealth(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	api := New(Config{
		Addr:    ":0",
		Version: "1.0.0",
	})

	req := httptest.NewRequest("GET", "/status", nil)
	rr := httptest.NewRecorder()

	api.handleStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var resp StatusResponse
	json.NewDecoder(rr.Body).Decode(&resp)

	if resp.Status != "running" {
		t.Errorf("expected status 'running', got %q", resp.Status)
	}

	if resp.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got %q", resp.Version)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.RecordCacheHit()

	api := New(Config{
		Addr:    ":0",
		Metrics: m,
	})

	req := httptest.NewRequest("GET", "/metrics", nil)
	rr := httptest.NewRecorder()

	api.handleMetrics(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

func newTestRegistry(t *testing.T, urls ...string) *backend.Registry {
	t.Helper()
	reg, err := backend.NewRegistry(urls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return reg
}

func TestBackendsEndpoint(t *testing.T) {
	reg := newTestRegistry(t, "http://127.0.0.1:8001", "http://127.0.0.1:8002")
	reg.Backends()[0].MarkProbeSucceeded(time.Now())
	// leave the second backend NotInitiated

	api := New(Config{
		Addr:     ":0",
		Registry: reg,
	})

	req := httptest.NewRequest("GET", "/backends", nil)
	rr := httptest.NewRecorder()

	api.handleBackends(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	var resp BackendsResponse
	json.NewDecoder(rr.Body).Decode(&resp)

	if resp.Total != 2 {
		t.Errorf("expected 2 total backends, got %d", resp.Total)
	}
	if resp.Healthy != 1 {
		t.Errorf("expected 1 healthy backend, got %d", resp.Healthy)
	}
}

func TestAuthTokenRequired(t *testing.T) {
	api := New(Config{
		Addr:      ":0",
		AuthToken: "secret-token",
		Version:   "test",
	})

	tests := []struct {
		name       string
		path       string
		auth       string
		wantStatus int
	}{
		{"health no auth", "/health", "", http.StatusOK},
		{"status no auth", "/status", "", http.StatusUnauthorized},
		{"status wrong token", "/status", "Bearer wrong-token", http.StatusUnauthorized},
		{"status valid token", "/status", "Bearer secret-token", http.StatusOK},
		{"status basic auth", "/status", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rr := httptest.NewRecorder()

			api.server.Handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestIPAllowlist(t *testing.T) {
	api := New(Config{
		Addr:       ":0",
		AllowedIPs: []string{"10.0.0.0/8", "192.168.1.100"},
		Version:    "test",
	})

	tests := []struct {
		name       string
		remoteAddr string
		wantStatus int
	}{
		{"allowed subnet", "10.1.2.3:12345", http.StatusOK},
		{"allowed single IP", "192.168.1.100:12345", http.StatusOK},
		{"denied IP", "172.16.0.1:12345", http.StatusForbidden},
		{"denied public IP", "8.8.8.8:12345", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/status", nil)
			req.RemoteAddr = tt.remoteAddr
			rr := httptest.NewRecorder()

			api.server.Handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestCombinedAuth(t *testing.T) {
	api := New(Config{
		Addr:       ":0",
		AuthToken:  "secret-token",
		AllowedIPs: []string{"10.0.0.0/8"},
		Version:    "test",
	})

	tests := []struct {
		name       string
		remoteAddr string
		auth       string
		wantStatus int
	}{
		{"allowed IP, valid token", "10.1.2.3:12345", "Bearer secret-token", http.StatusOK},
		{"allowed IP, no token", "10.1.2.3:12345", "", http.StatusUnauthorized},
		{"denied IP, valid token", "172.16.0.1:12345", "Bearer secret-token", http.StatusForbidden},
		{"denied IP, no token", "172.16.0.1:12345", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/status", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rr := httptest.NewRecorder()

			api.server.Handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestNoAuthConfigured(t *testing.T) {
	api := New(Config{
		Addr:    ":0",
		Version: "test",
	})

	req := httptest.NewRequest("GET", "/status", nil)
	req.RemoteAddr = "8.8.8.8:12345"
	rr := httptest.NewRecorder()

	api.server.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200 when no auth configured, got %d", rr.Code)
	}
}

func TestPrometheusMetricsIncludesBackendHealth(t *testing.T) {
	m := metrics.New()
	m.RecordCacheMiss()

	reg := newTestRegistry(t, "http://127.0.0.1:8001", "http://127.0.0.1:8002")
	reg.Backends()[0].MarkProbeSucceeded(time.Now())
	reg.Backends()[1].MarkProbeFailed(time.Now(), 1)

	api := New(Config{
		Addr:     ":0",
		Metrics:  m,
		Registry: reg,
	})

	req := httptest.NewRequest("GET", "/metrics/prometheus", nil)
	rr := httptest.NewRecorder()

	api.handlePrometheusMetrics(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}

	body := rr.Body.String()

	if !strings.Contains(body, "relaygate_requests_total") {
		t.Error("expected relaygate_requests_total metric")
	}
	if !strings.Contains(body, "relaygate_backend_healthy") {
		t.Error("expected relaygate_backend_healthy metric")
	}
	if !strings.Contains(body, "relaygate_backend_failure_count") {
		t.Error("expected relaygate_backend_failure_count metric")
	}
	if !strings.Contains(body, "backend=\"http://127.0.0.1:8001\"") {
		t.Error("expected first backend label in metrics")
	}
}
