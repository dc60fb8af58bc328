// Package metrics tracks in-process proxy counters and exposes them as a
// JSON snapshot or Prometheus text.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks proxy-wide counters and per-backend statistics.
type Metrics struct {
	startTime time.Time

	totalRequests  int64
	authFailures   int64
	cacheHits      int64
	cacheMisses    int64
	retriedRequests int64

	totalResponseTime int64
	responseCount     int64

	backendStats   map[string]*BackendStats
	backendStatsMu sync.RWMutex
}

// BackendStats tracks per-backend statistics.
type BackendStats struct {
	Requests     int64
	Errors       int64
	TotalLatency int64 // microseconds
	MinLatency   int64 // microseconds
	MaxLatency   int64 // microseconds
}

// New creates a new metrics instance.
func New() *Metrics {
	return &Metrics{
		startTime:    time.Now(),
		backendStats: make(map[string]*BackendStats),
	}
}

// RecordAuthFailure records a request rejected for a missing or wrong API
// key.
func (m *Metrics) RecordAuthFailure() {
	atomic.AddInt64(&m.totalRequests, 1)
	atomic.AddInt64(&m.authFailures, 1)
}

// RecordCacheHit records a GET served from the cache.
func (m *Metrics) RecordCacheHit() {
	atomic.AddInt64(&m.totalRequests, 1)
	atomic.AddInt64(&m.cacheHits, 1)
}

// RecordCacheMiss records a request that was not served from the cache and
// was answered by a successful upstream response.
func (m *Metrics) RecordCacheMiss() {
	atomic.AddInt64(&m.totalRequests, 1)
	atomic.AddInt64(&m.cacheMisses, 1)
}

// RecordRetry records one failed upstream attempt within a request.
func (m *Metrics) RecordRetry() {
	atomic.AddInt64(&m.retriedRequests, 1)
}

// RecordBackendRequest records one upstream call's latency and outcome.
func (m *Metrics) RecordBackendRequest(backendName string, latency time.Duration, isError bool) {
	latencyUs := latency.Microseconds()

	m.backendStatsMu.Lock()
	stats := m.backendStats[backendName]
	if stats == nil {
		stats = &BackendStats{MinLatency: latencyUs, MaxLatency: latencyUs}
		m.backendStats[backendName] = stats
	}
	if latencyUs < stats.MinLatency || stats.MinLatency == 0 {
		stats.MinLatency = latencyUs
	}
	if latencyUs > stats.MaxLatency {
		stats.MaxLatency = latencyUs
	}
	m.backendStatsMu.Unlock()

	atomic.AddInt64(&stats.Requests, 1)
	atomic.AddInt64(&stats.TotalLatency, latencyUs)
	if isError {
		atomic.AddInt64(&stats.Errors, 1)
	}

	atomic.AddInt64(&m.totalResponseTime, latencyUs)
	atomic.AddInt64(&m.responseCount, 1)
}

// BackendStatsSnapshot is a point-in-time view of one backend's stats.
type BackendStatsSnapshot struct {
	Requests     int64   `json:"requests"`
	Errors       int64   `json:"errors"`
	ErrorRate    float64 `json:"error_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	MinLatencyMs float64 `json:"min_latency_ms"`
	MaxLatencyMs float64 `json:"max_latency_ms"`
}

// Snapshot is a point-in-time metrics snapshot.
type Snapshot struct {
	Uptime          string                          `json:"uptime"`
	TotalRequests   int64                           `json:"total_requests"`
	AuthFailures    int64                           `json:"auth_failures"`
	CacheHits       int64                           `json:"cache_hits"`
	CacheMisses     int64                           `json:"cache_misses"`
	RetriedRequests int64                           `json:"retried_requests"`
	AvgResponseMs   float64                         `json:"avg_response_ms"`
	RequestsPerSec  float64                         `json:"requests_per_sec"`
	BackendStats    map[string]BackendStatsSnapshot `json:"backend_stats"`
}

// GetSnapshot returns a snapshot of current metrics.
func (m *Metrics) GetSnapshot() *Snapshot {
	uptime := time.Since(m.startTime)
	total := atomic.LoadInt64(&m.totalRequests)
	respCount := atomic.LoadInt64(&m.responseCount)
	respTime := atomic.LoadInt64(&m.totalResponseTime)

	var avgResp float64
	if respCount > 0 {
		avgResp = float64(respTime) / float64(respCount) / 1000.0
	}

	var rps float64
	if uptime.Seconds() > 0 {
		rps = float64(total) / uptime.Seconds()
	}

	m.backendStatsMu.RLock()
	backendStats := make(map[string]BackendStatsSnapshot)
	for name, stats := range m.backendStats {
		requests := atomic.LoadInt64(&stats.Requests)
		errs := atomic.LoadInt64(&stats.Errors)
		totalLatency := atomic.LoadInt64(&stats.TotalLatency)

		var errorRate, avgLatency float64
		if requests > 0 {
			errorRate = float64(errs) / float64(requests) * 100
			avgLatency = float64(totalLatency) / float64(requests) / 1000.0
		}

		backendStats[name] = BackendStatsSnapshot{
			Requests:     requests,
			Errors:       errs,
			ErrorRate:    errorRate,
			AvgLatencyMs: avgLatency,
			MinLatencyMs: float64(stats.MinLatency) / 1000.0,
			MaxLatencyMs: float64(stats.MaxLatency) / 1000.0,
		}
	}
	m.backendStatsMu.RUnlock()

	return &Snapshot{
		Uptime:          uptime.Round(time.Second).String(),
		TotalRequests:   total,
		AuthFailures:    atomic.LoadInt64(&m.authFailures),
		CacheHits:       atomic.LoadInt64(&m.cacheHits),
		CacheMisses:     atomic.LoadInt64(&m.cacheMisses),
		RetriedRequests: atomic.LoadInt64(&m.retriedRequests),
		AvgResponseMs:   avgResp,
		RequestsPerSec:  rps,
		BackendStats:    backendStats,
	}
}

// Handler returns an HTTP handler for the JSON metrics endpoint.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := m.GetSnapshot()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshot)
	}
}

// PrometheusHandler returns an HTTP handler for Prometheus-format metrics.
func (m *Metrics) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := m.GetSnapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		fmt.Fprintf(w, "# HELP relaygate_requests_total Requests counted as auth failures, cache hits or cache misses\n")
		fmt.Fprintf(w, "# TYPE relaygate_requests_total counter\n")
		fmt.Fprintf(w, "relaygate_requests_total %d\n\n", snapshot.TotalRequests)

		fmt.Fprintf(w, "# HELP relaygate_auth_failures_total Requests rejected for a missing or wrong API key\n")
		fmt.Fprintf(w, "# TYPE relaygate_auth_failures_total counter\n")
		fmt.Fprintf(w, "relaygate_auth_failures_total %d\n\n", snapshot.AuthFailures)

		fmt.Fprintf(w, "# HELP relaygate_cache_hits_total Requests served from cache\n")
		fmt.Fprintf(w, "# TYPE relaygate_cache_hits_total counter\n")
		fmt.Fprintf(w, "relaygate_cache_hits_total %d\n\n", snapshot.CacheHits)

		fmt.Fprintf(w, "# HELP relaygate_cache_misses_total Requests answered by a successful upstream response\n")
		fmt.Fprintf(w, "# TYPE relaygate_cache_misses_total counter\n")
		fmt.Fprintf(w, "relaygate_cache_misses_total %d\n\n", snapshot.CacheMisses)

		fmt.Fprintf(w, "# HELP relaygate_retried_requests_total Failed upstream attempts counted against a request's retry budget\n")
		fmt.Fprintf(w, "# TYPE relaygate_retried_requests_total counter\n")
		fmt.Fprintf(w, "relaygate_retried_requests_total %d\n\n", snapshot.RetriedRequests)

		fmt.Fprintf(w, "# HELP relaygate_response_time_ms_avg Average response time in milliseconds\n")
		fmt.Fprintf(w, "# TYPE relaygate_response_time_ms_avg gauge\n")
		fmt.Fprintf(w, "relaygate_response_time_ms_avg %.3f\n\n", snapshot.AvgResponseMs)

		fmt.Fprintf(w, "# HELP relaygate_requests_per_second Current request rate\n")
		fmt.Fprintf(w, "# TYPE relaygate_requests_per_second gauge\n")
		fmt.Fprintf(w, "relaygate_requests_per_second %.3f\n\n", snapshot.RequestsPerSec)

		fmt.Fprintf(w, "# HELP relaygate_backend_requests_total Total requests per backend\n")
		fmt.Fprintf(w, "# TYPE relaygate_backend_requests_total counter\n")
		for backend, stats := range snapshot.BackendStats {
			fmt.Fprintf(w, "relaygate_backend_requests_total{backend=%q} %d\n", backend, stats.Requests)
		}
		fmt.Fprintf(w, "\n")

		fmt.Fprintf(w, "# HELP relaygate_backend_errors_total Total errors per backend\n")
		fmt.Fprintf(w, "# TYPE relaygate_backend_errors_total counter\n")
		for backend, stats := range snapshot.BackendStats {
			fmt.Fprintf(w, "relaygate_backend_errors_total{backend=%q} %d\n", backend, stats.Errors)
		}
		fmt.Fprintf(w, "\n")

		fmt.Fprintf(w, "# HELP relaygate_backend_latency_ms_avg Average latency per backend in milliseconds\n")
		fmt.Fprintf(w, "# TYPE relaygate_backend_latency_ms_avg gauge\n")
		for backend, stats := range snapshot.BackendStats {
			fmt.Fprintf(w, "relaygate_backend_latency_ms_avg{backend=%q} %.3f\n", backend, stats.AvgLatencyMs)
		}
		fmt.Fprintf(w, "\n")

		fmt.Fprintf(w, "# HELP relaygate_backend_error_rate Error rate per backend (percentage)\n")
		fmt.Fprintf(w, "# TYPE relaygate_backend_error_rate gauge\n")
		for backend, stats := range snapshot.BackendStats {
			fmt.Fprintf(w, "relaygate_backend_error_rate{backend=%q} %.2f\n", backend, stats.ErrorRate)
		}
	}
}

// Reset zeroes all counters.
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.totalRequests, 0)
	atomic.StoreInt64(&m.authFailures, 0)
	atomic.StoreInt64(&m.cacheHits, 0)
	atomic.StoreInt64(&m.cacheMisses, 0)
	atomic.StoreInt64(&m.retriedRequests, 0)
	atomic.StoreInt64(&m.totalResponseTime, 0)
	atomic.StoreInt64(&m.responseCount, 0)

	m.backendStatsMu.Lock()
	m.backendStats = make(map[string]*BackendStats)
	m.backendStatsMu.Unlock()

	m.startTime = time.Now()
}
