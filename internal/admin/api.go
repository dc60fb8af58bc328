package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"relaygate/internal/backend"
	"relaygate/internal/metrics"
)

// API provides administrative endpoints separate from the proxy listener.
type API struct {
	addr        string
	server      *http.Server
	metrics     *metrics.Metrics
	registry    *backend.Registry
	startTime   time.Time
	version     string
	authToken   string
	allowedNets []*net.IPNet
}

// Config configures the Admin API.
type Config struct {
	Addr       string
	Metrics    *metrics.Metrics
	Registry   *backend.Registry
	Version    string
	AuthToken  string   // Bearer token for authentication
	AllowedIPs []string // CIDRs allowed to access admin API
}

// New creates a new Admin API.
func New(cfg Config) *API {
	api := &API{
		addr:      cfg.Addr,
		metrics:   cfg.Metrics,
		registry:  cfg.Registry,
		startTime: time.Now(),
		version:   cfg.Version,
		authToken: cfg.AuthToken,
	}

	for _, cidr := range cfg.AllowedIPs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			ip := net.ParseIP(cidr)
			if ip != nil {
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				network = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
			}
		}
		if network != nil {
			api.allowedNets = append(api.allowedNets, network)
		}
	}

	mux := http.NewServeMux()
	// Health endpoint - no auth required (for load balancer checks).
	mux.HandleFunc("/health", api.handleHealth)
	mux.HandleFunc("/status", api.requireAuth(api.handleStatus))
	mux.HandleFunc("/metrics", api.requireAuth(api.handleMetrics))
	mux.HandleFunc("/metrics/prometheus", api.requireAuth(api.handlePrometheusMetrics))
	mux.HandleFunc("/backends", api.requireAuth(api.handleBackends))

	api.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return api
}

// requireAuth wraps a handler with bearer-token and IP-allowlist checks.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(a.allowedNets) > 0 {
			clientIP := extractIP(r.RemoteAddr)
			allowed := false
			if clientIP != nil {
				for _, network := range a.allowedNets {
					if network.Contains(clientIP) {
						allowed = true
						break
					}
				}
			}
			if !allowed {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}

		if a.authToken != "" {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			token := strings.TrimPrefix(auth, "Bearer ")
			if token != a.authToken {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

func extractIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}

// Start starts the Admin API server.
func (a *API) Start() error {
	go func() {
		a.server.ListenAndServe()
	}()
	return nil
}

// Stop stops the Admin API server.
func (a *API) Stop(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// StatusResponse represents the status endpoint response.
type StatusResponse struct {
	Status     string      `json:"status"`
	Version    string      `json:"version"`
	Uptime     string      `json:"uptime"`
	GoVersion  string      `json:"go_version"`
	NumCPU     int         `json:"num_cpu"`
	Goroutines int         `json:"goroutines"`
	Memory     MemoryStats `json:"memory"`
}

// MemoryStats contains memory statistics.
type MemoryStats struct {
	Alloc      uint64 `json:"alloc_bytes"`
	TotalAlloc uint64 `json:"total_alloc_bytes"`
	Sys        uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := StatusResponse{
		Status:     "running",
		Version:    a.version,
		Uptime:     time.Since(a.startTime).Round(time.Second).String(),
		GoVersion:  runtime.Version(),
		NumCPU:     runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
		Memory: MemoryStats{
			Alloc:      mem.Alloc,
			TotalAlloc: mem.TotalAlloc,
			Sys:        mem.Sys,
			NumGC:      mem.NumGC,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.metrics == nil {
		http.Error(w, "Metrics not available", http.StatusServiceUnavailable)
		return
	}

	a.metrics.Handler()(w, r)
}

func (a *API) handlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.metrics == nil {
		http.Error(w, "Metrics not available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	a.metrics.PrometheusHandler()(w, r)
	a.writeBackendMetrics(w)
}

func (a *API) writeBackendMetrics(w http.ResponseWriter) {
	if a.registry == nil {
		return
	}

	w.Write([]byte("\n# HELP relaygate_backend_healthy Backend health status (1=healthy, 0=unreachable or never healthy)\n"))
	w.Write([]byte("# TYPE relaygate_backend_healthy gauge\n"))
	for _, b := range a.registry.Backends() {
		healthy := 0
		if b.IsHealthy() {
			healthy = 1
		}
		line := "relaygate_backend_healthy{backend=\"" + b.URL.String() + "\"} " + strconv.Itoa(healthy) + "\n"
		w.Write([]byte(line))
	}

	w.Write([]byte("\n# HELP relaygate_backend_failure_count Consecutive probe failures since the last success\n"))
	w.Write([]byte("# TYPE relaygate_backend_failure_count gauge\n"))
	for _, b := range a.registry.Backends() {
		snap := b.Snapshot()
		line := "relaygate_backend_failure_count{backend=\"" + b.URL.String() + "\"} " + strconv.Itoa(snap.FailureCount) + "\n"
		w.Write([]byte(line))
	}
}

// BackendsResponse represents the /backends endpoint response.
type BackendsResponse struct {
	Total    int             `json:"total"`
	Healthy  int              `json:"healthy"`
	Backends []BackendStatus `json:"backends"`
}

// BackendStatus represents a single backend's observed state.
type BackendStatus struct {
	URL           string    `json:"url"`
	Status        string    `json:"status"`
	FailureCount  int       `json:"failure_count"`
	LastProbeAt   time.Time `json:"last_probe_at,omitempty"`
	LastHealthyAt time.Time `json:"last_healthy_at,omitempty"`
}

func (a *API) handleBackends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := BackendsResponse{}
	if a.registry != nil {
		resp.Total = a.registry.Len()
		for _, b := range a.registry.Backends() {
			snap := b.Snapshot()
			if snap.Status.String() == "healthy" {
				resp.Healthy++
			}
			resp.Backends = append(resp.Backends, BackendStatus{
				URL:           b.URL.String(),
				Status:        snap.Status.String(),
				FailureCount:  snap.FailureCount,
				LastProbeAt:   snap.LastProbeAt,
				LastHealthyAt: snap.LastHealthyAt,
			})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
