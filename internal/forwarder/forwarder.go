// Package forwarder implements the per-request reverse-proxy pipeline:
// authenticate, consult the cache, pick a backend, forward the request,
// compress the response, and emit it — retrying over distinct backends on
// transport failure or a non-2xx upstream response.
package forwarder

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"relaygate/internal/balancer"
	"relaygate/internal/cache"
	"relaygate/internal/clock"
	"relaygate/internal/compress"
	"relaygate/internal/fingerprint"
	"relaygate/internal/logging"
	"relaygate/internal/metrics"
)

// hopByHop lists headers meaningful only to a single transport hop; they
// are stripped in both directions.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

var errNoHealthyBackend = errors.New("no healthy backend servers available")

// allowedMethods are the only methods this component handles; anything
// else is rejected before authentication even runs.
var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// upstreamTransportError wraps a connect/TLS/read/write failure talking to
// a backend. It always drives a retry over the next pick.
type upstreamTransportError struct {
	cause error
}

func (e *upstreamTransportError) Error() string {
	return e.cause.Error()
}

func (e *upstreamTransportError) Unwrap() error {
	return e.cause
}

// upstreamHTTPError is a completed, non-2xx upstream response. It also
// drives a retry; only once the retry budget is exhausted does its
// status/reason propagate to the client, per spec.md §7.
type upstreamHTTPError struct {
	status int
	reason string
}

func (e *upstreamHTTPError) Error() string {
	return e.reason
}

// Config configures a Forwarder.
type Config struct {
	APIKey         string
	MaxRetries     int
	MaxRequestBody int64 // 0 means unbounded
}

// Forwarder handles one decoded HTTPS request and produces one HTTPS
// response.
type Forwarder struct {
	cfg      Config
	balancer *balancer.Balancer
	cache    *cache.Cache
	clock    clock.Clock
	logger   *logging.Logger
	metrics  *metrics.Metrics
	upstream *http.Client
}

// New builds a Forwarder. logger and m may be nil.
func New(cfg Config, bal *balancer.Balancer, c *cache.Cache, clk clock.Clock, logger *logging.Logger, m *metrics.Metrics) *Forwarder {
	return &Forwarder{
		cfg:      cfg,
		balancer: bal,
		cache:    c,
		clock:    clk,
		logger:   logger,
		metrics:  m,
		upstream: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

// ServeHTTP implements http.Handler.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := f.clock.Now()
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)

	clientIP := clientIP(r)

	if !allowedMethods[r.Method] {
		f.writeError(w, http.StatusNotImplemented, fmt.Sprintf("unsupported method %q", r.Method))
		f.logRequest(requestID, r, clientIP, "", "", http.StatusNotImplemented, 0, start)
		return
	}

	if r.Header.Get("X-API-Key") != f.cfg.APIKey {
		f.writeError(w, http.StatusUnauthorized, "missing or invalid API key")
		f.logRequest(requestID, r, clientIP, "", "", http.StatusUnauthorized, 0, start)
		if f.metrics != nil {
			f.metrics.RecordAuthFailure()
		}
		return
	}

	forwarded := cloneHeaders(r.Header)
	stripHopByHop(forwarded)
	forwarded.Set("X-Forwarded-For", clientIP)
	forwarded.Set("X-Forwarded-Host", r.Host)
	forwarded.Set("X-Forwarded-Proto", "https")

	body, err := readBody(r, f.cfg.MaxRequestBody)
	if err != nil {
		f.writeError(w, http.StatusBadRequest, "failed to read request body")
		f.logRequest(requestID, r, clientIP, "", "", http.StatusBadRequest, 0, start)
		return
	}

	encoding := compress.ChooseEncoding(r.Header.Get("Accept-Encoding"))
	key := fingerprint.Key(r.Method, r.URL.Path, forwarded, body, string(encoding))

	if r.Method == http.MethodGet {
		if entry, ok := f.cache.Get(key); ok {
			f.emitResponse(w, entry.StatusCode, entry.Headers, entry.Body, encoding, "HIT", "", 0)
			if f.metrics != nil {
				f.metrics.RecordCacheHit()
			}
			f.logRequest(requestID, r, clientIP, "HIT", "", entry.StatusCode, 0, start)
			return
		}
	}

	var lastErr error
	retries := 0
	var chosenBackend string

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		b, ok := f.balancer.Pick()
		if !ok {
			lastErr = errNoHealthyBackend
			break
		}
		chosenBackend = b.URL.String()

		probeStart := f.clock.Now()
		status, headers, respBody, err := f.callUpstream(r, b.URL, forwarded, body)
		if err != nil {
			lastErr = &upstreamTransportError{cause: err}
			retries++
			if f.metrics != nil {
				f.metrics.RecordBackendRequest(chosenBackend, time.Since(probeStart), true)
				f.metrics.RecordRetry()
			}
			continue
		}

		if status < 200 || status >= 300 {
			lastErr = &upstreamHTTPError{status: status, reason: http.StatusText(status)}
			retries++
			if f.metrics != nil {
				f.metrics.RecordBackendRequest(chosenBackend, time.Since(probeStart), true)
				f.metrics.RecordRetry()
			}
			continue
		}

		if f.metrics != nil {
			f.metrics.RecordBackendRequest(chosenBackend, time.Since(probeStart), false)
		}

		if r.Method == http.MethodGet {
			f.cache.Put(key, cache.Entry{StatusCode: status, Headers: cloneHeaders(headers), Body: respBody})
		}

		f.emitResponse(w, status, headers, respBody, encoding, "MISS", chosenBackend, retries)
		if f.metrics != nil {
			f.metrics.RecordCacheMiss()
		}
		f.logRequest(requestID, r, clientIP, "MISS", chosenBackend, status, retries, start)
		return
	}

	status, msg := mapError(lastErr)
	f.writeError(w, status, msg)
	f.logRequest(requestID, r, clientIP, "MISS", chosenBackend, status, retries, start)
}

func (f *Forwarder) callUpstream(r *http.Request, backendURL *url.URL, headers http.Header, body []byte) (int, http.Header, []byte, error) {
	target := *backendURL
	target.Path = singleJoiningSlash(backendURL.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = cloneHeaders(headers)
	req.ContentLength = int64(len(body))

	resp, err := f.upstream.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}

	return resp.StatusCode, resp.Header, respBody, nil
}

// emitResponse writes status, filtered headers, and the body (compressed
// under encoding if not identity) exactly once.
func (f *Forwarder) emitResponse(w http.ResponseWriter, status int, upstreamHeaders http.Header, rawBody []byte, encoding compress.Encoding, cacheState, backendURL string, retries int) {
	out, err := compress.Compress(rawBody, encoding)
	if err != nil {
		f.writeError(w, http.StatusInternalServerError, "failed to compress response")
		return
	}

	outHeaders := cloneHeaders(upstreamHeaders)
	stripHopByHop(outHeaders)
	outHeaders.Del("Content-Encoding")
	outHeaders.Del("Content-Length")

	dst := w.Header()
	for name, values := range outHeaders {
		dst[name] = values
	}

	dst.Set("Content-Length", strconv.Itoa(len(out)))
	if encoding != compress.Identity {
		dst.Set("Content-Encoding", string(encoding))
	}
	dst.Set("X-Cache", cacheState)
	if cacheState == "MISS" {
		dst.Set("X-Backend-Server", backendURL)
	}
	if retries > 0 {
		dst.Set("X-Retry-Count", strconv.Itoa(retries))
	}

	w.WriteHeader(status)
	w.Write(out)
}

func (f *Forwarder) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(msg)))
	w.WriteHeader(status)
	w.Write([]byte(msg))
}

func (f *Forwarder) logRequest(requestID string, r *http.Request, clientIP, cacheState, backendURL string, status, retries int, start time.Time) {
	if f.logger == nil {
		return
	}
	f.logger.LogRequest(logging.RequestLog{
		Timestamp:     f.clock.Now(),
		RequestID:     requestID,
		ClientIP:      clientIP,
		Method:        r.Method,
		Path:          r.URL.Path,
		Action:        cacheState,
		BackendServer: backendURL,
		RetryCount:    retries,
		StatusCode:    status,
		Duration:      float64(f.clock.Now().Sub(start).Microseconds()) / 1000.0,
	})
}

func mapError(err error) (int, string) {
	if err == nil {
		return http.StatusInternalServerError, "unknown error"
	}
	if errors.Is(err, errNoHealthyBackend) {
		return http.StatusInternalServerError, "No healthy backend servers available"
	}
	var he *upstreamHTTPError
	if errors.As(err, &he) {
		return he.status, he.reason
	}
	var te *upstreamTransportError
	if errors.As(err, &te) {
		return http.StatusInternalServerError, te.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

func readBody(r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	if maxBytes <= 0 {
		return io.ReadAll(r.Body)
	}
	limited := io.LimitReader(r.Body, maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func cloneHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		vv := make([]string, len(v))
		copy(vv, v)
		out[k] = vv
	}
	return out
}

func stripHopByHop(h http.Header) {
	for name := range hopByHop {
		h.Del(name)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
