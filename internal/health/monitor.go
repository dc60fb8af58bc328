// Package health runs the background probe loop that drives each
// backend's liveness state.
package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"relaygate/internal/backend"
	"relaygate/internal/clock"
	"relaygate/internal/logging"
)

// probeTimeout is fixed per spec, unlike the probe interval which is
// configurable.
const probeTimeout = 5 * time.Second

// Config configures the Monitor's probe cadence and demotion threshold.
type Config struct {
	// ProbeInterval is both the loop cadence and the minimum gap between
	// probes of the same backend.
	ProbeInterval time.Duration
	// MaxFailures is the number of consecutive failures required to
	// demote a previously-Healthy backend to Unreachable.
	MaxFailures int
}

// Monitor periodically probes every backend in a Registry and advances its
// health state machine. It is the exclusive writer of Backend health
// fields.
type Monitor struct {
	registry *backend.Registry
	cfg      Config
	clock    clock.Clock
	logger   *logging.Logger
	client   *http.Client

	stop chan struct{}
	done chan struct{}
}

// New builds a Monitor for registry. logger may be nil, in which case
// recovery/demotion events are not logged.
func New(registry *backend.Registry, cfg Config, clk clock.Clock, logger *logging.Logger) *Monitor {
	return &Monitor{
		registry: registry,
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		client: &http.Client{
			Timeout: probeTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Run blocks, probing all backends on every tick, until ctx is canceled or
// Stop is called. It is meant to be run in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)

	m.probeAll()

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.probeAll()
		}
	}
}

// Stop signals Run to exit and waits for it to return.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) probeAll() {
	now := m.clock.Now()
	for _, b := range m.registry.Backends() {
		snap := b.Snapshot()
		if !snap.LastProbeAt.IsZero() && now.Sub(snap.LastProbeAt) < m.cfg.ProbeInterval {
			continue
		}
		m.probeOne(b, now)
	}
}

// probeOne probes b and records the outcome stamped with the cycle's now,
// so the next tick's interval check sees a full interval since this probe.
func (m *Monitor) probeOne(b *backend.Backend, now time.Time) {
	ok := m.probe(b)

	if ok {
		prev := b.MarkProbeSucceeded(now)
		if prev != backend.Healthy && m.logger != nil {
			m.logger.Debug("backend recovered", map[string]interface{}{
				"backend": b.URL.String(),
			})
		}
		return
	}

	prev, demoted := b.MarkProbeFailed(now, m.cfg.MaxFailures)
	_ = prev
	if demoted && m.logger != nil {
		m.logger.Debug("backend removed", map[string]interface{}{
			"backend": b.URL.String(),
		})
	}
}

func (m *Monitor) probe(b *backend.Backend) bool {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/health", b.URL.String()), nil)
	if err != nil {
		return false
	}
	req.Header.Set("X-Forwarded-For", "127.0.0.1")

	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
