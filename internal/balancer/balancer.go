// Package balancer implements round-robin selection over the backends
// registered in a backend.Registry.
package balancer

import (
	"sync"

	"relaygate/internal/backend"
)

// Balancer holds a single cursor over a fixed backend list and picks the
// next Healthy backend on each call.
type Balancer struct {
	registry *backend.Registry

	mu     sync.Mutex
	cursor int
}

// New returns a Balancer over the given registry. The cursor starts at 0,
// so the first Pick examines index 1 first (it increments before reading).
func New(registry *backend.Registry) *Balancer {
	return &Balancer{registry: registry, cursor: 0}
}

// Pick advances the cursor and returns the next Healthy backend. If a full
// loop over all backends finds none Healthy, it returns (nil, false). The
// cursor advances exactly once per candidate examined.
func (b *Balancer) Pick() (*backend.Backend, bool) {
	backends := b.registry.Backends()
	n := len(backends)
	if n == 0 {
		return nil, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.cursor
	for {
		b.cursor = (b.cursor + 1) % n
		candidate := backends[b.cursor]
		if candidate.IsHealthy() {
			return candidate, true
		}
		if b.cursor == start {
			return nil, false
		}
	}
}
