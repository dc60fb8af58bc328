// Package clock provides an injectable source of "now" so cache TTLs and
// health-monitor timings can be driven deterministically in tests.
package clock

import "time"

// Clock is a monotonic time source.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Real is the production Clock backed by the system clock.
type Real struct{}

// New returns the production Clock.
func New() Clock {
	return Real{}
}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}
