package backend

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// HealthSnapshot is a point-in-time view of one target's health state.
type HealthSnapshot struct {
	// Healthy is true when the target is not in a backoff window.
	Healthy bool

	// ConsecutiveFailures counts failures since the last success.
	ConsecutiveFailures int

	// RetryAt is when the current backoff window ends (zero when healthy).
	RetryAt time.Time
}

// healthState is the per-target Healthy → Backoff(n) → Healthy state machine.
// Failures push the target into a backoff window that grows exponentially per
// consecutive failure, capped at the configured maximum; one success resets
// the interval to its base. Safe for concurrent use.
type healthState struct {
	mu       sync.Mutex
	bo       *backoff.ExponentialBackOff
	failures int
	until    time.Time
}

func newHealthState(base, max time.Duration) *healthState {
	bo := backoff.NewExponentialBackOff()
	if base > 0 {
		bo.InitialInterval = base
	}
	if max > 0 {
		bo.MaxInterval = max
	}
	// Deterministic intervals; jitter buys nothing for a handful of
	// backends behind one proxy.
	bo.RandomizationFactor = 0
	bo.Reset()
	return &healthState{bo: bo}
}

// available reports whether an acquire attempt is allowed at now.
func (h *healthState) available(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !now.Before(h.until)
}

// recordFailure enters (or extends) the backoff window.
func (h *healthState) recordFailure(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures++
	h.until = now.Add(h.bo.NextBackOff())
}

// recordSuccess resets the state machine to Healthy.
func (h *healthState) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = 0
	h.until = time.Time{}
	h.bo.Reset()
}

// snapshot returns the current state for metrics and errors.
func (h *healthState) snapshot(now time.Time) HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		Healthy:             !now.Before(h.until),
		ConsecutiveFailures: h.failures,
		RetryAt:             h.until,
	}
}
