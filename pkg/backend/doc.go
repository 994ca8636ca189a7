// Package backend owns the proxy's connections to STT backend targets.
//
// Each configured target gets an independent sub-pool bounded by the target's
// max-concurrent-sessions limit. Acquire blocks until a slot is free and the
// target is healthy (bounded by the caller's context), reusing an idle
// connection when one exists and dialing otherwise. Release returns the slot
// on every path and either recycles the connection (clean outcome) or
// discards it (error outcome).
//
// Per target, health follows a small state machine: Healthy → Backoff(n) →
// Healthy. A dial failure pushes the target into backoff with exponentially
// growing intervals (capped), during which Acquire fails fast with
// ErrBackendUnreachable; one successful use resets the backoff to its base
// interval. The state machine lives in its own type so backoff behavior is
// testable without sessions or sockets.
//
// A cron-scheduled Pruner sweeps idle connections that have outlived the
// configured TTL, so pooled connections do not sit on a backend past its own
// idle timeout.
package backend
