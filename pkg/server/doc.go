// Package server provides Kestrel's listeners: the TCP session listener
// clients stream audio to, an optional WebSocket bridge for clients that
// cannot open raw TCP, and an optional HTTP listener for metrics and health
// checks.
//
// Each accepted connection is handed to a session handler on its own
// goroutine. A panic in one session is recovered and logged; it never takes
// down the process. Graceful shutdown stops accepting, cancels the running
// sessions' context, and waits for them bounded by the configured shutdown
// timeout.
package server
