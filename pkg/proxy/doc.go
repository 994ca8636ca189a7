// Package proxy runs one client connection's session through the proxy: it
// classifies the session from its opening event, selects a backend via the
// routing table, leases a connection from the backend pool, and relays the
// stream until the session ends.
//
// # Session Lifecycle
//
// A session moves through four states:
//
//	AwaitingOpen → SelectingBackend → Relaying → Closed
//
// The opening audio-start event supplies the session's attributes. Routing
// yields an ordered candidate chain; candidates are tried in order, skipping
// backends whose pool is exhausted or that are unreachable, until one accepts
// the translated opening event. Once the first audio chunk has been forwarded
// the session is irrevocable: audio consumed by a backend cannot be safely
// replayed, so no further candidate is tried and any later backend failure is
// fatal to the session.
//
// # Relay
//
// The relay pumps each direction in its own goroutine, preserving event order
// per direction. Audio chunks flow client→backend; transcripts and all other
// backend events flow backend→client, optionally passing through the
// transcript rewriter. A read error, clean close, or cancellation on either
// side stops both pumps promptly and releases the backend connection with the
// appropriate outcome — the pool lease is returned on every exit path.
//
// # Error Behavior
//
// All errors resolve at the session boundary. The client always receives a
// terminal error event before close when a protocol-level write is still
// possible; a session failure never touches other sessions, the shared rule
// table, or another target's pool state.
package proxy
