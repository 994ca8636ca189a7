package backend

import (
	"net"
	"time"

	"kestrel-hq/kestrel/pkg/wire"
)

// Target is one configured STT backend. Identity is the name; targets are
// immutable after load.
type Target struct {
	// Name identifies the target in rules, logs, and metrics.
	Name string `yaml:"name"`

	// Address is the TCP endpoint speaking the wire protocol.
	Address string `yaml:"address"`

	// MaxSessions bounds concurrent leased connections to this target.
	MaxSessions int `yaml:"max_sessions"`
}

// Outcome tells the pool how a leased connection's session ended, so it can
// decide between recycling and discarding the connection.
type Outcome int

const (
	// OutcomeClean marks a session that ended without a transport or
	// protocol error; the connection is safe to reuse.
	OutcomeClean Outcome = iota

	// OutcomeError marks a session that ended on an error outside the
	// backend's control, such as a client disconnect; the connection is
	// closed rather than recycled.
	OutcomeError

	// OutcomeBackendError marks a session the backend itself broke
	// (unexpected close, protocol error, response timeout); the
	// connection is closed and the target's health records a failure.
	OutcomeBackendError
)

// String returns the outcome label used in logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeBackendError:
		return "backend_error"
	default:
		return "error"
	}
}

// Conn is one pooled transport to a backend target, leased to exactly one
// session at a time. Lifecycle: Idle → Leased → Idle|Closed, driven by the
// pool's Acquire and Release.
type Conn struct {
	target   string
	netConn  net.Conn
	reader   *wire.Reader
	writer   *wire.Writer
	idleFrom time.Time
}

func newConn(target string, nc net.Conn, limits wire.Limits) *Conn {
	return &Conn{
		target:  target,
		netConn: nc,
		reader:  wire.NewReader(nc, limits),
		writer:  wire.NewWriter(nc),
	}
}

// Target returns the name of the backend this connection belongs to.
func (c *Conn) Target() string {
	return c.target
}

// ReadEvent decodes the next event from the backend.
func (c *Conn) ReadEvent() (*wire.Event, error) {
	return c.reader.ReadEvent()
}

// WriteEvent encodes an event to the backend.
func (c *Conn) WriteEvent(ev *wire.Event) error {
	return c.writer.WriteEvent(ev)
}

// SetReadDeadline bounds the next ReadEvent, for idle timeouts.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.netConn.SetReadDeadline(t)
}

// SetWriteDeadline bounds the next WriteEvent, so a stalled backend cannot
// block a relay forever.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.netConn.SetWriteDeadline(t)
}

// SetDeadline expires or clears both directions at once.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.netConn.SetDeadline(t)
}

// Close closes the underlying transport.
func (c *Conn) Close() error {
	return c.netConn.Close()
}
