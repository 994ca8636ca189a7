package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"kestrel-hq/kestrel/pkg/backend"
	"kestrel-hq/kestrel/pkg/rewrite"
	"kestrel-hq/kestrel/pkg/routing"
	"kestrel-hq/kestrel/pkg/telemetry/metrics"
	"kestrel-hq/kestrel/pkg/wire"
)

// State is a session's position in its lifecycle.
type State int32

const (
	// StateAwaitingOpen waits for the client's opening audio-start event.
	StateAwaitingOpen State = iota

	// StateSelectingBackend walks the candidate chain for a backend that
	// accepts the session.
	StateSelectingBackend

	// StateRelaying pumps events between client and backend.
	StateRelaying

	// StateClosed is terminal.
	StateClosed
)

// String returns the state label used in logs.
func (s State) String() string {
	switch s {
	case StateAwaitingOpen:
		return "awaiting_open"
	case StateSelectingBackend:
		return "selecting_backend"
	case StateRelaying:
		return "relaying"
	default:
		return "closed"
	}
}

// Session outcome labels, used for logs and the sessions_total metric.
const (
	OutcomeLabelClean              = "clean"
	OutcomeLabelClientClosed       = "client_closed"
	OutcomeLabelProtocolError      = "protocol_error"
	OutcomeLabelNoRoute            = "no_route"
	OutcomeLabelBackendUnavailable = "backend_unavailable"
	OutcomeLabelBackendError       = "backend_error"
	OutcomeLabelIdleTimeout        = "idle_timeout"
	OutcomeLabelCanceled           = "canceled"
)

// Config tunes per-session behavior.
type Config struct {
	// OpenTimeout bounds the wait for the client's opening event.
	OpenTimeout time.Duration

	// IdleTimeout bounds each relay read; a direction with no traffic for
	// this long ends the session.
	IdleTimeout time.Duration

	// Limits are the wire framing limits applied to the client connection.
	Limits wire.Limits
}

// Session config defaults.
const (
	DefaultOpenTimeout = 10 * time.Second
	DefaultIdleTimeout = 5 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	return c
}

// Handler runs sessions. One Handle call per accepted client connection;
// calls are independent and safe to run concurrently.
type Handler struct {
	cfg      Config
	rules    *routing.Engine
	pool     *backend.Pool
	rewriter *rewrite.Rewriter
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewHandler creates a session handler. rewriter and collector may be nil to
// disable transcript rewriting and metrics respectively.
func NewHandler(cfg Config, rules *routing.Engine, pool *backend.Pool, rewriter *rewrite.Rewriter, collector *metrics.Collector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:      cfg.withDefaults(),
		rules:    rules,
		pool:     pool,
		rewriter: rewriter,
		metrics:  collector,
		logger:   logger,
	}
}

// session is one client connection's run through the proxy.
type session struct {
	h *Handler

	id     string
	client net.Conn
	reader *wire.Reader
	writer *wire.Writer
	table  *routing.Table
	logger *slog.Logger

	attrs       wire.SessionAttributes
	backendConn *backend.Conn
	state       atomic.Int32

	// irrevocable is set the moment the first audio chunk reaches a
	// backend; from then on no fallback is allowed.
	irrevocable atomic.Bool
}

// Handle runs one client connection to completion. It closes clientConn
// before returning, and releases any leased backend connection on every exit
// path.
func (h *Handler) Handle(ctx context.Context, clientConn net.Conn) {
	id := uuid.NewString()
	s := &session{
		h:      h,
		id:     id,
		client: clientConn,
		reader: wire.NewReader(clientConn, h.cfg.Limits),
		writer: wire.NewWriter(clientConn),
		table:  h.rules.Snapshot(),
		logger: h.logger.With(
			"session_id", id,
			"remote_addr", clientConn.RemoteAddr().String(),
		),
	}

	h.metrics.SessionOpened()
	s.logger.Info("session opened")

	outcome := s.run(ctx)

	_ = clientConn.Close()
	h.metrics.SessionClosed(outcome)
	s.logger.Info("session closed", "outcome", outcome, "irrevocable", s.irrevocable.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *session) run(ctx context.Context) string {
	defer s.setState(StateClosed)

	open, err := s.awaitOpen()
	if err != nil {
		return s.failOpen(err)
	}

	attrs, err := open.Attributes()
	if err != nil {
		s.logger.Warn("malformed opening attributes", "error", err)
		s.notify(CodeProtocolError, "malformed session attributes")
		return OutcomeLabelProtocolError
	}
	s.attrs = attrs
	s.setState(StateSelectingBackend)

	candidates := s.table.Route(attrs)
	if len(candidates) == 0 {
		s.logger.Error("no routing rule matched",
			"language", attrs.Language,
			"encoding", attrs.Encoding,
			"client_id", attrs.ClientID,
		)
		s.notify(CodeNoRoute, ErrNoRoute.Error())
		return OutcomeLabelNoRoute
	}

	conn, err := s.selectBackend(ctx, candidates, open)
	if err != nil {
		s.logger.Error("no backend accepted the session",
			"candidates", candidates,
			"error", err,
		)
		s.notify(CodeBackendUnavailable, ErrAllCandidatesFailed.Error())
		return OutcomeLabelBackendUnavailable
	}
	s.backendConn = conn
	s.logger.Info("backend selected", "backend", conn.Target())

	s.setState(StateRelaying)
	res := s.relay(ctx)

	s.h.pool.Release(conn, res.outcome)
	s.backendConn = nil
	s.publishBackendGauges(conn.Target())

	if res.notify != nil {
		s.notify(res.notify.code, res.notify.message)
	}
	return res.label
}

// awaitOpen reads until the opening audio-start arrives, answering pings
// along the way.
func (s *session) awaitOpen() (*wire.Event, error) {
	for {
		_ = s.client.SetReadDeadline(time.Now().Add(s.h.cfg.OpenTimeout))
		ev, err := s.reader.ReadEvent()
		if err != nil {
			return nil, err
		}
		switch ev.Type {
		case wire.TypeAudioStart:
			_ = s.client.SetReadDeadline(time.Time{})
			return ev, nil
		case wire.TypePing:
			if err := s.writer.WriteEvent(wire.NewPong()); err != nil {
				return nil, err
			}
		default:
			return nil, ErrMissingOpen
		}
	}
}

// failOpen classifies an awaitOpen failure and notifies the client when the
// connection still permits it.
func (s *session) failOpen(err error) string {
	switch {
	case errors.Is(err, io.EOF):
		// Client went away before opening; nothing to say to whom.
		return OutcomeLabelClientClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		s.logger.Warn("timed out waiting for opening event")
		s.notify(CodeProtocolError, "timed out waiting for audio-start")
		return OutcomeLabelProtocolError
	case errors.Is(err, ErrMissingOpen):
		s.logger.Warn("first event was not audio-start")
		s.notify(CodeProtocolError, ErrMissingOpen.Error())
		return OutcomeLabelProtocolError
	case wire.IsFraming(err):
		s.logger.Warn("malformed opening event", "error", err)
		s.notify(CodeProtocolError, "malformed event")
		return OutcomeLabelProtocolError
	default:
		s.logger.Warn("client read failed before open", "error", err)
		return OutcomeLabelClientClosed
	}
}

// selectBackend walks the candidate chain until a backend accepts the
// translated opening event. Exhausted and unreachable candidates are skipped;
// once a backend has accepted the open, selection is done and any later
// failure belongs to the relay.
func (s *session) selectBackend(ctx context.Context, candidates []string, open *wire.Event) (*backend.Conn, error) {
	for _, name := range candidates {
		conn, err := s.h.pool.Acquire(ctx, name)
		if err != nil {
			if isCandidateSkip(err) {
				s.logger.Warn("backend candidate unavailable, trying next",
					"backend", name,
					"error", err,
				)
				s.h.metrics.FallbackTried()
				s.publishBackendGauges(name)
				continue
			}
			return nil, err
		}

		if err := conn.WriteEvent(open); err != nil {
			s.logger.Warn("backend rejected session open, trying next",
				"backend", name,
				"error", err,
			)
			s.h.pool.Release(conn, backend.OutcomeBackendError)
			s.h.metrics.FallbackTried()
			s.publishBackendGauges(name)
			continue
		}

		s.publishBackendGauges(name)
		return conn, nil
	}
	return nil, ErrAllCandidatesFailed
}

// isCandidateSkip reports whether an acquire failure should fall through to
// the next candidate. Timeouts count as unreachable for fallback purposes.
func isCandidateSkip(err error) bool {
	return errors.Is(err, backend.ErrPoolExhausted) ||
		errors.Is(err, backend.ErrBackendUnreachable) ||
		errors.Is(err, backend.ErrUnknownTarget) ||
		errors.Is(err, context.DeadlineExceeded)
}

// notify sends a terminal error event to the client, best effort.
func (s *session) notify(code, message string) {
	_ = s.client.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = s.writer.WriteEvent(wire.NewError(code, message))
	_ = s.client.SetWriteDeadline(time.Time{})
}

func (s *session) publishBackendGauges(target string) {
	if s.h.metrics == nil {
		return
	}
	s.h.metrics.SetBackendLeased(target, s.h.pool.Leased(target))
	if health, ok := s.h.pool.Health(target); ok {
		s.h.metrics.SetBackendHealthy(target, health.Healthy)
	}
}
