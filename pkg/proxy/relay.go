package proxy

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"time"

	"kestrel-hq/kestrel/pkg/backend"
	"kestrel-hq/kestrel/pkg/telemetry/metrics"
	"kestrel-hq/kestrel/pkg/wire"
)

// endKind identifies which pump operation terminated the relay.
type endKind int

const (
	endClean endKind = iota
	endClientRead
	endClientWrite
	endBackendRead
	endBackendWrite
)

type pumpEnd struct {
	kind endKind
	err  error
}

// clientNotice is the terminal error event owed to the client, if any.
type clientNotice struct {
	code    string
	message string
}

type relayResult struct {
	outcome backend.Outcome
	label   string
	notify  *clientNotice
}

// relay pumps both directions until either side terminates the session. The
// first pump to finish decides the session's fate; the other is unblocked by
// expiring both connections' deadlines. Per-direction event order is
// preserved because each direction is a single goroutine.
func (s *session) relay(ctx context.Context) relayResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan pumpEnd, 2)
	var stopSeen atomic.Bool

	go s.pumpClientToBackend(&stopSeen, results)
	go s.pumpBackendToClient(&stopSeen, results)

	// Cancellation (server shutdown, or one pump finishing) unblocks the
	// other direction's pending read or write by expiring both deadlines.
	// The backend conn is captured locally: run() clears s.backendConn
	// after relay returns, and the watchdog is joined below so it can
	// never touch a connection the pool has already recycled.
	client, backendConn := s.client, s.backendConn
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		<-ctx.Done()
		now := time.Now()
		_ = client.SetDeadline(now)
		_ = backendConn.SetDeadline(now)
	}()

	first := <-results
	shuttingDown := ctx.Err() != nil
	cancel()
	<-results
	<-watchdogDone

	if shuttingDown && isDeadline(first.err) && first.kind != endClean {
		// The watchdog expired the deadlines on shutdown; don't mistake
		// that for a session-level idle timeout.
		return relayResult{
			outcome: backend.OutcomeError,
			label:   OutcomeLabelCanceled,
			notify:  &clientNotice{CodeBackendUnavailable, "proxy shutting down"},
		}
	}
	return s.classify(first)
}

// classify maps the terminating pump result onto the session's outcome, the
// pool release outcome, and the notice owed to the client.
func (s *session) classify(end pumpEnd) relayResult {
	switch end.kind {
	case endClean:
		return relayResult{outcome: backend.OutcomeClean, label: OutcomeLabelClean}

	case endClientRead:
		switch {
		case errors.Is(end.err, io.EOF):
			// Client disconnected; the backend may hold buffered audio
			// in an unknown state, so the connection is not reusable.
			s.logger.Info("client disconnected mid-session")
			return relayResult{outcome: backend.OutcomeError, label: OutcomeLabelClientClosed}
		case isDeadline(end.err):
			s.logger.Warn("session idle timeout", "error", ErrIdleTimeout)
			return relayResult{
				outcome: backend.OutcomeError,
				label:   OutcomeLabelIdleTimeout,
				notify:  &clientNotice{CodeIdleTimeout, ErrIdleTimeout.Error()},
			}
		case wire.IsFraming(end.err):
			s.logger.Warn("client framing error", "error", end.err)
			return relayResult{
				outcome: backend.OutcomeError,
				label:   OutcomeLabelProtocolError,
				notify:  &clientNotice{CodeProtocolError, "malformed event"},
			}
		default:
			s.logger.Warn("client read failed", "error", end.err)
			return relayResult{outcome: backend.OutcomeError, label: OutcomeLabelClientClosed}
		}

	case endClientWrite:
		if isDeadline(end.err) {
			// The client stopped draining its side; there is no point
			// sending it a notice it will not read.
			s.logger.Warn("client stopped reading, dropping session")
			return relayResult{outcome: backend.OutcomeError, label: OutcomeLabelIdleTimeout}
		}
		s.logger.Warn("client write failed", "error", end.err)
		return relayResult{outcome: backend.OutcomeError, label: OutcomeLabelClientClosed}

	case endBackendWrite:
		s.logger.Error("backend write failed mid-session",
			"backend", s.backendConn.Target(),
			"error", end.err,
		)
		return relayResult{
			outcome: backend.OutcomeBackendError,
			label:   OutcomeLabelBackendError,
			notify:  &clientNotice{CodeBackendError, "backend connection lost"},
		}

	default: // endBackendRead
		perr := &BackendProtocolError{Backend: s.backendConn.Target(), Cause: end.err}
		switch {
		case isDeadline(end.err):
			s.logger.Error("backend response timeout", "backend", s.backendConn.Target())
			return relayResult{
				outcome: backend.OutcomeBackendError,
				label:   OutcomeLabelIdleTimeout,
				notify:  &clientNotice{CodeBackendError, "backend response timeout"},
			}
		case errors.Is(end.err, io.EOF):
			s.logger.Error("backend closed mid-session", "backend", s.backendConn.Target())
		default:
			s.logger.Error("backend protocol error", "error", perr)
		}
		return relayResult{
			outcome: backend.OutcomeBackendError,
			label:   OutcomeLabelBackendError,
			notify:  &clientNotice{CodeBackendError, "backend error"},
		}
	}
}

// pumpClientToBackend forwards every client event to the backend in arrival
// order. The first forwarded audio chunk makes the session irrevocable.
func (s *session) pumpClientToBackend(stopSeen *atomic.Bool, out chan<- pumpEnd) {
	for {
		_ = s.client.SetReadDeadline(time.Now().Add(s.h.cfg.IdleTimeout))
		ev, err := s.reader.ReadEvent()
		if err != nil {
			out <- pumpEnd{kind: endClientRead, err: err}
			return
		}

		_ = s.backendConn.SetWriteDeadline(time.Now().Add(s.h.cfg.IdleTimeout))
		if err := s.backendConn.WriteEvent(ev); err != nil {
			out <- pumpEnd{kind: endBackendWrite, err: err}
			return
		}

		switch ev.Type {
		case wire.TypeAudioChunk:
			s.irrevocable.Store(true)
			s.h.metrics.ChunkRelayed(metrics.DirectionClientToBackend, len(ev.Payload))
		case wire.TypeAudioStop:
			stopSeen.Store(true)
		}
	}
}

// pumpBackendToClient forwards every backend event to the client in emission
// order, rewriting transcript text when a rewriter is configured. A final
// transcript after the client's audio-stop completes the session cleanly.
func (s *session) pumpBackendToClient(stopSeen *atomic.Bool, out chan<- pumpEnd) {
	for {
		_ = s.backendConn.SetReadDeadline(time.Now().Add(s.h.cfg.IdleTimeout))
		ev, err := s.backendConn.ReadEvent()
		if err != nil {
			out <- pumpEnd{kind: endBackendRead, err: err}
			return
		}

		if ev.IsTranscript() {
			ev = s.rewriteTranscript(ev)
		}

		_ = s.client.SetWriteDeadline(time.Now().Add(s.h.cfg.IdleTimeout))
		if err := s.writer.WriteEvent(ev); err != nil {
			out <- pumpEnd{kind: endClientWrite, err: err}
			return
		}
		if len(ev.Payload) > 0 {
			s.h.metrics.ChunkRelayed(metrics.DirectionBackendToClient, len(ev.Payload))
		}

		if ev.IsTranscript() && ev.IsFinal() && stopSeen.Load() {
			out <- pumpEnd{kind: endClean}
			return
		}
	}
}

// rewriteTranscript applies the rewrite rules to a transcript event,
// returning a replacement event when the text changed.
func (s *session) rewriteTranscript(ev *wire.Event) *wire.Event {
	if s.h.rewriter == nil {
		return ev
	}
	s.h.rewriter.ReloadIfChanged()
	fixed, changed := s.h.rewriter.Apply(ev.Text())
	if !changed {
		return ev
	}

	s.logger.Info("transcript rewritten",
		"original", ev.Text(),
		"fixed", fixed,
		"is_final", ev.IsFinal(),
	)
	s.h.metrics.TranscriptRewritten()

	replaced := &wire.Event{Type: ev.Type, Payload: ev.Payload}
	replaced.Data = make(map[string]string, len(ev.Data))
	for k, v := range ev.Data {
		replaced.Data[k] = v
	}
	replaced.Data[wire.DataText] = fixed
	return replaced
}

func isDeadline(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
