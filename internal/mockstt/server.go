// Package mockstt is an in-process STT backend speaking the wire protocol,
// used to test routing, relay, and failure handling without a real engine.
package mockstt

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"kestrel-hq/kestrel/pkg/wire"
)

// Behavior selects how the mock backend treats a session.
type Behavior int

const (
	// BehaviorTranscribe accepts the session and, after audio-stop,
	// emits one partial and one final transcript built from the received
	// chunks.
	BehaviorTranscribe Behavior = iota

	// BehaviorCloseAfterOpen drops the connection as soon as the opening
	// event arrives, simulating a backend dying mid-session.
	BehaviorCloseAfterOpen

	// BehaviorGarbage answers the opening event with bytes that are not a
	// wire frame, simulating a broken backend.
	BehaviorGarbage
)

// Server is a mock STT backend on a real TCP listener.
type Server struct {
	listener net.Listener
	behavior Behavior

	// FinalText overrides the final transcript text when non-empty.
	FinalText string

	// PartialText overrides the partial transcript text when non-empty.
	PartialText string

	mu       sync.Mutex
	sessions int
	chunks   []int
	wg       sync.WaitGroup
	closed   bool
}

// NewServer starts a mock backend with the given behavior on a loopback
// port.
func NewServer(behavior Behavior) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s := &Server{listener: ln, behavior: behavior}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Address returns the listener's host:port.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}

// Sessions returns how many sessions reached the mock.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// ChunkSizes returns the payload sizes received per chunk, in arrival order,
// across all sessions.
func (s *Server) ChunkSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// Close stops the listener and waits for in-flight handlers.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	_ = s.listener.Close()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	r := wire.NewReader(conn, wire.Limits{})
	w := wire.NewWriter(conn)

	open, err := r.ReadEvent()
	if err != nil || open.Type != wire.TypeAudioStart {
		return
	}

	s.mu.Lock()
	s.sessions++
	s.mu.Unlock()

	switch s.behavior {
	case BehaviorCloseAfterOpen:
		return
	case BehaviorGarbage:
		_, _ = conn.Write([]byte("this is not a frame\x00\x01\x02"))
		return
	}

	var received []string
	for {
		ev, err := r.ReadEvent()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return
			}
			return
		}
		switch ev.Type {
		case wire.TypeAudioChunk:
			s.mu.Lock()
			s.chunks = append(s.chunks, len(ev.Payload))
			s.mu.Unlock()
			received = append(received, fmt.Sprintf("%d", len(ev.Payload)))
		case wire.TypeAudioStop:
			partial := s.PartialText
			if partial == "" {
				partial = "partial"
			}
			final := s.FinalText
			if final == "" {
				final = "chunks " + strings.Join(received, " ")
			}
			if err := w.WriteEvent(wire.NewTranscript(partial, false)); err != nil {
				return
			}
			if err := w.WriteEvent(wire.NewTranscript(final, true)); err != nil {
				return
			}
			// Keep the connection open for reuse; the next session
			// starts with a fresh audio-start.
			received = received[:0]
		case wire.TypeAudioStart:
			received = received[:0]
		case wire.TypePing:
			if err := w.WriteEvent(wire.NewPong()); err != nil {
				return
			}
		}
	}
}
