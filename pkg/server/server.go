package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"kestrel-hq/kestrel/pkg/config"
	"kestrel-hq/kestrel/pkg/telemetry/metrics"
)

// SessionHandler runs one client connection to completion. Implementations
// must close the connection before returning.
type SessionHandler interface {
	Handle(ctx context.Context, conn net.Conn)
}

// Server owns Kestrel's listeners and the lifecycle of their sessions.
type Server struct {
	cfg     *config.ProxyConfig
	handler SessionHandler
	metrics *metrics.Collector
	logger  *slog.Logger

	listener     net.Listener
	wsServer     *http.Server
	wsListener   net.Listener
	httpServer   *http.Server
	httpListener net.Listener
	sessions     sync.WaitGroup
	shutdownOnce sync.Once

	mu        sync.Mutex
	isRunning bool

	// sessionCancel force-terminates in-flight sessions when graceful
	// shutdown runs out of time.
	sessionCancel context.CancelFunc
}

// NewServer creates a server. The metrics collector may be nil; the metrics
// listener then serves only /healthz.
func NewServer(cfg *config.ProxyConfig, handler SessionHandler, collector *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		metrics: collector,
		logger:  logger,
	}
}

// Start opens the configured listeners and blocks until ctx is cancelled or
// a listener fails. On return all listeners are closed and sessions have
// been shut down.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", s.cfg.ListenAddress, err)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.listener = ln
	s.sessionCancel = cancel
	s.mu.Unlock()

	errChan := make(chan error, 3)

	go func() {
		s.logger.Info("session listener started", "address", ln.Addr().String())
		if err := s.acceptLoop(sessionCtx, ln); err != nil {
			errChan <- err
		}
	}()

	if s.cfg.WebSocketAddress != "" {
		if err := s.startWebSocket(sessionCtx, errChan); err != nil {
			_ = ln.Close()
			cancel()
			return err
		}
	}
	if s.cfg.MetricsAddress != "" {
		if err := s.startHTTP(errChan); err != nil {
			_ = ln.Close()
			cancel()
			return err
		}
	}

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		_ = s.Shutdown(context.Background())
		return err
	}
}

// Addr returns the session listener's bound address, empty before Start.
// Useful when listening on port 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// webSocketAddr returns the WebSocket listener's bound address, empty when
// the bridge is disabled.
func (s *Server) webSocketAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wsListener == nil {
		return ""
	}
	return s.wsListener.Addr().String()
}

// metricsAddr returns the metrics listener's bound address, empty when the
// listener is disabled.
func (s *Server) metricsAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// acceptLoop accepts client connections until the listener closes, running
// each session on its own goroutine.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		s.runSession(ctx, conn)
	}
}

// runSession hands one connection to the session handler, isolating panics
// to the session.
func (s *Server) runSession(ctx context.Context, conn net.Conn) {
	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("session panic recovered",
					"panic", r,
					"remote_addr", conn.RemoteAddr().String(),
					"stack", string(debug.Stack()),
				)
				_ = conn.Close()
			}
		}()
		s.handler.Handle(ctx, conn)
	}()
}

// Shutdown gracefully stops the server: close the listeners, give active
// sessions ShutdownTimeout to finish, then cancel the ones still running.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		ln := s.listener
		cancel := s.sessionCancel
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("initiating graceful shutdown", "timeout", s.cfg.ShutdownTimeout.String())

		shutdownCtx, cancelShutdown := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancelShutdown()

		if ln != nil {
			_ = ln.Close()
		}
		if s.wsServer != nil {
			if err := s.wsServer.Shutdown(shutdownCtx); err != nil {
				shutdownErr = fmt.Errorf("websocket listener shutdown error: %w", err)
			}
		}
		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				shutdownErr = fmt.Errorf("http listener shutdown error: %w", err)
			}
		}

		done := make(chan struct{})
		go func() {
			s.sessions.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			s.logger.Warn("shutdown timeout reached, cancelling active sessions")
			if cancel != nil {
				cancel()
			}
			select {
			case <-done:
			case <-time.After(s.cfg.ShutdownTimeout):
				shutdownErr = errors.New("sessions did not terminate after cancellation")
			}
		}
		if cancel != nil {
			cancel()
		}

		s.logger.Info("server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// startHTTP starts the metrics and health listener.
func (s *Server) startHTTP(errChan chan<- error) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	ln, err := net.Listen("tcp", s.cfg.MetricsAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", s.cfg.MetricsAddress, err)
	}

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.httpListener = ln
	s.mu.Unlock()
	go func() {
		s.logger.Info("metrics listener started", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("metrics listener error: %w", err)
		}
	}()
	return nil
}
