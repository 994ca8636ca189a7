package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The bridge carries the same framed protocol as the TCP listener;
	// origin policy is left to whatever fronts this listener.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// startWebSocket starts the HTTP listener that upgrades /stream to a
// WebSocket carrying the framed session protocol as binary messages.
func (s *Server) startWebSocket(sessionCtx context.Context, errChan chan<- error) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed",
				"remote_addr", r.RemoteAddr,
				"error", err,
			)
			return
		}
		s.runSession(sessionCtx, newWSConn(ws))
	})

	ln, err := net.Listen("tcp", s.cfg.WebSocketAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", s.cfg.WebSocketAddress, err)
	}

	s.wsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.wsListener = ln
	s.mu.Unlock()
	go func() {
		s.logger.Info("websocket listener started", "address", ln.Addr().String())
		if err := s.wsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("websocket listener error: %w", err)
		}
	}()
	return nil
}

// wsConn adapts a WebSocket connection to net.Conn so the session handler
// can treat bridge clients exactly like TCP clients. Binary message
// boundaries are ignored on read; the framed protocol carries its own
// lengths. Writes emit one binary message per Write call.
type wsConn struct {
	ws *websocket.Conn

	// message is the remainder of the binary message currently being
	// consumed, nil between messages.
	message io.Reader
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.message == nil {
			msgType, r, err := c.ws.NextReader()
			if err != nil {
				return 0, translateWSError(err)
			}
			if msgType != websocket.BinaryMessage {
				// Text and control frames are not part of the
				// session protocol; skip them.
				continue
			}
			c.message = r
		}
		n, err := c.message.Read(p)
		if errors.Is(err, io.EOF) {
			c.message = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		if err != nil {
			return n, translateWSError(err)
		}
		return n, nil
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, translateWSError(err)
	}
	return len(p), nil
}

func (c *wsConn) Close() error { return c.ws.Close() }

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }

// translateWSError maps a WebSocket close into the io.EOF the session
// handler expects from a disconnecting client.
func translateWSError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return io.EOF
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return io.EOF
	}
	return err
}
