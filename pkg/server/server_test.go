package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"kestrel-hq/kestrel/pkg/config"
	"kestrel-hq/kestrel/pkg/wire"
)

// echoHandler answers every received event with a pong and counts sessions.
type echoHandler struct {
	sessions atomic.Int32
	panics   atomic.Bool
}

func (h *echoHandler) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	h.sessions.Add(1)
	if h.panics.Load() {
		panic("session exploded")
	}
	r := wire.NewReader(conn, wire.Limits{})
	w := wire.NewWriter(conn)
	for {
		if _, err := r.ReadEvent(); err != nil {
			return
		}
		if err := w.WriteEvent(wire.NewPong()); err != nil {
			return
		}
	}
}

func testConfig() *config.ProxyConfig {
	return &config.ProxyConfig{
		ListenAddress:   "127.0.0.1:0",
		ShutdownTimeout: 2 * time.Second,
	}
}

func startServer(t *testing.T, cfg *config.ProxyConfig, h SessionHandler) (*Server, context.CancelFunc) {
	t.Helper()
	srv := NewServer(cfg, h, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errChan:
			if err != nil {
				t.Errorf("Start() returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	waitAddr(t, srv.Addr)
	return srv, cancel
}

// waitAddr polls an address accessor until the listener has bound.
func waitAddr(t *testing.T, addr func() string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("listener never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerHandlesTCPSessions(t *testing.T) {
	h := &echoHandler{}
	srv, _ := startServer(t, testConfig(), h)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	w := wire.NewWriter(conn)
	r := wire.NewReader(conn, wire.Limits{})
	if err := w.WriteEvent(wire.NewPing()); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev, err := r.ReadEvent()
	if err != nil || ev.Type != wire.TypePong {
		t.Fatalf("answer = (%+v, %v), want pong", ev, err)
	}
}

func TestServerRecoversSessionPanic(t *testing.T) {
	h := &echoHandler{}
	h.panics.Store(true)
	srv, _ := startServer(t, testConfig(), h)

	// First connection panics its session; the server must survive and
	// serve the next connection.
	conn1, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	buf := make([]byte, 1)
	_ = conn1.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn1.Read(buf); err != io.EOF {
		t.Fatalf("panicked session read = %v, want EOF", err)
	}
	_ = conn1.Close()

	h.panics.Store(false)
	conn2, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial after panic: %v", err)
	}
	defer conn2.Close()
	w := wire.NewWriter(conn2)
	r := wire.NewReader(conn2, wire.Limits{})
	if err := w.WriteEvent(wire.NewPing()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ev, err := r.ReadEvent(); err != nil || ev.Type != wire.TypePong {
		t.Fatalf("answer = (%+v, %v), want pong", ev, err)
	}
}

func TestServerWebSocketBridge(t *testing.T) {
	cfg := testConfig()
	cfg.WebSocketAddress = "127.0.0.1:0"
	h := &echoHandler{}
	srv, _ := startServer(t, cfg, h)

	waitAddr(t, srv.webSocketAddr)

	// Dial the bridge and speak the framed protocol over binary messages.
	u := fmt.Sprintf("ws://%s/stream", srv.webSocketAddr())
	ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	defer ws.Close()

	conn := newWSConn(ws)
	w := wire.NewWriter(conn)
	r := wire.NewReader(conn, wire.Limits{})
	if err := w.WriteEvent(wire.NewPing()); err != nil {
		t.Fatalf("write over bridge: %v", err)
	}
	ev, err := r.ReadEvent()
	if err != nil || ev.Type != wire.TypePong {
		t.Fatalf("bridge answer = (%+v, %v), want pong", ev, err)
	}
}

func TestServerHealthEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsAddress = "127.0.0.1:0"
	srv, _ := startServer(t, cfg, &echoHandler{})

	waitAddr(t, srv.metricsAddr)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", srv.metricsAddr()))
	if err != nil {
		t.Fatalf("healthz request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	h := &echoHandler{}
	srv, cancel := startServer(t, testConfig(), h)

	conn, err := net.Dial("tcp", srv.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	cancel()

	// The listener must stop accepting promptly.
	deadline := time.Now().Add(2 * time.Second)
	for srv.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("server still running after cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
