package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector(nil)

	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed("clean")
	c.ChunkRelayed(DirectionClientToBackend, 640)
	c.ChunkRelayed(DirectionClientToBackend, 640)
	c.FallbackTried()
	c.TranscriptRewritten()
	c.SetBackendLeased("b1", 3)
	c.SetBackendHealthy("b1", true)
	c.SetBackendHealthy("b2", false)

	if got := testutil.ToFloat64(c.activeSessions); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.sessionsTotal.WithLabelValues("clean")); got != 1 {
		t.Errorf("sessions_total{clean} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.chunksTotal.WithLabelValues(DirectionClientToBackend)); got != 2 {
		t.Errorf("chunks = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.bytesTotal.WithLabelValues(DirectionClientToBackend)); got != 1280 {
		t.Errorf("bytes = %v, want 1280", got)
	}
	if got := testutil.ToFloat64(c.backendLeased.WithLabelValues("b1")); got != 3 {
		t.Errorf("leased = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.backendHealthy.WithLabelValues("b2")); got != 0 {
		t.Errorf("healthy{b2} = %v, want 0", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.SessionOpened()
	c.SessionClosed("error")
	c.ChunkRelayed(DirectionBackendToClient, 100)
	c.FallbackTried()
	c.TranscriptRewritten()
	c.SetBackendLeased("b1", 1)
	c.SetBackendHealthy("b1", false)
}

func TestHandlerServesExposition(t *testing.T) {
	c := NewCollector(nil)
	c.SessionOpened()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "kestrel_active_sessions 1") {
		t.Errorf("exposition missing gauge:\n%s", rec.Body.String())
	}
}
