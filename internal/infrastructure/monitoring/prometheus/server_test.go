package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexExtract/internal/testutil"
)

func TestServer_Routes(t *testing.T) {
	reg := newTestRegistry(t)
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "lexextract_up", Help: "up"})
	reg.MustRegister(g)
	g.Set(1)

	s := NewServer("127.0.0.1:0", "/custom-metrics", reg, testutil.NewMockLogger())
	h := s.Handler()

	assert.Contains(t, scrape(t, h, "/custom-metrics"), "lexextract_up 1")
	assert.Equal(t, "ok", scrape(t, h, "/healthz"))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s.SetReady(true)
	assert.Equal(t, "ready", scrape(t, h, "/readyz"))
}

func TestServer_DefaultPath(t *testing.T) {
	s := NewServer("127.0.0.1:0", "", newTestRegistry(t), nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_UnknownRouteAndMethod(t *testing.T) {
	h := NewServer("127.0.0.1:0", "", newTestRegistry(t), nil).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/extract", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_ShutdownStopsListen(t *testing.T) {
	s := NewServer("127.0.0.1:0", "", newTestRegistry(t), testutil.NewMockLogger())
	s.SetReady(true)

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe() }()

	// Shutdown before or after the listener is up both end ListenAndServe
	// with http.ErrServerClosed, which is reported as nil.
	require.NoError(t, s.Shutdown(context.Background()))
	assert.NoError(t, <-done)
	assert.False(t, s.ready.Load())
}
