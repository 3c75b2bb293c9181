package prometheus

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/turtacn/LexExtract/internal/infrastructure/monitoring/logging"
)

const readHeaderTimeout = 5 * time.Second

// Server serves metrics on a configurable path plus /healthz and /readyz.
// It reports not-ready until SetReady(true).
type Server struct {
	srv    *http.Server
	ready  atomic.Bool
	logger logging.Logger
}

// NewServer builds a server for g on addr.  An empty path defaults to
// /metrics.
func NewServer(addr, path string, g prometheus.Gatherer, logger logging.Logger) *Server {
	if path == "" {
		path = "/metrics"
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Server{logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Handle(path, Handler(g))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !s.ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// SetReady flips the /readyz answer.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// ListenAndServe blocks until the server stops.  A stop caused by Shutdown
// returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("metrics server listening", logging.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight scrapes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}
