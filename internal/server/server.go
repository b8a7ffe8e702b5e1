// Package server exposes the sync and query engines over HTTP.
//
// Routes:
//
//	POST /events               enqueue a batch (202), or apply it inline with ?sync=true
//	POST /query                run a graph query
//	GET  /entities/{type}/{id} read one snapshot
//	GET  /healthz              liveness
//	GET  /metrics              Prometheus metrics
//
// Every error response is a JSON envelope {"error":{"code","message"}}.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/catalog/internal/engine"
	"github.com/roach88/catalog/internal/query"
	"github.com/roach88/catalog/internal/store"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 8 << 20

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	store        *store.Store
	sync         *engine.Engine
	query        *query.Engine
	logger       *slog.Logger
	maxBodyBytes int64
	closing      atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMaxBodyBytes bounds request bodies. Default: 8 MiB.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		s.maxBodyBytes = n
	}
}

// New creates a Server. The caller runs the sync engine's Run loop; the
// server only enqueues batches into it.
func New(st *store.Store, sync *engine.Engine, q *query.Engine, opts ...Option) *Server {
	s := &Server{
		store:        st,
		sync:         sync,
		query:        q,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/events", requireJSON(s.postEvents)).Methods(http.MethodPost)
	r.HandleFunc("/query", requireJSON(s.postQuery)).Methods(http.MethodPost)
	r.HandleFunc("/entities/{type}/{id}", s.getEntity).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeMethodNotAllow, "method not allowed")
	})

	return withRequestID(withLogging(s.logger, withRecoverer(s.logger, r)))
}

// StartShutdown makes the server refuse new event batches and report
// unhealthy. Queries keep being served until the listener closes.
func (s *Server) StartShutdown() {
	s.closing.Store(true)
}

// ListenAndServe serves on addr until ctx is cancelled, then stops taking
// events and shuts the listener down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.StartShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("http stopped")
	return nil
}
