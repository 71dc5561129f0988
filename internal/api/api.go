// Package api exposes the recommender over HTTP.
//
// Routes:
//
//	POST   /conversations               start a session, returns its id
//	GET    /conversations               list stored session ids
//	POST   /conversations/{id}/turns    run one turn
//	GET    /conversations/{id}          persisted conversation state
//	DELETE /conversations/{id}          forget a session
//	POST   /search                      hybrid product search
//	GET    /health
//	GET    /metrics                     Prometheus
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/krunaln/macrs-ecom-recommender/internal/agents"
	"github.com/krunaln/macrs-ecom-recommender/internal/flow"
)

// DefaultServerAddress is used when no address is configured.
const DefaultServerAddress = ":8080"

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server serves the HTTP API.
type Server struct {
	svc      *flow.Service
	searcher agents.Searcher
	addr     string
	started  time.Time
}

// NewServer creates a server. searcher may be nil, which disables /search.
func NewServer(svc *flow.Service, searcher agents.Searcher, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultServerAddress}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{svc: svc, searcher: searcher, addr: cfg.Addr, started: time.Now()}
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversations", s.createConversationHandler)
	mux.HandleFunc("GET /conversations", s.listConversationsHandler)
	mux.HandleFunc("POST /conversations/{id}/turns", s.turnHandler)
	mux.HandleFunc("GET /conversations/{id}", s.getConversationHandler)
	mux.HandleFunc("DELETE /conversations/{id}", s.deleteConversationHandler)
	mux.HandleFunc("POST /search", s.searchHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	return logRequests(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("Server request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}
