// Package server implements the registry HTTP service: the metadata catalog
// that every device's daemon registers its watched files with.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tonimelisma/tower/internal/store"
)

// Timeouts for the HTTP server.
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 10 * time.Second
)

// ServiceName is reported by the health endpoint.
const ServiceName = "tower-registry"

// Store is the persistence the service needs. *store.Store satisfies it.
type Store interface {
	Upsert(ctx context.Context, rec *store.Record) (*store.Record, bool, error)
	Get(ctx context.Context, id int64) (*store.Record, error)
	List(ctx context.Context) ([]store.Record, error)
	Search(ctx context.Context, pattern string) ([]store.Record, error)
	Delete(ctx context.Context, id int64) (*store.Record, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// Config holds the options for New.
type Config struct {
	Store   Store
	Version string
	Logger  *slog.Logger
}

// Server serves the registry API over HTTP.
type Server struct {
	store   Store
	version string
	logger  *slog.Logger
	metrics *metrics
	handler http.Handler
	nowFunc func() time.Time
}

// New builds a Server and its routes.
func New(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:   cfg.Store,
		version: cfg.Version,
		logger:  logger,
		metrics: newMetrics(cfg.Store),
		nowFunc: time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("POST /files/register", s.handleRegister)
	mux.HandleFunc("GET /search/keyword", s.handleSearch)
	mux.HandleFunc("GET /files", s.handleList)
	mux.HandleFunc("GET /files/{id}", s.handleGet)
	mux.HandleFunc("DELETE /files/{id}", s.handleDelete)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", s.metrics.handler())

	s.handler = s.instrument(mux)

	return s
}

// Handler returns the root handler with logging and metrics applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe listens on addr and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully, giving in-flight requests shutdownTimeout to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.logger.Info("registry listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("registry shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}

	return nil
}
