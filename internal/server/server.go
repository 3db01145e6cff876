// Package server implements the HTTP API in front of the document Q&A
// service: ingest, query, collection listing, health, readiness and metrics.
// The server is started by the `docqa serve` CLI command.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New constructs a Server from the provided service and config.
func New(svc DocService, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: service must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 2 * time.Minute
	}
	if cfg.IngestTimeout == 0 {
		cfg.IngestTimeout = 10 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must outlast the longest handler deadline.
		cfg.WriteTimeout = max(cfg.IngestTimeout, cfg.QueryTimeout) + time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxIngestBytes <= 0 {
		cfg.MaxIngestBytes = 32 << 20
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 10
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Identity == nil {
		log.Warn("server: no API tokens configured; trusting the " + OwnerHeader + " header (development only)")
		cfg.Identity = HeaderIdentity{}
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	metrics := newServerMetrics(cfg.MetricsRegistry)
	rl.onReject = func(handler string) { metrics.throttled.WithLabelValues(handler).Inc() }

	s := &Server{
		svc:         svc,
		cfg:         cfg,
		log:         log,
		pingers:     cfg.Pingers,
		transcripts: cfg.Transcripts,
		metrics:     metrics,
		stopRL:      stopRL,
	}

	api := func(name string, h http.HandlerFunc) http.Handler {
		return s.metrics.instrument(name, rl.middleware(name, identityMiddleware(cfg.Identity, h)))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/ingest", api("ingest", s.handleIngest))
	mux.Handle("POST /api/query", api("query", s.handleQuery))
	mux.Handle("GET /api/collections", api("collections", s.handleCollections))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully wrapped root handler. Used by tests and by
// callers embedding the API in another server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// Close releases background resources without serving. Safe to call once
// on a server whose Start was never called.
func (s *Server) Close() {
	s.stopRL()
}
