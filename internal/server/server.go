// Package server exposes the agent's read-only HTTP API and Prometheus
// metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/domain"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/server/handler"
	"github.com/adamalfredo/bybit-trading-bot-sub000/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port int `toml:"port"`
	// APIKey protects /api routes other than health. Empty disables auth.
	APIKey string `toml:"api_key"`
	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int `toml:"rate_limit"`
}

// Validate checks the server configuration.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Port)
	}
	if c.RateLimit < 0 {
		return errors.New("server.rate_limit must be >= 0")
	}
	return nil
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	// Metrics serves /metrics; nil leaves the route unregistered.
	Metrics http.Handler
}

// Server is the headless HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes and middleware registered.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	api := http.NewServeMux()
	api.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	api.HandleFunc("GET /api/journal", handlers.Positions.ListJournal)

	var protected http.Handler = api
	protected = middleware.Auth(cfg.APIKey, logger)(protected)
	protected = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute)(protected)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	mux.Handle("/api/", protected)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           middleware.Logging(logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}
