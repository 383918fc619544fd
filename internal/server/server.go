// Package server hosts the HTTP and WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/leverfi/leverbot/internal/server/handler"
	"github.com/leverfi/leverbot/internal/server/middleware"
	"github.com/leverfi/leverbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	RFQ       *handler.RFQHandler
	Archive   *handler.ArchiveHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux
// and the middleware chain (auth, logging, CORS) applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Position lifecycle endpoints.
	mux.HandleFunc("POST /api/positions", handlers.Positions.Create)
	mux.HandleFunc("GET /api/positions", handlers.Positions.List)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.Get)
	mux.HandleFunc("DELETE /api/positions/{id}", handlers.Positions.Close)
	mux.HandleFunc("POST /api/positions/{id}/confirm-open", handlers.Positions.ConfirmOpen)
	mux.HandleFunc("GET /api/positions/{id}/close-quote", handlers.Positions.CloseQuote)
	mux.HandleFunc("POST /api/positions/{id}/confirm-close", handlers.Positions.ConfirmClose)
	mux.HandleFunc("GET /api/positions/{id}/check", handlers.Positions.Check)
	mux.HandleFunc("POST /api/positions/check-all", handlers.Positions.CheckAll)

	// RFQ endpoints in each venue's native request shape.
	if handlers.RFQ != nil {
		mux.HandleFunc("GET /api/v1/1inch/quote", handlers.RFQ.OneInch)
		mux.HandleFunc("GET /api/v1/paraswap/quote", handlers.RFQ.ParaSwap)
		mux.HandleFunc("GET /api/v1/kyberswap/quote", handlers.RFQ.KyberSwap)
		mux.HandleFunc("GET /api/v1/universal/quote", handlers.RFQ.Universal)
	}

	// History archival trigger.
	if handlers.Archive != nil {
		mux.HandleFunc("POST /api/archive/trigger", handlers.Archive.Trigger)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// requests to complete within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
