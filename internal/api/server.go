package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"onboardr/internal/api/health"
	"onboardr/internal/metrics"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

// ServerConfig contains configuration for HTTP server
type ServerConfig struct {
	Port        int
	ServiceName string
	Version     string
}

// Routes holds the handlers mounted by the server. Nil handlers are skipped.
type Routes struct {
	Health        *health.Handler
	Analytics     http.Handler
	Orchestration *OrchestrationHandler
	Trades        *TradeHandler
	Alerts        *AlertHandler
}

// Server wraps HTTP server with lifecycle management
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewHandler builds the routed, instrumented handler
func NewHandler(cfg ServerConfig, routes Routes, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Kubernetes probes
	if h := routes.Health; h != nil {
		mux.HandleFunc("GET /health", h.HandleHealth)
		mux.HandleFunc("GET /ready", h.HandleReadiness)
		mux.HandleFunc("GET /live", h.HandleLiveness)
	}

	mux.Handle("GET /metrics", metrics.Handler())

	if routes.Analytics != nil {
		mux.Handle("GET /api/analytics", routes.Analytics)
	}

	if h := routes.Orchestration; h != nil {
		mux.HandleFunc("POST /api/orchestration/start", h.HandleStart)
		mux.HandleFunc("GET /api/orchestration/status", h.HandleStatus)
		mux.HandleFunc("POST /api/orchestration/refresh", h.HandleRefresh)
	}

	if h := routes.Trades; h != nil {
		mux.HandleFunc("POST /api/trades", h.HandleCreate)
		mux.HandleFunc("GET /api/trades", h.HandleList)
		mux.HandleFunc("GET /api/trades/{id}", h.HandleGet)
		mux.HandleFunc("DELETE /api/trades/{id}", h.HandleCancel)
	}

	if h := routes.Alerts; h != nil {
		mux.HandleFunc("GET /api/alerts", h.HandleList)
		mux.HandleFunc("POST /api/alerts", h.HandleCreate)
		mux.HandleFunc("DELETE /api/alerts/triggered", h.HandleClearTriggered)
		mux.HandleFunc("DELETE /api/alerts/{id}", h.HandleDelete)
	}

	// service info
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"service":%q,"version":%q,"status":"running"}`,
			cfg.ServiceName, cfg.Version)
	})

	return withRecovery(log, withLogging(log, mux))
}

// NewServer creates and configures HTTP server with all routes
func NewServer(cfg ServerConfig, routes Routes, log *logger.Logger) *Server {
	log = log.Component("http")

	port := 8080
	if cfg.Port > 0 {
		port = cfg.Port
	}

	log.Infof("HTTP server configured on port %d", port)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: NewHandler(cfg, routes, log),
		// orchestration start waits for the first agent runs
		ReadTimeout:  10 * time.Second,
		WriteTimeout: startTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		log:        log,
	}
}

// Start begins listening for HTTP requests
// Blocks until server is stopped or encounters an error
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}

	return nil
}

// Serve accepts connections on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown gracefully stops the HTTP server
// Waits for active connections to complete within timeout
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Stopping HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "http server shutdown failed")
	}

	s.log.Info("HTTP server stopped")
	return nil
}
