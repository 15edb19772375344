// Package api provides the HTTP API of portsweep. Scans are submitted over
// REST, their events are streamed over WebSocket and probe metrics are
// exposed in the Prometheus format.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandlers "github.com/anstrom/portsweep/internal/api/handlers"
	"github.com/anstrom/portsweep/internal/api/middleware"
	"github.com/anstrom/portsweep/internal/config"
	"github.com/anstrom/portsweep/internal/logging"
	"github.com/anstrom/portsweep/internal/metrics"
	"github.com/anstrom/portsweep/internal/scanning"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	idleTimeout           = 60 * time.Second
	maxHeaderBytes        = 1 << 20
	systemMetricsInterval = 15 * time.Second
)

// Options holds optional Server dependencies.
type Options struct {
	// Metrics backs /metrics and receives probe and HTTP metrics. Nil uses
	// the process-wide collectors.
	Metrics *metrics.PrometheusMetrics
	// Executor overrides the TCP prober for every scan.
	Executor scanning.Executor
	// Logger defaults to the package default logger.
	Logger *logging.Logger
	// Version is reported by /api/v1/status.
	Version string
}

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	config     *config.Config
	handlers   *apihandlers.HandlerManager
	limiter    *middleware.RateLimiter
	logger     *logging.Logger
	metrics    *metrics.PrometheusMetrics
	startTime  time.Time

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new API server instance.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("api")

	pm := opts.Metrics
	if pm == nil {
		pm = metrics.GetGlobalMetrics()
	}

	registry := apihandlers.NewScanRegistry(apihandlers.ScanRegistryConfig{
		MaxConcurrency: cfg.Scanning.MaxConcurrency,
		MaxScans:       cfg.API.MaxScans,
		Executor:       opts.Executor,
		Metrics:        pm,
		Logger:         logger,
	})

	server := &Server{
		router:    mux.NewRouter(),
		config:    cfg,
		logger:    logger,
		metrics:   pm,
		startTime: time.Now(),
		handlers: apihandlers.New(apihandlers.ManagerConfig{
			Registry:       registry,
			Validator:      config.Validator(),
			AllowedOrigins: cfg.API.CORSOrigins,
			Version:        opts.Version,
			Logger:         logger.Logger,
		}),
	}
	if cfg.API.RateLimitRequests > 0 && cfg.API.RateLimitWindow > 0 {
		server.limiter = middleware.NewRateLimiter(cfg.API.RateLimitRequests, cfg.API.RateLimitWindow)
	}

	server.setupRoutes()
	server.setupMiddleware()

	server.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.API.Host, strconv.Itoa(cfg.API.Port)),
		Handler:        server.handler,
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}

	return server, nil
}

// Start serves the API until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("Starting API server",
		"address", listener.Addr().String(),
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	go s.metrics.StartPeriodicUpdates(ctx, systemMetricsInterval)
	if s.limiter != nil {
		s.limiter.StartCleanup(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop closes event streams, cancels running scans and shuts the HTTP
// server down.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.handlers.Shutdown(ctx); err != nil {
		s.logger.Warn("Scans did not drain before shutdown", "error", err)
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handlers.Status).Methods(http.MethodGet)

	api.HandleFunc("/scans", s.handlers.ListScans).Methods(http.MethodGet)
	var create http.Handler = http.HandlerFunc(s.handlers.CreateScan)
	if s.limiter != nil {
		create = middleware.RateLimit(s.limiter, s.logger.Logger)(create)
	}
	api.Handle("/scans", create).Methods(http.MethodPost)
	api.HandleFunc("/scans/{id}", s.handlers.GetScan).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}/events", s.handlers.ScanEvents).Methods(http.MethodGet)

	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.GetRegistry(), promhttp.HandlerOpts{})).
		Methods(http.MethodGet)
	s.router.HandleFunc("/", s.index).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("no route for %s %s", r.Method, r.URL.Path))
	})
}

// setupMiddleware configures middleware for the API server. CORS wraps the
// router so preflight requests are answered before route matching.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger.Logger))
	s.router.Use(middleware.Logging(s.logger.Logger))
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.ContentType())

	s.handler = handlers.CORS(
		handlers.AllowedOrigins(s.config.API.CORSOrigins),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Request-ID"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
	)(s.router)
}

// index returns API information for root requests.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"service": "portsweep API",
		"version": "v1",
		"endpoints": map[string]string{
			"health":  "/api/v1/health",
			"status":  "/api/v1/status",
			"scans":   "/api/v1/scans",
			"events":  "/api/v1/scans/{id}/events",
			"metrics": "/metrics",
		},
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	})
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the configured server address, or the bound address
// once Start is listening.
func (s *Server) GetAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// ErrorResponse represents a standard API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// writeError writes a standardized error response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.logger.Debug("API error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", statusCode,
		"error", err,
		"remote_addr", r.RemoteAddr)

	s.writeJSON(w, r, statusCode, ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	})
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
	}
}
