// Package server provides the monitor HTTP server for the xformer
// application.
//
// This package implements the server side of the xformer API, handling
// incoming HTTP requests from CLI clients and other API consumers. It
// provides:
//   - RESTful API endpoints for job tracking, devices, and models
//   - Request routing and middleware
//   - Integration with the job store and device manager
//   - A scheduled retention sweep for finished job records
//   - Graceful shutdown support
//   - Request logging and error handling
//
// The server is designed to run as a long-lived service process, either
// as a standalone daemon or as a systemd service. Launches themselves
// happen in the CLI process; the monitor observes their records, so a
// monitor restart never touches running training jobs.
//
// Example usage:
//
//	cfg := config.NewDefaultConfig()
//	srv, err := server.NewServer(cfg, "1.0.0")
//	if err != nil {
//	    log.Fatalf("Server init failed: %v", err)
//	}
//	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
//	    log.Fatalf("Server failed: %v", err)
//	}
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"

	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/device"
	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/logger"
	"github.com/zhenhua32/mindformers/internal/models"
	"github.com/zhenhua32/mindformers/internal/server/handlers"
)

// Server is the HTTP server that handles API requests from clients.
//
// The Server manages the complete lifecycle of the xformer monitor
// including:
//   - HTTP request handling and routing
//   - Job store and device manager integration
//   - The scheduled retention sweep
//   - Graceful startup and shutdown
//
// The server is thread-safe and can handle multiple concurrent
// requests. It uses the standard Go HTTP server with configurable
// timeouts.
type Server struct {
	// config holds the server configuration including host, port, and
	// storage layout.
	config *config.Config

	// httpServer is the underlying HTTP server instance.
	httpServer *http.Server

	// store tracks launched jobs.
	store *job.Store

	// deviceManager handles NPU detection and inventory.
	deviceManager *device.Manager

	// cron drives the retention sweep.
	cron *cron.Cron

	// version is the server version string.
	version string

	// buildTime is the timestamp when the server instance started.
	buildTime string
}

// NewServer creates and initializes a new server instance.
//
// The server is created with the provided configuration and initializes
// all required subsystems:
//   - Job store over the configured data directory
//   - Device manager with hardware detection
//   - Model registry (compiled in, shared with the CLI)
//
// Creation also sweeps the job store once so records orphaned by a
// crash are finalized before the first client asks.
//
// The server is ready to start after creation but is not yet listening
// for connections. Call Start() to begin accepting requests.
//
// Parameters:
//   - cfg: The configuration for the server
//   - version: Server version string
//
// Returns:
//   - A pointer to a fully initialized Server ready to start
//   - Error if the storage directories cannot be prepared
func NewServer(cfg *config.Config, version string) (*Server, error) {
	store, err := Bootstrap(cfg)
	if err != nil {
		return nil, err
	}

	return &Server{
		config:        cfg,
		store:         store,
		deviceManager: device.NewManager(),
		version:       version,
		buildTime:     time.Now().Format(time.RFC3339),
	}, nil
}

// Start starts the HTTP server and begins accepting connections.
//
// This method configures the HTTP server with all routes and
// middleware, schedules the retention sweep, then starts listening on
// the configured host and port. The method blocks until the server is
// shut down via Stop() or encounters a fatal error.
//
// The server registers the following endpoints:
//   - GET    /api/health         - Health check
//   - GET    /api/version        - Version information
//   - GET    /api/jobs           - List tracked jobs
//   - GET    /api/jobs/{id}      - Inspect one job
//   - GET    /api/jobs/{id}/logs - Read or stream job logs
//   - POST   /api/jobs/{id}/stop - Stop a running job
//   - DELETE /api/jobs/{id}      - Remove a job record
//   - GET    /api/devices        - List NPUs on this host
//   - GET    /api/models         - List trainable model cards
//   - GET    /api/system         - Host facts and monitor identity
//
// All requests are logged through the logging middleware.
//
// Returns:
//   - http.ErrServerClosed after graceful shutdown
//   - error if the server fails to start or encounters a fatal error
func (s *Server) Start() error {
	r := s.buildRouter()

	if err := s.scheduleRetention(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.loggingMiddleware(r),
		// No write timeout so log following can stream indefinitely.
		IdleTimeout: 120 * time.Second,
	}

	logger.Info("Starting xformer monitor on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts down the server without interrupting active
// connections.
//
// This method initiates a graceful shutdown of the HTTP server. It:
//   - Stops the retention sweep scheduler
//   - Stops accepting new connections
//   - Waits for active requests to complete
//   - Respects the timeout in the provided context
//
// If the context expires before all connections close, the server is
// forcefully terminated.
//
// Parameters:
//   - ctx: Context with timeout for graceful shutdown
//
// Returns:
//   - nil if shutdown completes within the timeout
//   - error if shutdown fails or times out
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("Shutting down monitor...")
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// buildRouter wires every API route to its handler.
func (s *Server) buildRouter() *mux.Router {
	h := handlers.NewHandler(
		s.config,
		s.store,
		s.deviceManager,
		models.Default(),
		s.version,
		s.buildTime,
	)

	r := mux.NewRouter()

	r.HandleFunc("/api/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/version", h.Version).Methods(http.MethodGet)

	// Job tracking endpoints
	r.HandleFunc("/api/jobs", h.ListJobs).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}", h.GetJob).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}", h.DeleteJob).Methods(http.MethodDelete)
	r.HandleFunc("/api/jobs/{id}/logs", h.JobLogs).Methods(http.MethodGet)
	r.HandleFunc("/api/jobs/{id}/stop", h.StopJob).Methods(http.MethodPost)

	// Inventory endpoints
	r.HandleFunc("/api/devices", h.ListDevices).Methods(http.MethodGet)
	r.HandleFunc("/api/models", h.ListModels).Methods(http.MethodGet)
	r.HandleFunc("/api/system", h.System).Methods(http.MethodGet)

	return r
}

// scheduleRetention registers the retention sweep on the configured
// cron schedule. A retention of zero days disables the sweep entirely;
// records then live until removed by hand.
func (s *Server) scheduleRetention() error {
	if s.config.Jobs.RetentionDays <= 0 {
		logger.Info("Job retention sweep disabled")
		return nil
	}

	schedule := s.config.Server.CleanupSchedule
	if schedule == "" {
		schedule = config.DefaultCleanupSchedule
	}
	retention := time.Duration(s.config.Jobs.RetentionDays) * 24 * time.Hour

	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		removed, err := s.store.Prune(retention)
		if err != nil {
			logger.Error("Retention sweep failed: %v", err)
			return
		}
		if len(removed) > 0 {
			logger.Info("Retention sweep removed %d job(s): %v", len(removed), removed)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	logger.Info("Job retention sweep scheduled (%s, keep %d days)", schedule, s.config.Jobs.RetentionDays)
	return nil
}

// loggingMiddleware wraps an HTTP handler to log all requests.
//
// This middleware logs each incoming request with:
//   - Client IP address
//   - HTTP method and path
//   - Request processing duration
//
// The logging helps with debugging, monitoring, and auditing of API
// usage.
//
// Parameters:
//   - next: The next handler in the chain to call after logging
//
// Returns:
//   - An http.Handler that logs requests and calls the next handler
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.Info("%s %s %s", r.RemoteAddr, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
		logger.Debug("Completed in %v", time.Since(start))
	})
}
