// Package handlers implements the HTTP request handlers for the monitor
// server API.
//
// Each handler translates between HTTP requests and the internal
// subsystems: the job store, the device manager, and the model registry.
// Handlers are methods on a shared Handler struct that carries those
// dependencies, so tests can construct a Handler over fixture state
// without a running server.
//
// All responses are JSON. Errors use the api.ErrorResponse envelope with
// an appropriate HTTP status code.
package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/zhenhua32/mindformers/internal/api"
	"github.com/zhenhua32/mindformers/internal/config"
	"github.com/zhenhua32/mindformers/internal/device"
	"github.com/zhenhua32/mindformers/internal/job"
	"github.com/zhenhua32/mindformers/internal/launcher"
	"github.com/zhenhua32/mindformers/internal/logger"
	"github.com/zhenhua32/mindformers/internal/models"
)

// Handler holds the dependencies shared by all API handlers.
//
// The Handler is created once at server startup and used for the
// lifetime of the server. All fields are safe for concurrent use; the
// handlers themselves hold no per-request state.
type Handler struct {
	// config is the effective server configuration.
	config *config.Config

	// store tracks launched jobs and their log directories.
	store *job.Store

	// deviceManager provides the NPU inventory of this host.
	deviceManager *device.Manager

	// modelRegistry is the catalog of trainable model cards.
	modelRegistry *models.Registry

	// version and buildTime identify the running binary.
	version   string
	buildTime string

	// docker is the lazily created Docker launcher, used only for jobs
	// in docker mode. Hosts without a Docker daemon never pay for it.
	dockerMu sync.Mutex
	docker   *launcher.DockerLauncher
}

// NewHandler creates a handler with all required dependencies.
//
// Parameters:
//   - cfg: Effective server configuration
//   - store: Job store backing the jobs endpoints
//   - deviceManager: Device manager backing the devices endpoint
//   - modelRegistry: Model registry backing the models endpoint
//   - version: Server version string
//   - buildTime: Build timestamp for the version endpoint
//
// Returns:
//   - A pointer to a fully initialized Handler.
func NewHandler(cfg *config.Config, store *job.Store, deviceManager *device.Manager, modelRegistry *models.Registry, version, buildTime string) *Handler {
	return &Handler{
		config:        cfg,
		store:         store,
		deviceManager: deviceManager,
		modelRegistry: modelRegistry,
		version:       version,
		buildTime:     buildTime,
	}
}

// WriteJSON writes a JSON response with the given status code.
//
// The Content-Type header is set to application/json. Encoding errors
// are logged but not surfaced to the client; by the time they occur the
// status line has already been sent.
func (h *Handler) WriteJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}

// WriteError writes a JSON error response with the given status code.
//
// The message should be a complete sentence describing what went wrong,
// suitable for direct display by the CLI.
func (h *Handler) WriteError(w http.ResponseWriter, message string, status int) {
	h.WriteJSON(w, api.ErrorResponse{Error: message}, status)
}

// dockerLauncher returns the shared Docker launcher, creating it on
// first use. Creation fails when no Docker daemon is reachable; the
// failure is returned to the caller rather than cached so a daemon
// started later is picked up.
func (h *Handler) dockerLauncher() (*launcher.DockerLauncher, error) {
	h.dockerMu.Lock()
	defer h.dockerMu.Unlock()
	if h.docker != nil {
		return h.docker, nil
	}
	d, err := launcher.NewDockerLauncher(h.store, 0)
	if err != nil {
		return nil, err
	}
	h.docker = d
	return d, nil
}

// Health handles the health check endpoint.
//
// HTTP Method: GET
// Endpoint: /api/health
//
// Response: 200 OK with HealthResponse JSON
//
//	{"status": "healthy", "message": "xformer monitor is running"}
//
// The endpoint performs no deep checks. A reachable server that can
// serve this route is healthy; job and device problems surface through
// their own endpoints.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, api.HealthResponse{
		Status:  "healthy",
		Message: "xformer monitor is running",
	}, http.StatusOK)
}

// Version handles the version information endpoint.
//
// HTTP Method: GET
// Endpoint: /api/version
//
// Response: 200 OK with VersionResponse JSON
//
//	{"version": "0.3.0", "build_time": "2026-01-26T10:00:00Z", "git_commit": "a1b2c3d"}
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, api.VersionResponse{
		Version:   h.version,
		BuildTime: h.buildTime,
	}, http.StatusOK)
}
