// Package handlers provides HTTP request handlers for the portsweep API.
// This file implements health check and system status endpoints.
package handlers

import (
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/anstrom/portsweep/internal/scanning"
)

// Status constants.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// HealthHandler handles health check and status endpoints.
type HealthHandler struct {
	registry  *ScanRegistry
	clients   func() int
	version   string
	logger    *slog.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler. clients reports the number
// of connected WebSocket clients and may be nil.
func NewHealthHandler(registry *ScanRegistry, clients func() int, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		registry:  registry,
		clients:   clients,
		version:   version,
		logger:    logger.With("handler", "health"),
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// StatusResponse represents a detailed status response. AttemptSlots is
// omitted when attempts are unbounded.
type StatusResponse struct {
	Service      string                  `json:"service"`
	Version      string                  `json:"version"`
	PID          int                     `json:"pid"`
	GoVersion    string                  `json:"go_version"`
	Goroutines   int                     `json:"goroutines"`
	StartTime    time.Time               `json:"start_time"`
	Uptime       string                  `json:"uptime"`
	Scans        int                     `json:"scans"`
	RunningScans int                     `json:"running_scans"`
	Clients      int                     `json:"websocket_clients"`
	AttemptSlots *scanning.ResourceStats `json:"attempt_slots,omitempty"`
	Timestamp    time.Time               `json:"timestamp"`
}

// Health handles GET /api/v1/health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := StatusHealthy
	checks := map[string]string{"scans": "accepting"}

	if !h.registry.Accepting() {
		status = StatusUnhealthy
		checks["scans"] = "shutting down"
	} else if !h.registry.SlotsHealthy() {
		status = StatusUnhealthy
		checks["attempts"] = "slot held past any deadline"
	}

	statusCode := http.StatusOK
	if status != StatusHealthy {
		statusCode = http.StatusServiceUnavailable
		h.logger.Warn("Health check failed", "checks", checks)
	}

	writeJSON(w, r, statusCode, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Checks:    checks,
	})
}

// Status handles GET /api/v1/status.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Service:      "portsweep",
		Version:      h.version,
		PID:          os.Getpid(),
		GoVersion:    runtime.Version(),
		Goroutines:   runtime.NumGoroutine(),
		StartTime:    h.startTime.UTC(),
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		Scans:        len(h.registry.List()),
		RunningScans: h.registry.Running(),
		AttemptSlots: h.registry.Slots(),
		Timestamp:    time.Now().UTC(),
	}
	if h.clients != nil {
		response.Clients = h.clients()
	}

	writeJSON(w, r, http.StatusOK, response)
}
