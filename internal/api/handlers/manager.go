// Package handlers provides HTTP request handlers for the portsweep API.
// This package implements REST endpoints for submitting and inspecting scans
// and a WebSocket endpoint for following their events.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ManagerConfig holds the dependencies of a HandlerManager.
type ManagerConfig struct {
	Registry       *ScanRegistry
	Validator      *validator.Validate
	AllowedOrigins []string
	Version        string
	Logger         *slog.Logger
}

// HandlerManager manages all API handlers and their dependencies.
type HandlerManager struct {
	registry *ScanRegistry

	health    *HealthHandler
	scan      *ScanHandler
	websocket *WebSocketHandler
}

// New creates a new handler manager with all handler groups initialized.
func New(cfg ManagerConfig) *HandlerManager {
	hm := &HandlerManager{registry: cfg.Registry}

	hm.websocket = NewWebSocketHandler(cfg.Registry, cfg.AllowedOrigins, cfg.Logger)
	hm.scan = NewScanHandler(cfg.Registry, cfg.Validator, cfg.Logger)
	hm.health = NewHealthHandler(cfg.Registry, hm.websocket.Clients, cfg.Version, cfg.Logger)

	return hm
}

// Health handles GET /api/v1/health.
func (hm *HandlerManager) Health(w http.ResponseWriter, r *http.Request) {
	hm.health.Health(w, r)
}

// Status handles GET /api/v1/status.
func (hm *HandlerManager) Status(w http.ResponseWriter, r *http.Request) {
	hm.health.Status(w, r)
}

// ListScans handles GET /api/v1/scans.
func (hm *HandlerManager) ListScans(w http.ResponseWriter, r *http.Request) {
	hm.scan.ListScans(w, r)
}

// CreateScan handles POST /api/v1/scans.
func (hm *HandlerManager) CreateScan(w http.ResponseWriter, r *http.Request) {
	hm.scan.CreateScan(w, r)
}

// GetScan handles GET /api/v1/scans/{id}.
func (hm *HandlerManager) GetScan(w http.ResponseWriter, r *http.Request) {
	hm.scan.GetScan(w, r)
}

// ScanEvents handles GET /api/v1/scans/{id}/events.
func (hm *HandlerManager) ScanEvents(w http.ResponseWriter, r *http.Request) {
	hm.websocket.ScanEvents(w, r)
}

// Shutdown closes WebSocket streams and drains running scans.
func (hm *HandlerManager) Shutdown(ctx context.Context) error {
	hm.websocket.Shutdown()
	return hm.registry.Shutdown(ctx)
}
