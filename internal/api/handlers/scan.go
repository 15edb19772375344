// Package handlers provides HTTP request handlers for the portsweep API.
// This file implements scan submission and progress endpoints.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/anstrom/portsweep/internal/api/middleware"
	"github.com/anstrom/portsweep/internal/netrange"
	"github.com/anstrom/portsweep/internal/ports"
)

// ScanHandler handles scan-related API endpoints.
type ScanHandler struct {
	registry *ScanRegistry
	validate *validator.Validate
	logger   *slog.Logger
}

// NewScanHandler creates a new scan handler. validate must have the
// "portspec" tag registered.
func NewScanHandler(registry *ScanRegistry, validate *validator.Validate, logger *slog.Logger) *ScanHandler {
	return &ScanHandler{
		registry: registry,
		validate: validate,
		logger:   logger.With("handler", "scan"),
	}
}

// ScanRequest is the body of POST /api/v1/scans.
type ScanRequest struct {
	Network string `json:"network" validate:"required,ipv4"`
	Prefix  int    `json:"prefix" validate:"min=0,max=32"`
	Ports   string `json:"ports" validate:"required,portspec"`
}

// ScanCreatedResponse is returned when a scan has been accepted.
type ScanCreatedResponse struct {
	ID      uuid.UUID `json:"id"`
	Targets uint64    `json:"targets"`
}

// ScanListResponse lists every scan known to the server.
type ScanListResponse struct {
	Scans   []ScanSummary `json:"scans"`
	Running int           `json:"running"`
}

// CreateScan handles POST /api/v1/scans.
func (h *ScanHandler) CreateScan(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	var req ScanRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, validationError(err))
		return
	}

	network, err := netrange.Parse(req.Network, strconv.Itoa(req.Prefix))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	portSet, err := ports.Parse(req.Ports)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	run, err := h.registry.Start(network, portSet)
	if err != nil {
		h.logger.Warn("Scan rejected", "request_id", requestID, "network", network.String(), "error", err)
		writeError(w, r, statusForError(err), err)
		return
	}

	h.logger.Info("Scan accepted",
		"request_id", requestID,
		"scan_id", run.ID,
		"network", run.Network,
		"ports", run.Ports,
		"targets", run.Targets)

	w.Header().Set("Location", "/api/v1/scans/"+run.ID.String())
	writeJSON(w, r, http.StatusAccepted, ScanCreatedResponse{ID: run.ID, Targets: run.Targets})
}

// GetScan handles GET /api/v1/scans/{id}.
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	run, err := h.registry.Get(id)
	if err != nil {
		writeError(w, r, statusForError(err), err)
		return
	}

	writeJSON(w, r, http.StatusOK, run.Summary())
}

// ListScans handles GET /api/v1/scans.
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	runs := h.registry.List()

	response := ScanListResponse{
		Scans:   make([]ScanSummary, 0, len(runs)),
		Running: h.registry.Running(),
	}
	for _, run := range runs {
		response.Scans = append(response.Scans, run.Summary())
	}

	writeJSON(w, r, http.StatusOK, response)
}
