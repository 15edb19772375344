// Package handlers provides HTTP request handlers for the portsweep API.
// This file implements the WebSocket endpoint that streams scan events.
package handlers

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/portsweep/internal/api/middleware"
	"github.com/anstrom/portsweep/internal/report"
)

const (
	// WebSocket configuration constants.
	writeWait       = 10 * time.Second                                   // Time allowed to write a message to the peer
	pongWait        = 60 * time.Second                                   // Time to read next pong message from peer
	pingPeriodRatio = 0.9                                                // Ratio of pongWait for pingPeriod
	pingPeriod      = time.Duration(float64(pongWait) * pingPeriodRatio) // Send pings to peer (must be < pongWait)
	maxMessageSize  = 512                                                // Maximum message size allowed from peer
	closeGrace      = time.Second                                        // Time to wait for the peer's close reply
)

// WebSocket message types.
const (
	MessageScanEvent     = "scan_event"
	MessageScanCompleted = "scan_completed"
)

// WebSocketMessage represents a WebSocket message structure.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// WebSocketHandler streams scan events to WebSocket clients.
type WebSocketHandler struct {
	registry *ScanRegistry
	logger   *slog.Logger
	upgrader websocket.Upgrader

	clients      atomic.Int64
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewWebSocketHandler creates a new WebSocket handler. Browser connections
// are accepted from allowedOrigins; "*" accepts any origin.
func NewWebSocketHandler(registry *ScanRegistry, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		logger:   logger.With("handler", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		shutdown: make(chan struct{}),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// ScanEvents handles GET /api/v1/scans/{id}/events. Events recorded so far
// are replayed, live events follow, and the connection is closed with a
// normal close frame after the scan completes.
func (h *WebSocketHandler) ScanEvents(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

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

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "request_id", requestID, "error", err)
		return
	}

	h.clients.Add(1)
	h.logger.Info("WebSocket client connected", "request_id", requestID, "scan_id", run.ID,
		"remote_addr", r.RemoteAddr, "clients", h.clients.Load())
	defer func() {
		if err := conn.Close(); err != nil {
			h.logger.Debug("Error closing WebSocket connection", "request_id", requestID, "error", err)
		}
		h.clients.Add(-1)
		h.logger.Info("WebSocket client disconnected", "request_id", requestID, "scan_id", run.ID)
	}()

	closed := make(chan struct{})
	go h.readPump(conn, closed, requestID)

	h.writePump(conn, run, closed, requestID)
}

// readPump discards client messages and signals when the peer goes away.
func (h *WebSocketHandler) readPump(conn *websocket.Conn, closed chan<- struct{}, requestID string) {
	defer close(closed)

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("Failed to set read deadline", "request_id", requestID, "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket unexpected close", "request_id", requestID, "error", err)
			}
			return
		}
	}
}

// writePump replays and follows the scan's events until it completes, the
// peer disconnects or the handler shuts down.
func (h *WebSocketHandler) writePump(conn *websocket.Conn, run *ScanRun, closed <-chan struct{}, requestID string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	offset := 0
	for {
		events, changed, done := run.EventsSince(offset)
		for _, event := range events {
			if err := h.write(conn, MessageScanEvent, report.NewRecord(event)); err != nil {
				h.logger.Debug("Write failed, closing connection", "request_id", requestID, "error", err)
				return
			}
			offset++
		}

		if done {
			if err := h.write(conn, MessageScanCompleted, run.Summary()); err != nil {
				return
			}
			h.closeWith(conn, closed, websocket.CloseNormalClosure, "scan completed")
			return
		}

		select {
		case <-changed:
		case <-closed:
			return
		case <-h.shutdown:
			h.closeWith(conn, closed, websocket.CloseGoingAway, "server shutting down")
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.logger.Debug("Ping failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, messageType string, data interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(WebSocketMessage{
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// closeWith sends a close frame and waits briefly for the peer to answer.
func (h *WebSocketHandler) closeWith(conn *websocket.Conn, closed <-chan struct{}, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		return
	}

	select {
	case <-closed:
	case <-time.After(closeGrace):
	}
}

// Clients returns the number of connected WebSocket clients.
func (h *WebSocketHandler) Clients() int {
	return int(h.clients.Load())
}

// Shutdown closes every open stream with a going-away frame.
func (h *WebSocketHandler) Shutdown() {
	h.shutdownOnce.Do(func() {
		close(h.shutdown)
	})
}
