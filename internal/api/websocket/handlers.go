package websocket

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks are delegated to the fronting gateway.
		return true
	},
}

// Handler manages WebSocket endpoints.
type Handler struct {
	logger        *zap.Logger
	alertEventHub *AlertEventHub
}

// NewHandler creates a new WebSocket handler
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger:        logger,
		alertEventHub: NewAlertEventHub(logger),
	}
}

// Start runs the event hub until the context is cancelled.
func (h *Handler) Start(ctx context.Context) {
	go h.alertEventHub.Run(ctx)
}

// Stop shuts the hub down.
func (h *Handler) Stop() {
	h.alertEventHub.Stop()
}

// GetAlertEventHub exposes the hub so the alerting service can publish.
func (h *Handler) GetAlertEventHub() *AlertEventHub {
	return h.alertEventHub
}

// HandleAlertEvents upgrades the connection and subscribes the client to the
// alert stream for the user named in the query string.
func (h *Handler) HandleAlertEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		http.Error(w, "user_id query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := NewAlertClient(conn, h.alertEventHub, userID)
	h.alertEventHub.RegisterClient(client)

	go client.WritePump()
	go client.ReadPump()

	h.logger.Info("alert subscriber connected",
		zap.String("client_id", client.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("remote_addr", r.RemoteAddr))
}

// HealthCheck reports whether the hub is accepting events.
func (h *Handler) HealthCheck() error {
	select {
	case <-h.alertEventHub.done:
		return ErrEventHubNotRunning
	default:
		return nil
	}
}

// ErrEventHubNotRunning is returned when the hub has been stopped.
var ErrEventHubNotRunning = &WebSocketError{Code: "WS001", Message: "event hub is not running"}

// WebSocketError is a WebSocket-specific error with a stable code.
type WebSocketError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *WebSocketError) Error() string {
	return e.Code + ": " + e.Message
}
