package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	apierrors "profusion/internal/errors"
	"profusion/internal/progress"
)

// WebSocketHandler upgrades progress subscriptions. Each connection is
// scoped to one user; events for other users are never delivered to it.
type WebSocketHandler struct {
	hub      *progress.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler creates the progress subscription handler.
func NewWebSocketHandler(hub *progress.Hub, readBufferSize, writeBufferSize int, checkOrigin func(*http.Request) bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.With(slog.String("component", "ws_handler")),
	}
}

// ServeHTTP handles GET /ws.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid, apiErr := userID(r)
	if apiErr != nil {
		apierrors.WriteError(w, apiErr)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error to the client.
		h.logger.Error("websocket upgrade failed",
			slog.String("scope", uid),
			slog.String("error", err.Error()))
		return
	}

	progress.ServeWS(h.hub, conn, uid, h.logger)
}
