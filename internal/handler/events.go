package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tokenvault/internal/domain"
	"tokenvault/internal/events"
	"tokenvault/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// StreamHandler pushes committed vault events to websocket clients.
type StreamHandler struct {
	hub    *events.Hub
	vault  domain.Address
	logger logger.Logger
}

func NewStreamHandler(hub *events.Hub, vault domain.Address, log logger.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, vault: vault, logger: log}
}

// WebSocketHandler streams events as JSON frames until the client leaves.
func (h *StreamHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(h.vault)
	defer sub.Close()

	h.logger.Debug("WebSocket client connected", map[string]interface{}{"remote": r.RemoteAddr})

	// The read loop only drains control frames and notices disconnects.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(map[string]interface{}{
				"type":  "vault_event",
				"event": e,
			}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
