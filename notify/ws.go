package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// inboundFrame is what clients send over the socket.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSHandler upgrades HTTP requests to websocket sessions on the hub.
type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a websocket handler for the hub.
func NewWSHandler(hub *Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	session := h.hub.Connect(&wsConn{conn: conn})
	defer h.hub.Disconnect(session)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			h.logger.Debug("dropping undecodable frame", "sessionId", session.ID)
			continue
		}

		switch frame.Event {
		case "subscribe":
			h.hub.Subscribe(session)
		default:
			h.logger.Debug("ignoring unknown event",
				"sessionId", session.ID,
				"event", frame.Event)
		}
	}
}

// wsConn serializes writes to a gorilla connection. The hub's per-session
// write pump is the only writer, so no extra locking is needed.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
