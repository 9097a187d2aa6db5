package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"ms-restaurant/internal/events"
)

// inbound is a message sent by a connection.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (h *Hub) upgrader() *websocket.Upgrader {
	allowed := h.Config.AllowedOrigins
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

func (h *Hub) pongWait() time.Duration {
	if h.Config.PongWait > 0 {
		return h.Config.PongWait
	}
	return 60 * time.Second
}

func (h *Hub) writeWait() time.Duration {
	if h.Config.WriteWait > 0 {
		return h.Config.WriteWait
	}
	return 10 * time.Second
}

// ServeWS upgrades the request and serves one connection until it closes.
// The connection starts unauthenticated and in no group.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Error("ROUTER", fmt.Sprintf("WebSocket upgrade failed: %v", err))
		return
	}

	c := h.register()
	h.Logger.LogRouter("CONNECT", c.id, fmt.Sprintf("remote %s", r.RemoteAddr))

	go h.writePump(conn, c)
	go h.readPump(conn, c)
}

func (h *Hub) readPump(conn *websocket.Conn, c *client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.unregister(c)
		conn.Close()
		h.Logger.LogRouter("DISCONNECT", c.id, "connection closed")
	}()

	if h.Config.MaxMessageSize > 0 {
		conn.SetReadLimit(h.Config.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(h.pongWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait()))
	})

	if h.Config.AuthDeadline > 0 {
		timer := time.AfterFunc(h.Config.AuthDeadline, func() {
			if _, ok := h.actorOf(c); ok {
				return
			}
			h.Logger.LogSecurity("AUTH_TIMEOUT", fmt.Sprintf("connection %s never authenticated", c.id))
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication timeout")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeWait()))
			conn.Close()
		})
		defer timer.Stop()
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.Logger.Warn("ROUTER", fmt.Sprintf("connection %s read error: %v", c.id, err))
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type == "" {
			h.sendTo(c, systemFrame(events.SystemError, map[string]string{"message": "malformed message"}))
			continue
		}
		h.handle(ctx, c, msg)
	}
}

func (h *Hub) handle(ctx context.Context, c *client, msg inbound) {
	if msg.Type == events.SystemAuthenticate {
		var req AuthRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			h.sendTo(c, authErrorFrame(ErrUnknownUser))
			return
		}
		actor, err := h.Authenticate(ctx, req)
		if err != nil {
			h.Logger.LogSecurity("AUTH_FAILED", fmt.Sprintf("connection %s as %s/%s: %v", c.id, req.UserID, req.Role, err))
			h.sendTo(c, authErrorFrame(err))
			return
		}
		h.join(c, actor)
		h.Logger.LogRouter("AUTHENTICATED", c.id, fmt.Sprintf("%s joined %s", actor.UserID, actor.Role.Group()))
		h.sendTo(c, authenticatedFrame(actor))
		return
	}

	actor, ok := h.actorOf(c)
	if !ok {
		h.sendTo(c, authErrorFrame(ErrNotAuthenticated))
		return
	}
	if err := h.relay(ctx, actor, msg.Type, msg.Data); err != nil {
		h.Logger.Warn("ROUTER", fmt.Sprintf("connection %s %s rejected: %v", c.id, msg.Type, err))
		h.sendTo(c, systemFrame(events.SystemError, map[string]string{"message": err.Error()}))
	}
}

// writePump is the only writer of conn's data frames, so frames reach the
// peer in the order they were queued.
func (h *Hub) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(h.pongWait() * 9 / 10)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(h.writeWait()))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.writeWait()))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
