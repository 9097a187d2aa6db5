package router

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-restaurant/internal/auth"
	"ms-restaurant/internal/events"
	"ms-restaurant/internal/utils"
)

// ServeSSE streams the caller's events as Server-Sent Events. It must sit
// behind auth.Middleware; the stream joins the same groups a websocket
// connection of that identity would.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	actor := id.Actor()
	c := h.register()
	h.join(c, actor)
	defer h.unregister(c)

	setupSSEHeaders(w)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", events.SystemAuthenticated, mustJSON(actor))
	flusher.Flush()
	h.Logger.LogRouter("SSE_CONNECT", c.id, fmt.Sprintf("%s joined %s", actor.UserID, actor.Role.Group()))

	keepalive := time.NewTicker(h.pongWait() / 2)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			var env events.Envelope
			if err := json.Unmarshal(frame, &env); err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to decode frame: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Event, env.Data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			h.Logger.LogRouter("SSE_DISCONNECT", c.id, "client went away")
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}

func mustJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return raw
}
