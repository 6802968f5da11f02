// Package fanout pushes seat-occupancy changes to observers.  It is a
// best-effort sink: every path here is fire-and-forget and a failure to
// notify never fails the ledger operation that triggered it.
package fanout

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins — adjust for production if needed
		return true
	},
}

// Hub keeps the set of websocket subscribers interested in seat updates.
// There is a single topic: every connected client receives every seat
// event.  Dead connections are dropped on the next broadcast.
type Hub struct {
	mu          sync.Mutex
	subscribers []*websocket.Conn
}

// NewHub returns an empty hub.
func NewHub() *Hub { return &Hub{} }

// ServeWS handles GET /v1/ws/seats.  It upgrades the connection and
// registers it; the read loop only exists to detect disconnects.
func (h *Hub) ServeWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "websocket upgrade failed"})
	}

	h.mu.Lock()
	h.subscribers = append(h.subscribers, conn)
	h.mu.Unlock()

	for {
		// Keeps the connection alive until the client disconnects.
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	remaining := make([]*websocket.Conn, 0, len(h.subscribers))
	for _, sc := range h.subscribers {
		if sc != conn {
			remaining = append(remaining, sc)
		}
	}
	h.subscribers = remaining
	h.mu.Unlock()

	conn.Close()
	return nil
}

// Broadcast sends the payload to every subscriber, pruning connections
// that fail to accept the write.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	alive := h.subscribers[:0]
	for _, conn := range h.subscribers {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err == nil {
			alive = append(alive, conn)
		} else {
			conn.Close()
		}
	}
	h.subscribers = alive
}

// Count reports the current number of subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
