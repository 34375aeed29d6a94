package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// Hub keeps websocket connections per merchant and pushes events to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]*sync.Mutex
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{clients: make(map[string]map[*websocket.Conn]*sync.Mutex), logger: logger}
}

func (h *Hub) Name() string { return "websocket" }

// Serve upgrades the request and subscribes the connection to merchantID.
// It returns once the connection is registered.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, merchantID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	if h.clients[merchantID] == nil {
		h.clients[merchantID] = make(map[*websocket.Conn]*sync.Mutex)
	}
	h.clients[merchantID][conn] = &sync.Mutex{}
	h.mu.Unlock()
	h.logger.Debug("websocket subscribed", "merchant_id", merchantID)

	go func() {
		defer h.remove(merchantID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(merchantID string, conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients[merchantID], conn)
	if len(h.clients[merchantID]) == 0 {
		delete(h.clients, merchantID)
	}
	h.mu.Unlock()
	conn.Close()
}

// Subscribers returns the number of open connections for a merchant.
func (h *Hub) Subscribers(merchantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[merchantID])
}

// Send writes the event to every connection of the event's merchant.
// A failed write drops that connection.
func (h *Hub) Send(_ context.Context, ev Event) error {
	h.mu.RLock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.clients[ev.MerchantID]))
	for c, mu := range h.clients[ev.MerchantID] {
		conns[c] = mu
	}
	h.mu.RUnlock()

	var firstErr error
	for conn, mu := range conns {
		mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteJSON(ev)
		mu.Unlock()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			h.remove(ev.MerchantID, conn)
		}
	}
	return firstErr
}
