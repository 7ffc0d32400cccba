package api

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// connWithMutex pairs a websocket connection with a write lock, since
// gorilla/websocket allows only one concurrent writer per connection.
type connWithMutex struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub fans status updates out to every connected websocket client. Slow or
// broken clients are dropped rather than blocking the broadcast.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*connWithMutex]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API binds to loopback; cross-origin pages on the same host
			// are fine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*connWithMutex]struct{}),
	}
}

// Handle upgrades the request and keeps the connection registered until the
// client goes away. Inbound frames are read and discarded to service
// control messages.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	cm := &connWithMutex{conn: conn}
	h.mu.Lock()
	h.conns[cm] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "remote", conn.RemoteAddr().String())

	go func() {
		defer h.drop(cm)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends one JSON payload to every client.
func (h *Hub) Broadcast(v any) {
	h.mu.Lock()
	conns := make([]*connWithMutex, 0, len(h.conns))
	for cm := range h.conns {
		conns = append(conns, cm)
	}
	h.mu.Unlock()

	for _, cm := range conns {
		cm.mu.Lock()
		err := cm.conn.WriteJSON(v)
		cm.mu.Unlock()
		if err != nil {
			h.drop(cm)
		}
	}
}

// ClientCount reports how many clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*connWithMutex, 0, len(h.conns))
	for cm := range h.conns {
		conns = append(conns, cm)
	}
	h.conns = make(map[*connWithMutex]struct{})
	h.mu.Unlock()

	for _, cm := range conns {
		cm.conn.Close()
	}
}

func (h *Hub) drop(cm *connWithMutex) {
	h.mu.Lock()
	_, ok := h.conns[cm]
	delete(h.conns, cm)
	h.mu.Unlock()
	if ok {
		cm.conn.Close()
		h.logger.Debug("websocket client dropped")
	}
}
