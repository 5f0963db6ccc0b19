package billingapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboards are served from other hosts
	},
}

// client serializes writes, a websocket connection allows one writer at a time.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub keeps the websocket clients that receive completed billing runs.
// Broadcast may be called from several goroutines.
type Hub struct {
	clients      map[*websocket.Conn]*client
	clientsMutex sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]*client)}
}

// Broadcast sends v as JSON to every client, dropping the ones that fail.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("Failed to encode broadcast: %v", err)
		return
	}

	h.clientsMutex.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMutex.RUnlock()

	for _, c := range clients {
		if err := c.write(data); err != nil {
			h.remove(c.conn)
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	h.add(conn)

	// Keep connection alive
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(conn)
			return
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	h.clients[conn] = &client{conn: conn}
	h.clientsMutex.Unlock()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMutex.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.clientsMutex.Unlock()
	if ok {
		conn.Close()
	}
}
