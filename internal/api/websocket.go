package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/aiqnetlab/qnet-node/internal/events"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // node operators dashboard from anywhere; auth is at the RPC layer
	},
}

// Hub fans out egress events (RoundFinalized, LeaderSelected,
// MicroblockProduced, MacroblockSealed, WindowDistributed,
// NodeStatusChanged, PhaseTransitioned, BanRequested, ...) to every
// connected websocket client over a buffered broadcast channel.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

// NewHub creates an empty hub; call Run in a goroutine to start fan-out.
func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Run drains the broadcast channel forever, writing to every client.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[egress] websocket write error: %v", err)
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe upgrades an HTTP request to a websocket and registers the
// client for broadcasts.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[egress] failed to upgrade websocket: %v", err)
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Broadcast pushes raw JSON bytes to every connected client.
func (h *Hub) Broadcast(data []byte) {
	h.broadcast <- data
}

// BridgeBus subscribes to bus and forwards every published event as JSON
// to the websocket hub, the uni-directional "components publish, the API
// layer forwards" wiring named in Design Note "cyclic references ->
// uni-directional events".
func BridgeBus(bus *events.Bus, hub *Hub) {
	ch := bus.Subscribe(256)
	go func() {
		for ev := range ch {
			body, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[egress] failed to marshal event %s: %v", ev.Kind, err)
				continue
			}
			hub.Broadcast(body)
		}
	}()
}
