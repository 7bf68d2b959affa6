package ingest

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jdugan/esdb/pkg/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// no Origin header = direct connection (curl, collectors)
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Hub fans freshly stored poll results out to websocket subscribers, giving
// dashboards a live feed without polling the query API.
type Hub struct {
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte

	// keepalive timings, fields so tests can shorten them
	pingInterval time.Duration
	readDeadline time.Duration

	mu sync.RWMutex
}

// NewHub creates a websocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:      make(map[*websocket.Conn]bool),
		register:     make(chan *websocket.Conn, config.WSChannelBuffer),
		unregister:   make(chan *websocket.Conn, config.WSChannelBuffer),
		broadcast:    make(chan []byte, config.WSBroadcastBuffer),
		pingInterval: config.WSPingInterval,
		readDeadline: config.WSReadDeadline,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.mu.Unlock()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("websocket client connected (total: %d)", count)
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("websocket client disconnected (total: %d)", count)
		case message := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			// unregister failed connections without holding the lock
			for _, conn := range failed {
				h.unregister <- conn
			}
		}
	}
}

// StorePollResult implements Sink: every stored result is pushed to
// subscribers. The broadcast channel drops when full rather than stalling
// the ingest path.
func (h *Hub) StorePollResult(pr PollResult) {
	if !h.HasClients() {
		return
	}

	message, err := json.Marshal(map[string]interface{}{
		"type":   "poll_result",
		"result": pr,
	})
	if err != nil {
		return
	}

	select {
	case h.broadcast <- message:
	default:
	}
}

// HasClients reports whether any subscriber is connected.
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HandleWS upgrades GET /v1/live to a websocket subscription.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	h.register <- conn

	done := make(chan struct{})

	// ping sender: idle subscribers only survive the read deadline because
	// their pong resets it
	go func() {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// drain reads so pongs and close frames are processed
	go func() {
		defer func() {
			close(done)
			h.unregister <- conn
		}()
		conn.SetReadDeadline(time.Now().Add(h.readDeadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(h.readDeadline))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

var _ Sink = (*Hub)(nil)
