package operator

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// FeedEvent is one entry on the dashboard's live activity feed.
type FeedEvent struct {
	Code      string          `json:"code"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Hub fans feed events out to dashboard websocket connections.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*hubClient]bool
	upgrader websocket.Upgrader

	broadcastCh chan FeedEvent
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. Run must be started for broadcasts to flow.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*hubClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// The dashboard has no authentication layer; origin
				// checks are left to the deployment.
				return true
			},
		},
		broadcastCh: make(chan FeedEvent, 256),
	}
}

// Run processes broadcasts until ctx is done.
func (h *Hub) Run(done <-chan struct{}) {
	log.Info().Msg("dashboard feed hub started")
	for {
		select {
		case <-done:
			log.Info().Msg("dashboard feed hub shutting down")
			return
		case event := <-h.broadcastCh:
			h.fanOut(event)
		}
	}
}

// Broadcast queues an event for every connected dashboard.
func (h *Hub) Broadcast(event FeedEvent) {
	select {
	case h.broadcastCh <- event:
	default:
		log.Warn().Str("code", event.Code).Msg("feed broadcast channel full, dropping event")
	}
}

func (h *Hub) fanOut(event FeedEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal feed event")
		return
	}

	h.mu.RLock()
	targets := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			log.Warn().Msg("slow dashboard connection, closing")
			h.drop(c)
		}
	}
}

// ServeWS upgrades a dashboard connection and streams feed events to it.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade feed connection")
		return
	}
	client := &hubClient{conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	log.Info().Msg("dashboard feed connection established")

	go client.writePump(h)
	go client.readPump(h)
}

func (h *Hub) drop(c *hubClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	c.conn.Close()
}

func (c *hubClient) writePump(h *Hub) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		h.drop(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *hubClient) readPump(h *Hub) {
	defer h.drop(c)
	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Msg("unexpected feed connection close")
			}
			return
		}
	}
}
