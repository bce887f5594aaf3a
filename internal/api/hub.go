package api

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/septivank/energy-bypass-monitor/internal/monitor"
	"go.uber.org/zap"
)

const pairFilterKey = "pair_filter"

// Message is one websocket frame sent to dashboards
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	Time time.Time   `json:"time"`
}

type outbound struct {
	pairID string
	msg    Message
}

type subscription struct {
	conn   *websocket.Conn
	pairID string
}

// Hub fans pair updates out to websocket clients. A client subscribed with a
// pair filter only receives that pair.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]string

	broadcast  chan outbound
	register   chan subscription
	unregister chan *websocket.Conn
	done       chan struct{}
}

// NewHub creates a hub. Run must be started for messages to flow.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan outbound, 256),
		register:   make(chan subscription),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run manages connections and broadcasting until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.clients[sub.conn] = sub.pairID
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client registered", zap.Int("clients", total))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client unregistered", zap.Int("clients", total))

		case out := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn, pairID := range h.clients {
				if pairID != "" && pairID != out.pairID {
					continue
				}
				if err := conn.WriteJSON(out.msg); err != nil {
					h.logger.Warn("websocket send failed", zap.Error(err))
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			for _, conn := range failed {
				h.mu.Lock()
				delete(h.clients, conn)
				h.mu.Unlock()
				conn.Close()
			}
		}
	}
}

// Broadcast queues a pair update. Updates are dropped when the queue is full.
func (h *Hub) Broadcast(view monitor.PairView) {
	if h.ClientCount() == 0 {
		return
	}

	select {
	case h.broadcast <- outbound{pairID: view.PairID, msg: Message{Type: "pair_update", Data: view, Time: time.Now()}}:
	default:
		h.logger.Warn("broadcast queue full, dropping update", zap.String("pair_id", view.PairID))
	}
}

// HandleConnection serves one websocket client until it disconnects
func (h *Hub) HandleConnection(c *websocket.Conn) {
	pairID, _ := c.Locals(pairFilterKey).(string)

	welcome := Message{Type: "connected", Data: map[string]string{"pair_id": pairID}, Time: time.Now()}
	if err := c.WriteJSON(welcome); err != nil {
		h.logger.Warn("failed to send welcome message", zap.Error(err))
		return
	}

	select {
	case h.register <- subscription{conn: c, pairID: pairID}:
	case <-h.done:
		return
	}
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
