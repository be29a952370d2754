package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satindergrewal/twindeck/internal/deck"
	"github.com/satindergrewal/twindeck/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// PositionEvent is one poll result for one deck.
type PositionEvent struct {
	Deck     string        `json:"deck"`
	Position deck.Position `json:"position"`
	Display  string        `json:"display"`
	Progress float64       `json:"progress"`
	Time     int64         `json:"timestamp"`
}

// NewPositionEvent stamps p for deck id.
func NewPositionEvent(id string, p deck.Position) PositionEvent {
	return PositionEvent{
		Deck:     id,
		Position: p,
		Display:  p.String(),
		Progress: p.Progress(),
		Time:     time.Now().UnixMilli(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// PositionHub pushes position events to WebSocket subscribers.
type PositionHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

func NewPositionHub() *PositionHub {
	return &PositionHub{clients: make(map[*wsClient]struct{})}
}

// ClientCount returns the number of connected subscribers.
func (h *PositionHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends ev to every subscriber. Subscribers with a full queue miss
// the event.
func (h *PositionHub) Publish(ev PositionEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("position event marshal", logger.ErrorField(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Publisher returns a poll callback that publishes for deck id.
func (h *PositionHub) Publisher(id string) func(deck.Position) {
	return func(p deck.Position) { h.Publish(NewPositionEvent(id, p)) }
}

func (h *PositionHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	logger.Debug("position subscriber connected", logger.Int("clients", h.ClientCount()))

	go h.writePump(c)
	h.readPump(c)
}

func (h *PositionHub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// readPump discards client messages and unregisters on close.
func (h *PositionHub) readPump(c *wsClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", logger.ErrorField(err))
			}
			return
		}
	}
}

func (h *PositionHub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
