package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Event types pushed to websocket clients.
const (
	EventStatus   = "status"
	EventProgress = "progress"
	EventState    = "state"
	EventError    = "error"
)

// Event is one message on the /ws feed.
type Event struct {
	Type      string   `json:"type"`
	Elapsed   *float64 `json:"elapsed,omitempty"`
	Active    []string `json:"active,omitempty"`
	State     string   `json:"state,omitempty"`
	Error     string   `json:"error,omitempty"`
	Data      any      `json:"data,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// ProgressEvent builds a progress event.
func ProgressEvent(elapsed float64, active []string) Event {
	if active == nil {
		active = []string{}
	}
	return Event{Type: EventProgress, Elapsed: &elapsed, Active: active}
}

// StateEvent builds a state event.
func StateEvent(state string) Event {
	return Event{Type: EventState, State: state}
}

// ErrorEvent builds an error event.
func ErrorEvent(err error) Event {
	return Event{Type: EventError, Error: err.Error()}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans player events out to websocket clients. Clients that cannot
// keep up are disconnected.
type Hub struct {
	log      *zap.Logger
	upgrader websocket.Upgrader
	snapshot func() any

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. snapshot, when set, supplies the status sent to
// each client as it connects.
func NewHub(snapshot func() any, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:      log,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends e to every client.
func (h *Hub) Broadcast(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	msg, err := json.Marshal(e)
	if err != nil {
		h.log.Error("marshal event", zap.String("type", e.Type), zap.Error(err))
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("dropping slow websocket client", zap.String("remote", c.conn.RemoteAddr().String()))
		h.unregister(c)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		close(c.send)
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		close(c.send)
	}
}

// ServeHTTP upgrades the request and streams events until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	if h.snapshot != nil {
		msg, err := json.Marshal(Event{Type: EventStatus, Data: h.snapshot(), Timestamp: time.Now().UnixMilli()})
		if err == nil {
			c.send <- msg
		}
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	h.log.Debug("websocket client connected", zap.String("remote", r.RemoteAddr), zap.Int("clients", h.Count()))

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards client messages; it exists to process control frames
// and notice disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
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
