// Package wsfeed broadcasts live position and drop-alert events to
// connected operator dashboards over WebSocket, fed by the same kv.Bus
// channels PositionManager and MarketDropDetector already publish to.
package wsfeed

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scalpguard/internal/kv"
	"scalpguard/internal/logger"
)

var log = logger.With("wsfeed")

// MessageType labels the payload carried by a Message.
type MessageType string

const (
	MsgPositionOpened  MessageType = "position_opened"
	MsgPositionClosed  MessageType = "position_closed"
	MsgDropDetected    MessageType = "drop_detected"
	MsgHeartbeat       MessageType = "heartbeat"
)

// Message is the envelope written to every connected client.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// client is one connected dashboard socket.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans kv.Bus events out to every connected client. Run must be started
// once before ServeHTTP is used to accept connections.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
}

// NewHub builds a Hub. CORS is left wide open since this is an operator-only
// surface expected to sit behind a reverse proxy or VPN.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
	}
}

// Run subscribes to the trading-event channels on bus and pumps them to
// every connected client until stop is closed.
func (h *Hub) Run(bus *kv.Bus, stop <-chan struct{}) *sync.WaitGroup {
	var wg sync.WaitGroup
	opened := bus.Subscribe(kv.ChannelPositionOpened)
	closed := bus.Subscribe(kv.ChannelPositionClosed)
	drops := bus.Subscribe(kv.ChannelDropDetected)
	heartbeat := time.NewTicker(30 * time.Second)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer heartbeat.Stop()
		for {
			select {
			case <-stop:
				return
			case c := <-h.register:
				h.mu.Lock()
				h.clients[c] = true
				h.mu.Unlock()
			case c := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[c]; ok {
					delete(h.clients, c)
					close(c.send)
				}
				h.mu.Unlock()
			case msg := <-h.broadcast:
				h.fanOut(msg)
			case payload := <-opened:
				h.publish(MsgPositionOpened, payload)
			case payload := <-closed:
				h.publish(MsgPositionClosed, payload)
			case payload := <-drops:
				h.publish(MsgDropDetected, payload)
			case <-heartbeat.C:
				h.publish(MsgHeartbeat, nil)
			}
		}
	}()
	return &wg
}

func (h *Hub) publish(t MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warnf("marshal %s payload: %v", t, err)
		return
	}
	msg := Message{Type: t, Data: data, Timestamp: time.Now().UnixMilli()}
	encoded, err := json.Marshal(msg)
	if err != nil {
		log.Warnf("marshal %s envelope: %v", t, err)
		return
	}
	select {
	case h.broadcast <- encoded:
	default:
		log.Warnf("broadcast channel full, dropping %s", t)
	}
}

func (h *Hub) fanOut(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and pumps broadcast messages
// to it until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.register <- c
	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
