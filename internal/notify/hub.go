// Package notify fans session events out to connected UI clients.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chadiek/mio/internal/agent"
)

// ErrBufferFull is returned when a connection's send buffer is full.
var ErrBufferFull = errors.New("send buffer full")

// Connection represents a single WebSocket client.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	mu   sync.Mutex
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// Hub owns all UI connections. Only the Run loop touches the connection set.
type Hub struct {
	connections map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan []byte
	done       chan struct{}

	mu    sync.RWMutex
	count int
}

func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan []byte, 256),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is done, closing every
// connection's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for id, conn := range h.connections {
				delete(h.connections, id)
				close(conn.Send)
			}
			h.setCount(0)
			return

		case conn := <-h.register:
			h.connections[conn.ID] = conn
			h.setCount(len(h.connections))
			log.Printf("ui connection registered: %s", conn.ID)

		case conn := <-h.unregister:
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				close(conn.Send)
				h.setCount(len(h.connections))
				log.Printf("ui connection unregistered: %s", conn.ID)
			}

		case data := <-h.broadcast:
			for id, conn := range h.connections {
				select {
				case conn.Send <- data:
				default:
					// slow client, drop it
					log.Printf("ui connection %s buffer full, closing", id)
					delete(h.connections, id)
					close(conn.Send)
				}
			}
			h.setCount(len(h.connections))
		}
	}
}

// NewConnection wraps ws with a fresh connection id.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 64),
	}
}

// Register adds conn to the hub. After Run has returned the send channel is
// closed straight away so the connection's writer exits.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Broadcast queues data for every connection. It never blocks; when the
// queue is full the message is dropped.
func (h *Hub) Broadcast(data []byte) error {
	select {
	case h.broadcast <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// Notify publishes a session event to every connected client.
func (h *Hub) Notify(ev agent.Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("notify: marshal %s event: %v", ev.Type, err)
		return
	}
	if err := h.Broadcast(data); err != nil {
		log.Printf("notify: dropped %s event: %v", ev.Type, err)
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}
