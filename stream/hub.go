package stream

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lixenwraith/particle-engine/core"
	"github.com/lixenwraith/particle-engine/render"
)

const (
	writeWait      = 2 * time.Second
	defaultBacklog = 4
)

// client is one connected spectator
type client struct {
	addr string
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub fans frames out to websocket clients
// A client whose queue is full is dropped rather than stalling the frame loop
type Hub struct {
	upgrader websocket.Upgrader
	backlog  int

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	frames  atomic.Uint64
	dropped atomic.Uint64
	buf     []byte
}

// NewHub creates a hub; backlog bounds queued frames per client
func NewHub(backlog int) *Hub {
	if backlog < 1 {
		backlog = defaultBacklog
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			// Spectators are read-only; any origin may watch
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		backlog: backlog,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the spectator
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stream] upgrade %s: %v", r.RemoteAddr, err)
		return
	}

	c := &client{addr: r.RemoteAddr, conn: conn, send: make(chan []byte, h.backlog)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	log.Printf("[stream] spectator %s connected", r.RemoteAddr)
	core.Go(func() { h.writePump(c) })
	core.Go(func() { h.readPump(c) })
}

// writePump drains the client queue onto the socket
func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// readPump discards inbound messages and notices disconnects
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[stream] read: %v", err)
			}
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// Render implements render.Renderer
// The frame is encoded once and shared by every client queue
func (h *Hub) Render(f render.Frame) error {
	h.frames.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return nil
	}

	h.buf = AppendFrame(h.buf[:0], f)
	msg := make([]byte, len(h.buf))
	copy(msg, h.buf)

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			c.close()
			h.dropped.Add(1)
			log.Printf("[stream] dropping slow spectator %s", c.addr)
		}
	}
	return nil
}

// Clients returns the number of connected spectators
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns the number of spectators dropped for falling behind
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Frames returns the number of frames offered to the hub
func (h *Hub) Frames() uint64 {
	return h.frames.Load()
}

// Close disconnects every spectator and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}
