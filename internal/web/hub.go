package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sweeney/signal-controller/internal/controller"
	"github.com/sweeney/signal-controller/internal/status"
)

// DefaultClientBuffer is the number of undelivered messages kept per viewer.
const DefaultClientBuffer = 64

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Hub fans controller events out to WebSocket viewers. It implements
// controller.Sink. Emit never blocks: a viewer whose buffer is full misses
// the event.
type Hub struct {
	bufSize int

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	dropped int
}

// NewHub creates a Hub with bufSize messages of buffering per viewer.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = DefaultClientBuffer
	}
	return &Hub{bufSize: bufSize, clients: make(map[*client]struct{})}
}

// Emit delivers e to every connected viewer.
func (h *Hub) Emit(e controller.Event) {
	data, err := status.FormatEvent(e)
	if err != nil {
		log.Warnf("format %s: %v", e.Type, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.offer(c, data)
	}
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// offer queues data for c without blocking. Caller holds h.mu.
func (h *Hub) offer(c *client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		if c.dropped == 0 {
			log.Warnf("viewer %s is slow, dropping events", c.id)
		}
		c.dropped++
		return false
	}
}

// reply queues a message for one viewer, if it is still registered.
func (h *Hub) reply(c *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.offer(c, data)
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
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Close disconnects every viewer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.conn.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("websocket upgrade: %v", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, s.hub.bufSize),
	}
	if !s.hub.register(c) {
		conn.Close()
		return
	}
	log.Infof("viewer %s connected from %s", c.id, r.RemoteAddr)

	go c.writePump()

	// The current status goes first so a new viewer need not wait a tick.
	snap := s.tracker.Snapshot()
	if snap.Ready {
		s.hub.reply(c, status.BuildEvent(controller.Event{Type: controller.EventStatus, Status: snap.Signal}))
	}

	s.readPump(c)
	s.hub.unregister(c)
	conn.Close()
	log.Infof("viewer %s disconnected", c.id)
}

// readPump handles inbound messages until the connection fails.
func (s *Server) readPump(c *client) {
	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.hub.reply(c, ErrorJSON{Type: msgError, Error: "invalid JSON"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("viewer %s read: %v", c.id, err)
			}
			return
		}
		switch msg.Type {
		case msgManualChange:
			// Unknown lanes are logged by the controller and otherwise ignored.
			s.cmd.RequestManualChange(msg.Lane)
		case msgEmergency:
			resp := s.cmd.RequestEmergency(msg.request())
			s.hub.reply(c, emergencyResponse(resp, msgEmergencyAck))
		default:
			s.hub.reply(c, ErrorJSON{Type: msgError, Error: "unknown message type " + msg.Type})
		}
	}
}

// writePump is the only writer on the connection. It exits when send is
// closed; after a write error it keeps draining so the hub never blocks.
func (c *client) writePump() {
	failed := false
	for data := range c.send {
		if failed {
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debugf("viewer %s write: %v", c.id, err)
			failed = true
			c.conn.Close()
		}
	}
}
