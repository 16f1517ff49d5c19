package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pongclash/server/internal/protocol"
)

// Handler is the namespace-side of a hub: lobby, pong and key clash
// each provide one. Handlers run on the connection's read goroutine,
// one event at a time per connection.
type Handler interface {
	HandleConnect(c *Conn)
	HandleMessage(c *Conn, env protocol.Envelope)
	HandleDisconnect(c *Conn)
}

// Config holds websocket connection settings.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the default websocket configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Hub owns the connections of one namespace and their room-scoped
// broadcast groups. It is the transport half of the session layer; the
// Handler supplies the game semantics.
type Hub struct {
	mu     sync.RWMutex
	conns  map[*Conn]bool
	groups map[string]map[*Conn]bool

	upgrader websocket.Upgrader
	config   Config
}

// NewHub creates an empty hub.
func NewHub(config Config) *Hub {
	return &Hub{
		conns:  make(map[*Conn]bool),
		groups: make(map[string]map[*Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// Endpoint returns the HTTP handler that upgrades requests into hub
// connections served by the given namespace handler.
func (h *Hub) Endpoint(handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("failed to upgrade websocket connection")
			return
		}

		c := &Conn{
			ID:          uuid.New().String(),
			ws:          ws,
			send:        make(chan []byte, 256),
			done:        make(chan struct{}),
			hub:         h,
			handler:     handler,
			connectedAt: time.Now(),
			lastPing:    time.Now(),
		}

		h.mu.Lock()
		h.conns[c] = true
		h.mu.Unlock()

		go c.writePump()
		go c.readPump()

		log.Info().Str("conn_id", c.ID).Msg("connection established")
		handler.HandleConnect(c)
	}
}

// unregister removes a connection from the hub and all groups. Only
// the read pump calls it, after its loop has exited, so the disconnect
// hook is serialized with message handling and fires exactly once; the
// registration check keeps it idempotent regardless.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if !h.conns[c] {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)
	for name, group := range h.groups {
		if group[c] {
			delete(group, c)
			if len(group) == 0 {
				delete(h.groups, name)
			}
		}
	}
	close(c.done)
	h.mu.Unlock()

	log.Info().Str("conn_id", c.ID).Msg("connection closed")
	c.handler.HandleDisconnect(c)
}

// Join adds a connection to a room-scoped broadcast group.
func (h *Hub) Join(group string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.groups[group] == nil {
		h.groups[group] = make(map[*Conn]bool)
	}
	h.groups[group][c] = true
}

// Leave removes a connection from a broadcast group.
func (h *Hub) Leave(group string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if g := h.groups[group]; g != nil {
		delete(g, c)
		if len(g) == 0 {
			delete(h.groups, group)
		}
	}
}

// ToRoom sends an event to every connection in a room group. The
// payload is marshalled once; connections with a full send buffer are
// dropped and closed, matching the slow-consumer policy of the
// broadcast path.
func (h *Hub) ToRoom(room, event string, data any) {
	h.mu.RLock()
	group := h.groups[room]
	targets := make([]*Conn, 0, len(group))
	for c := range group {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.deliver(targets, event, data)
}

// BroadcastAll sends an event to every connection on the namespace.
// Lobby updates use this: every lobby-affecting event fans out the
// full snapshot to all lobby clients.
func (h *Hub) BroadcastAll(event string, data any) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.deliver(targets, event, data)
}

func (h *Hub) deliver(targets []*Conn, event string, data any) {
	if len(targets) == 0 {
		return
	}
	msg, err := protocol.Marshal(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal broadcast")
		return
	}
	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
			log.Warn().
				Str("conn_id", c.ID).
				Str("event", event).
				Msg("send buffer full, closing connection")
			c.ws.Close()
		}
	}
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
