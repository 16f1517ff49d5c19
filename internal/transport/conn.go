package transport

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pongclash/server/internal/protocol"
)

// Conn is one client connection on a namespace. Session-local metadata
// (display name, the room it is bound to, its slot) lives here; a
// connection is bound to at most one room at a time. The session
// fields are only touched from the read goroutine, which also runs the
// disconnect hook, so they need no locking.
type Conn struct {
	ID   string
	Name string

	// Room binding, empty/zero until join_game_room succeeds.
	RoomID string
	Side   string // pong: "left" or "right"
	Slot   int    // key clash: 1 or 2

	ws      *websocket.Conn
	send    chan []byte
	done    chan struct{}
	hub     *Hub
	handler Handler

	connectedAt time.Time
	lastPing    time.Time
}

// Emit queues an event for this connection. Slow or dead connections
// are detected in the hub broadcast path; here a full buffer just
// drops the message.
func (c *Conn) Emit(event string, data any) {
	msg, err := protocol.Marshal(event, data)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to marshal event")
		return
	}
	select {
	case c.send <- msg:
	default:
		log.Warn().
			Str("conn_id", c.ID).
			Str("event", event).
			Msg("send buffer full, dropping message")
	}
}

// Ack answers a request that carried an ack id. An empty errMsg means
// success; the error field is the sole failure signal.
func (c *Conn) Ack(ack uint64, errMsg string) {
	if ack == 0 {
		return
	}
	msg, err := protocol.MarshalAck(ack, protocol.AckError{Error: errMsg})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal ack")
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// writePump drains the send channel to the socket and keeps the
// connection alive with pings. On a write failure it only closes the
// socket; unregistering is the read pump's job, so the disconnect hook
// never runs concurrently with an in-flight HandleMessage.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.lastPing = time.Now()
		}
	}
}

// readPump decodes inbound envelopes and hands them to the namespace
// handler. Events from the same connection are processed in arrival
// order because this loop is the only reader.
func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.hub.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		c.lastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("unexpected close")
			}
			break
		}

		var env protocol.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			// Malformed input is a no-op, never a crash.
			log.Debug().Err(err).Str("conn_id", c.ID).Msg("dropping malformed envelope")
			continue
		}
		c.handler.HandleMessage(c, env)
		c.ws.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
