package transport

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/pongclash/server/internal/lobby"
	"github.com/pongclash/server/internal/pong"
	"github.com/pongclash/server/internal/protocol"
)

// PongHandler is the pong namespace. Rooms are resolved through the
// registry on every event rather than captured in closures, so a
// message can never act on an evicted room's stale handle.
type PongHandler struct {
	hub         *Hub
	registry    *lobby.Registry
	lobbyUpdate func()
}

// NewPongHandler wires the pong namespace.
func NewPongHandler(hub *Hub, registry *lobby.Registry, lobbyUpdate func()) *PongHandler {
	return &PongHandler{hub: hub, registry: registry, lobbyUpdate: lobbyUpdate}
}

func (h *PongHandler) HandleConnect(c *Conn) {
	log.Info().Str("conn_id", c.ID).Msg("client joined pong namespace")
}

func (h *PongHandler) HandleMessage(c *Conn, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoinGameRoom:
		h.handleJoin(c, env)
	case protocol.EventMove:
		h.handleMove(c, env.Data)
	case protocol.EventPause:
		if g, ok := h.room(c); ok {
			g.TogglePause()
		}
	case protocol.EventRestart:
		if g, ok := h.room(c); ok {
			g.TryStart()
		}
	default:
		log.Debug().Str("event", env.Event).Msg("unknown pong event")
	}
}

// room resolves the connection's bound room from the registry.
func (h *PongHandler) room(c *Conn) (*pong.Game, bool) {
	if c.RoomID == "" {
		return nil, false
	}
	return h.registry.FindPong(c.RoomID)
}

func (h *PongHandler) handleJoin(c *Conn, env protocol.Envelope) {
	var p protocol.PongJoinPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return
	}

	g, ok := h.registry.FindPong(p.RoomID)
	if !ok {
		c.Ack(env.Ack, "Can't find the game room!")
		return
	}

	side, err := g.Join(c.ID, p.Name, p.Player2)
	if err != nil {
		c.Ack(env.Ack, "The game is full!")
		return
	}

	c.RoomID = p.RoomID
	c.Side = string(side)
	h.hub.Join(p.RoomID, c)
	c.Ack(env.Ack, "")

	// In local mode one connection drives both paddles; it gets no
	// fixed side of its own.
	var assigned any = string(side)
	if g.Mode() == pong.ModeLocal {
		assigned = nil
	}
	c.Emit(protocol.EventPlayerSide, assigned)

	h.hub.ToRoom(p.RoomID, protocol.EventStateUpdate, struct {
		State pong.Snapshot `json:"state"`
	}{g.Snapshot()})
	h.lobbyUpdate()

	g.TryStart()
}

func (h *PongHandler) handleMove(c *Conn, data json.RawMessage) {
	var p protocol.MovePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if g, ok := h.room(c); ok {
		g.SetPaddleZ(pong.Side(p.Side), p.Z)
	}
}

func (h *PongHandler) HandleDisconnect(c *Conn) {
	if c.RoomID == "" {
		return
	}
	g, ok := h.registry.FindPong(c.RoomID)
	if !ok {
		return
	}

	remove := g.Disconnect(c.ID)
	h.lobbyUpdate()

	if remove {
		g.Stop()
		h.registry.RemovePong(c.RoomID)
		h.lobbyUpdate()
	}
}
