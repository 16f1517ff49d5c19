package transport

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/pongclash/server/internal/keyclash"
	"github.com/pongclash/server/internal/lobby"
	"github.com/pongclash/server/internal/protocol"
)

// KeyClashHandler is the key clash namespace. Like the pong namespace,
// rooms are resolved by id through the registry on every event.
type KeyClashHandler struct {
	hub         *Hub
	registry    *lobby.Registry
	lobbyUpdate func()
}

// NewKeyClashHandler wires the key clash namespace.
func NewKeyClashHandler(hub *Hub, registry *lobby.Registry, lobbyUpdate func()) *KeyClashHandler {
	return &KeyClashHandler{hub: hub, registry: registry, lobbyUpdate: lobbyUpdate}
}

func (h *KeyClashHandler) HandleConnect(c *Conn) {
	log.Info().Str("conn_id", c.ID).Msg("client joined key clash namespace")
}

func (h *KeyClashHandler) HandleMessage(c *Conn, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoinGameRoom:
		h.handleJoin(c, env)
	case protocol.EventSetReady:
		if g, ok := h.room(c); ok {
			g.SetReady(c.ID)
		}
	case protocol.EventKeypress:
		h.handleKeypress(c, env.Data)
	default:
		log.Debug().Str("event", env.Event).Msg("unknown key clash event")
	}
}

func (h *KeyClashHandler) room(c *Conn) (*keyclash.Game, bool) {
	if c.RoomID == "" {
		return nil, false
	}
	return h.registry.FindKeyClash(c.RoomID)
}

func (h *KeyClashHandler) handleJoin(c *Conn, env protocol.Envelope) {
	var p protocol.KeyClashJoinPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return
	}

	g, ok := h.registry.FindKeyClash(p.RoomID)
	if !ok {
		c.Ack(env.Ack, "Can't find the key clash game room!")
		return
	}

	slot, waiting, err := g.Join(c.ID, keyclash.Mode(p.Mode), p.Name, p.Player2)
	if err != nil {
		c.Ack(env.Ack, "The game is full!")
		return
	}

	c.RoomID = p.RoomID
	c.Slot = slot
	h.hub.Join(p.RoomID, c)
	c.Ack(env.Ack, "")

	if waiting {
		c.Emit(protocol.EventWaiting, struct{}{})
	}

	h.lobbyUpdate()
	h.hub.ToRoom(p.RoomID, protocol.EventGameState, g.Snapshot())
}

func (h *KeyClashHandler) handleKeypress(c *Conn, data json.RawMessage) {
	var p protocol.KeypressPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if g, ok := h.room(c); ok {
		g.Keypress(c.ID, p.Key)
	}
}

func (h *KeyClashHandler) HandleDisconnect(c *Conn) {
	if c.RoomID == "" {
		return
	}
	g, ok := h.registry.FindKeyClash(c.RoomID)
	if !ok {
		return
	}

	remove := g.Disconnect(c.ID)
	h.lobbyUpdate()

	if remove {
		g.Stop()
		h.registry.RemoveKeyClash(c.RoomID)
		h.lobbyUpdate()
	}
}
