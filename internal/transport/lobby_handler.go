package transport

import (
	"encoding/json"
	"math/rand"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pongclash/server/internal/events"
	"github.com/pongclash/server/internal/keyclash"
	"github.com/pongclash/server/internal/lobby"
	"github.com/pongclash/server/internal/pong"
	"github.com/pongclash/server/internal/protocol"
)

// LobbyHandler is the lobby namespace: presence registration, room
// creation and join negotiation. Every lobby-affecting event pushes a
// fresh snapshot to all lobby clients.
type LobbyHandler struct {
	hub      *Hub
	registry *lobby.Registry

	// Engine collaborators handed to rooms created from the lobby.
	pongHub     *Hub
	keyClashHub *Hub
	clock       clockwork.Clock
	events      events.Publisher
	rng         *rand.Rand
	pongTuning  *pong.Tuning
	clashTuning *keyclash.Tuning
}

// NewLobbyHandler wires the lobby namespace.
func NewLobbyHandler(hub, pongHub, keyClashHub *Hub, registry *lobby.Registry, clock clockwork.Clock, publisher events.Publisher, rng *rand.Rand, pongTuning *pong.Tuning, clashTuning *keyclash.Tuning) *LobbyHandler {
	return &LobbyHandler{
		hub:         hub,
		registry:    registry,
		pongHub:     pongHub,
		keyClashHub: keyClashHub,
		clock:       clock,
		events:      publisher,
		rng:         rng,
		pongTuning:  pongTuning,
		clashTuning: clashTuning,
	}
}

// BroadcastLobby pushes the current snapshot to every lobby client.
// Room engines call this on status transitions too.
func (h *LobbyHandler) BroadcastLobby() {
	h.hub.BroadcastAll(protocol.EventLobbyUpdate, h.registry.Snapshot())
}

func (h *LobbyHandler) HandleConnect(c *Conn) {
	log.Info().Str("conn_id", c.ID).Msg("player connected to lobby")
}

func (h *LobbyHandler) HandleMessage(c *Conn, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventName:
		h.handleName(c, env.Data)
	case protocol.EventCreateGame:
		h.handleCreateGame(c, env.Data)
	case protocol.EventJoinGame:
		h.handleJoinGame(c, env)
	default:
		log.Debug().Str("event", env.Event).Msg("unknown lobby event")
	}
}

func (h *LobbyHandler) handleName(c *Conn, data json.RawMessage) {
	var p protocol.NamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if p.Name != nil && *p.Name != "" {
		c.Name = *p.Name
	} else {
		c.Name = "Guest-" + c.ID[:3]
	}

	h.registry.AddPlayer(c.ID, c.Name)
	h.BroadcastLobby()
}

func (h *LobbyHandler) handleCreateGame(c *Conn, data json.RawMessage) {
	var p protocol.CreateGamePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	var id string
	if p.Game == protocol.GamePong {
		g := h.registry.CreatePong(func(roomID string) *pong.Game {
			return pong.NewGame(roomID, pong.Mode(p.Mode), pong.Deps{
				Clock:       h.clock,
				Broadcast:   h.pongHub,
				NotifyLobby: h.BroadcastLobby,
				Events:      h.events,
				Rand:        h.rng,
				Tuning:      h.pongTuning,
			})
		})
		id = g.ID()
	} else {
		g := h.registry.CreateKeyClash(func(roomID string) *keyclash.Game {
			return keyclash.NewGame(roomID, keyclash.Mode(p.Mode), keyclash.Deps{
				Clock:       h.clock,
				Broadcast:   h.keyClashHub,
				NotifyLobby: h.BroadcastLobby,
				Events:      h.events,
				Rand:        h.rng,
				Tuning:      h.clashTuning,
			})
		})
		id = g.ID()
	}

	c.Emit(protocol.EventCreatedGame, protocol.GameRef{ID: id, Game: p.Game, Mode: p.Mode})
}

func (h *LobbyHandler) handleJoinGame(c *Conn, env protocol.Envelope) {
	var p protocol.GameRef
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return
	}

	if err := h.registry.CheckJoinable(p.Game, p.ID); err != nil {
		switch err {
		case lobby.ErrRoomNotFound:
			c.Ack(env.Ack, "Game not found")
		default:
			c.Ack(env.Ack, "Game already started")
		}
		return
	}

	// Joining a room removes the player from the lobby presence list.
	h.registry.RemovePlayer(c.ID)
	h.BroadcastLobby()

	c.Ack(env.Ack, "")
	c.Emit(protocol.EventJoinedGame, p)
}

func (h *LobbyHandler) HandleDisconnect(c *Conn) {
	log.Info().Str("conn_id", c.ID).Msg("player disconnected from lobby")
	h.registry.RemovePlayer(c.ID)
	h.BroadcastLobby()
}
