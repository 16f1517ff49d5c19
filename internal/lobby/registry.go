package lobby

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pongclash/server/internal/keyclash"
	"github.com/pongclash/server/internal/pong"
	"github.com/pongclash/server/internal/protocol"
)

// Registry errors surfaced through join acknowledgments.
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is not accepting players")
)

// Player is one lobby-present connection, distinct from players seated
// in a room.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PongSummary is the lobby view of one pong room.
type PongSummary struct {
	ID      string      `json:"id"`
	Status  pong.Status `json:"status"`
	Players []pong.Seat `json:"players"`
}

// KeyClashSummary is the lobby view of one key clash room.
type KeyClashSummary struct {
	ID      string          `json:"id"`
	Status  keyclash.Status `json:"status"`
	Players map[string]int  `json:"players"`
	P1      string          `json:"p1"`
	P2      string          `json:"p2"`
}

// Snapshot is the aggregate lobby state. It is a pure projection of
// the registry, recomputed on demand and never stored.
type Snapshot struct {
	Players       []Player          `json:"players"`
	PongGames     []PongSummary     `json:"pongGames"`
	KeyClashGames []KeyClashSummary `json:"keyClashGames"`
}

const roomIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// roomIDLength matches the short ids the clients display and type in.
const roomIDLength = 4

// Registry owns every live room of both kinds plus the lobby presence
// list. It is injected into the components that need it; there is no
// ambient global state. All mutation happens under one lock, so a
// snapshot never observes a half-applied change.
type Registry struct {
	mu sync.RWMutex

	rng           *rand.Rand
	pongRooms     []*pong.Game
	keyClashRooms []*keyclash.Game
	players       []Player
}

// NewRegistry creates an empty registry.
func NewRegistry(rng *rand.Rand) *Registry {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Registry{rng: rng}
}

// AddPlayer records lobby presence for a connection.
func (r *Registry) AddPlayer(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players = append(r.players, Player{ID: id, Name: name})
}

// RemovePlayer drops a connection from the lobby presence list. It is
// called both when a player enters a room and when they disconnect.
func (r *Registry) RemovePlayer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.players {
		if p.ID == id {
			r.players = append(r.players[:i], r.players[i+1:]...)
			return
		}
	}
}

// CreatePong allocates a fresh room id and stores the room built for
// it. Both happen under one lock so concurrent creations cannot race
// the uniqueness check.
func (r *Registry) CreatePong(build func(id string) *pong.Game) *pong.Game {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newRoomIDLocked()
	g := build(id)
	r.pongRooms = append(r.pongRooms, g)

	log.Info().Str("room_id", id).Str("mode", string(g.Mode())).Msg("pong room created")
	return g
}

// CreateKeyClash allocates a fresh room id and stores the room built
// for it.
func (r *Registry) CreateKeyClash(build func(id string) *keyclash.Game) *keyclash.Game {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newRoomIDLocked()
	g := build(id)
	r.keyClashRooms = append(r.keyClashRooms, g)

	log.Info().Str("room_id", id).Str("mode", string(g.Mode())).Msg("key clash room created")
	return g
}

// newRoomIDLocked generates a short room id, retrying until it does not
// collide with any live room of either kind.
func (r *Registry) newRoomIDLocked() string {
	for {
		b := make([]byte, roomIDLength)
		for i := range b {
			b[i] = roomIDAlphabet[r.rng.Intn(len(roomIDAlphabet))]
		}
		id := string(b)
		if !r.idTakenLocked(id) {
			return id
		}
	}
}

func (r *Registry) idTakenLocked(id string) bool {
	for _, g := range r.pongRooms {
		if g.ID() == id {
			return true
		}
	}
	for _, g := range r.keyClashRooms {
		if g.ID() == id {
			return true
		}
	}
	return false
}

// FindPong looks up a live pong room by id.
func (r *Registry) FindPong(id string) (*pong.Game, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.pongRooms {
		if g.ID() == id {
			return g, true
		}
	}
	return nil, false
}

// FindKeyClash looks up a live key clash room by id.
func (r *Registry) FindKeyClash(id string) (*keyclash.Game, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.keyClashRooms {
		if g.ID() == id {
			return g, true
		}
	}
	return nil, false
}

// RemovePong deletes a pong room from the registry.
func (r *Registry) RemovePong(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, g := range r.pongRooms {
		if g.ID() == id {
			r.pongRooms = append(r.pongRooms[:i], r.pongRooms[i+1:]...)
			log.Info().Str("room_id", id).Msg("pong room removed")
			return
		}
	}
}

// RemoveKeyClash deletes a key clash room from the registry.
func (r *Registry) RemoveKeyClash(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, g := range r.keyClashRooms {
		if g.ID() == id {
			r.keyClashRooms = append(r.keyClashRooms[:i], r.keyClashRooms[i+1:]...)
			log.Info().Str("room_id", id).Msg("key clash room removed")
			return
		}
	}
}

// CheckJoinable validates a lobby-channel join request: the room must
// exist and still be waiting for players.
func (r *Registry) CheckJoinable(kind protocol.GameKind, id string) error {
	switch kind {
	case protocol.GamePong:
		g, ok := r.FindPong(id)
		if !ok {
			return ErrRoomNotFound
		}
		if g.Status() != pong.StatusWaiting {
			return ErrRoomFull
		}
	default:
		g, ok := r.FindKeyClash(id)
		if !ok {
			return ErrRoomNotFound
		}
		if g.Status() != keyclash.StatusWaiting {
			return ErrRoomFull
		}
	}
	return nil
}

// Snapshot assembles the aggregate lobby state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Players:       make([]Player, len(r.players)),
		PongGames:     make([]PongSummary, 0, len(r.pongRooms)),
		KeyClashGames: make([]KeyClashSummary, 0, len(r.keyClashRooms)),
	}
	copy(snap.Players, r.players)

	for _, g := range r.pongRooms {
		snap.PongGames = append(snap.PongGames, PongSummary{
			ID:      g.ID(),
			Status:  g.Status(),
			Players: g.Seats(),
		})
	}
	for _, g := range r.keyClashRooms {
		s := g.Snapshot()
		snap.KeyClashGames = append(snap.KeyClashGames, KeyClashSummary{
			ID:      s.ID,
			Status:  s.Status,
			Players: s.Players,
			P1:      s.Player1.Name,
			P2:      s.Player2.Name,
		})
	}
	return snap
}

// StopAll cancels every live room loop. Used on shutdown; live rooms
// are never persisted.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.pongRooms {
		g.Stop()
	}
	for _, g := range r.keyClashRooms {
		g.Stop()
	}
}
