package keyclash

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/pongclash/server/internal/events"
	"github.com/pongclash/server/internal/protocol"
)

// Mode selects how many connections control a room.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Status is the room state machine. A finished room cycles back to
// starting when players re-ready.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusStarting   Status = "starting"
	StatusInProgress Status = "in-progress"
	StatusFinished   Status = "finished"
)

// ErrGameStarted is returned when a join arrives after the room left
// the waiting state.
var ErrGameStarted = errors.New("game already started")

// localPlayer2 is the synthetic connection key representing the second
// local player, who has no connection of their own.
const localPlayer2 = "player2"

// Key sets. Player 1 answers on WASD, player 2 on arrows. The indices
// line up so each key has a directional analog in the other set.
var (
	wasdKeys  = []string{"w", "s", "a", "d"}
	arrowKeys = []string{"ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight"}
)

// Tuning holds the match constants.
type Tuning struct {
	MatchSeconds int `yaml:"match_seconds"`
}

// DefaultTuning returns the stock match constants.
func DefaultTuning() Tuning {
	return Tuning{MatchSeconds: 20}
}

// PlayerState is the per-player slice of the public snapshot.
type PlayerState struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
	Ready bool   `json:"ready"`
}

// Snapshot is the public room state broadcast to every bound
// connection.
type Snapshot struct {
	ID       string         `json:"id"`
	Player1  PlayerState    `json:"player1"`
	Player2  PlayerState    `json:"player2"`
	Prompts  [2]string      `json:"prompts"`
	TimeLeft int            `json:"timeLeft"`
	Players  map[string]int `json:"players"`
	Status   Status         `json:"status"`
	Mode     Mode           `json:"mode"`
}

// Broadcaster delivers an event to every connection bound to a room.
type Broadcaster interface {
	ToRoom(roomID, event string, data any)
}

type nopBroadcaster struct{}

func (nopBroadcaster) ToRoom(string, string, any) {}

// Deps are the collaborators a game needs. Zero-value fields get safe
// defaults.
type Deps struct {
	Clock       clockwork.Clock
	Broadcast   Broadcaster
	NotifyLobby func()
	Events      events.Publisher
	Rand        *rand.Rand
	Tuning      *Tuning
}

// Game is one key clash room. All state mutation is serialized by mu.
type Game struct {
	mu sync.Mutex

	id   string
	mode Mode
	tun  Tuning

	clock       clockwork.Clock
	rng         *rand.Rand
	broadcast   Broadcaster
	notifyLobby func()
	events      events.Publisher

	status   Status
	score1   int
	score2   int
	prompts  [2]string
	timeLeft int
	// players maps connection id to slot (1 or 2). Local mode seats
	// the synthetic "player2" key for the second local player.
	players map[string]int
	p1Name  string
	p2Name  string

	player1Ready bool
	player2Ready bool

	// stop is the handle of the active countdown; nil when idle.
	stop chan struct{}
}

// NewGame creates a waiting room.
func NewGame(id string, mode Mode, deps Deps) *Game {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Broadcast == nil {
		deps.Broadcast = nopBroadcaster{}
	}
	if deps.NotifyLobby == nil {
		deps.NotifyLobby = func() {}
	}
	if deps.Events == nil {
		deps.Events = events.NoopPublisher{}
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(deps.Clock.Now().UnixNano()))
	}
	tun := DefaultTuning()
	if deps.Tuning != nil {
		tun = *deps.Tuning
	}

	return &Game{
		id:          id,
		mode:        mode,
		tun:         tun,
		clock:       deps.Clock,
		rng:         deps.Rand,
		broadcast:   deps.Broadcast,
		notifyLobby: deps.NotifyLobby,
		events:      deps.Events,
		status:      StatusWaiting,
		prompts:     [2]string{"-", "-"},
		timeLeft:    tun.MatchSeconds,
		players:     make(map[string]int),
	}
}

func (g *Game) ID() string { return g.id }

func (g *Game) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

// Status returns the current room status.
func (g *Game) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Scores returns both scores.
func (g *Game) Scores() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.score1, g.score2
}

// Prompts returns the current prompt pair.
func (g *Game) Prompts() [2]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts
}

// Ready reports both ready flags.
func (g *Game) Ready() (bool, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.player1Ready, g.player2Ready
}

// Names returns the seated player names.
func (g *Game) Names() (string, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.p1Name, g.p2Name
}

// Snapshot returns the public room state.
func (g *Game) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Game) snapshotLocked() Snapshot {
	players := make(map[string]int, len(g.players))
	for id, slot := range g.players {
		players[id] = slot
	}
	return Snapshot{
		ID:       g.id,
		Player1:  PlayerState{Name: g.p1Name, Score: g.score1, Ready: g.player1Ready},
		Player2:  PlayerState{Name: g.p2Name, Score: g.score2, Ready: g.player2Ready},
		Prompts:  g.prompts,
		TimeLeft: g.timeLeft,
		Players:  players,
		Status:   g.status,
		Mode:     g.mode,
	}
}

// Join seats a connection in the next free slot; slot 1 if unfilled,
// else slot 2. The mode reported by the client overrides the room mode,
// and local mode seats the synthetic second player. Returns the slot
// number and whether the room is still waiting for an opponent. The
// session layer broadcasts the resulting state once the connection has
// entered the room group.
func (g *Game) Join(connID string, mode Mode, name, player2 string) (int, bool, error) {
	g.mu.Lock()

	if g.status != StatusWaiting {
		g.mu.Unlock()
		return 0, false, ErrGameStarted
	}
	g.mode = mode

	slot := 2
	if !g.slotTakenLocked(1) {
		slot = 1
		g.p1Name = truncateName(name)
	} else {
		g.p2Name = truncateName(name)
	}
	g.players[connID] = slot

	if mode == ModeLocal {
		g.p2Name = truncateName(player2)
		g.players[localPlayer2] = 2
	}

	waiting := len(g.players) < 2
	if waiting {
		g.status = StatusWaiting
	} else {
		g.status = StatusStarting
	}
	g.mu.Unlock()

	log.Info().
		Str("room_id", g.id).
		Str("conn_id", connID).
		Int("slot", slot).
		Msg("player joined key clash room")

	return slot, waiting, nil
}

func (g *Game) slotTakenLocked(slot int) bool {
	for _, s := range g.players {
		if s == slot {
			return true
		}
	}
	return false
}

func truncateName(name string) string {
	if len(name) > 10 {
		return name[:10]
	}
	return name
}

// SetReady marks the caller's slot ready. In remote mode the match
// (re)starts only once both flags are up with two players seated; in
// local mode a single ready signal starts immediately. Called on a
// finished room it first cycles the status back to starting.
func (g *Game) SetReady(connID string) {
	g.mu.Lock()

	if g.status == StatusInProgress || len(g.players) < 2 {
		g.mu.Unlock()
		return
	}
	if g.mode == ModeLocal {
		g.mu.Unlock()
		g.Start()
		return
	}
	notify := false
	if g.status == StatusFinished {
		g.status = StatusStarting
		notify = true
	}
	if g.players[connID] == 1 {
		g.player1Ready = true
	} else if g.players[connID] == 2 {
		g.player2Ready = true
	}
	start := len(g.players) == 2 && g.player1Ready && g.player2Ready
	snap := g.snapshotLocked()
	g.mu.Unlock()

	if notify {
		g.notifyLobby()
	}
	g.broadcast.ToRoom(g.id, protocol.EventGameState, snap)
	if start {
		g.Start()
	}
}

// Start transitions into in-progress: scores zeroed, fresh prompts from
// the two disjoint key sets, countdown restarted. No-op while a match
// is already running.
func (g *Game) Start() {
	g.mu.Lock()
	if g.status == StatusInProgress {
		g.mu.Unlock()
		return
	}

	g.status = StatusInProgress
	g.score1 = 0
	g.score2 = 0
	g.timeLeft = g.tun.MatchSeconds
	g.prompts = [2]string{g.randomKey(wasdKeys), g.randomKey(arrowKeys)}
	snap := g.snapshotLocked()
	g.startCountdownLocked()
	g.mu.Unlock()

	g.notifyLobby()
	g.broadcast.ToRoom(g.id, protocol.EventGameStart, snap)
}

func (g *Game) randomKey(keys []string) string {
	return keys[g.rng.Intn(len(keys))]
}

func (g *Game) startCountdownLocked() {
	if g.stop != nil {
		return
	}
	stop := make(chan struct{})
	g.stop = stop
	ticker := g.clock.NewTicker(time.Second)
	go g.runCountdown(stop, ticker)
}

func (g *Game) stopCountdownLocked() {
	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
}

func (g *Game) runCountdown(stop chan struct{}, ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if !g.Tick() {
				return
			}
		}
	}
}

// Tick decrements the countdown by one second. At zero the match
// finishes: ready flags clear, the countdown stops and the result goes
// out. Returns false once the match is over.
func (g *Game) Tick() bool {
	g.mu.Lock()
	if g.status != StatusInProgress {
		g.mu.Unlock()
		return false
	}

	g.timeLeft--
	if g.timeLeft <= 0 {
		g.stop = nil
		g.status = StatusFinished
		g.player1Ready = false
		g.player2Ready = false
		snap := g.snapshotLocked()
		result := g.matchResultLocked()
		g.mu.Unlock()

		g.notifyLobby()
		g.broadcast.ToRoom(g.id, protocol.EventGameOver, snap)
		if err := g.events.PublishMatchCompleted(context.Background(), result); err != nil {
			log.Error().Err(err).Str("room_id", g.id).Msg("failed to publish match result")
		}
		return false
	}

	snap := g.snapshotLocked()
	g.mu.Unlock()
	g.broadcast.ToRoom(g.id, protocol.EventGameState, snap)
	return true
}

func (g *Game) matchResultLocked() events.MatchCompleted {
	winner := ""
	if g.score1 > g.score2 {
		winner = g.p1Name
	} else if g.score2 > g.score1 {
		winner = g.p2Name
	}
	return events.MatchCompleted{
		Kind:       string(protocol.GameKeyClash),
		RoomID:     g.id,
		Mode:       string(g.mode),
		Player1:    g.p1Name,
		Player2:    g.p2Name,
		Score1:     g.score1,
		Score2:     g.score2,
		Winner:     winner,
		FinishedAt: g.clock.Now(),
	}
}

// Keypress scores one key press for the connection's slot.
//
// Remote mode matches the key against the caller's own prompt, also
// accepting the directional analog from the other key set. Local mode
// classifies the key by which set it belongs to, regardless of who is
// assigned that slot. A correct hit increments and re-rolls only that
// player's prompt; any other key from the game sets decrements (scores
// may go negative); unrelated keys are ignored.
func (g *Game) Keypress(connID, key string) {
	g.mu.Lock()

	if g.timeLeft <= 0 || g.status != StatusInProgress {
		g.mu.Unlock()
		return
	}

	hit := 0
	if g.mode == ModeRemote {
		switch g.players[connID] {
		case 1:
			if key == g.prompts[0] || key == analog(g.prompts[0], wasdKeys, arrowKeys) {
				g.score1++
				g.prompts[0] = g.randomKey(wasdKeys)
				hit = 1
			} else {
				g.score1--
			}
		case 2:
			if key == g.prompts[1] || key == analog(g.prompts[1], arrowKeys, wasdKeys) {
				g.score2++
				g.prompts[1] = g.randomKey(arrowKeys)
				hit = 2
			} else {
				g.score2--
			}
		default:
			g.mu.Unlock()
			return
		}
	} else {
		switch {
		case contains(wasdKeys, key):
			if key == g.prompts[0] {
				g.score1++
				g.prompts[0] = g.randomKey(wasdKeys)
				hit = 1
			} else {
				g.score1--
			}
		case contains(arrowKeys, key):
			if key == g.prompts[1] {
				g.score2++
				g.prompts[1] = g.randomKey(arrowKeys)
				hit = 2
			} else {
				g.score2--
			}
		default:
			g.mu.Unlock()
			return
		}
	}
	snap := g.snapshotLocked()
	g.mu.Unlock()

	if hit != 0 {
		g.broadcast.ToRoom(g.id, protocol.EventCorrectHit, protocol.CorrectHitPayload{Player: hit})
	}
	g.broadcast.ToRoom(g.id, protocol.EventGameState, snap)
}

// analog returns the directionally corresponding key from the other
// key set, or "" when the prompt is not a member of its set.
func analog(prompt string, own, other []string) string {
	for i, k := range own {
		if k == prompt {
			return other[i]
		}
	}
	return ""
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// Disconnect unbinds a connection. Dropping below two players stops the
// countdown, forces waiting and clears both ready flags. Returns true
// when the room should be removed from the registry: no players left,
// or local mode.
func (g *Game) Disconnect(connID string) (remove bool) {
	g.mu.Lock()

	if slot, ok := g.players[connID]; ok {
		if slot == 1 {
			g.p1Name = ""
		} else {
			g.p2Name = ""
		}
		delete(g.players, connID)
	}

	belowQuorum := len(g.players) < 2
	if belowQuorum {
		g.stopCountdownLocked()
		g.status = StatusWaiting
		g.player1Ready = false
		g.player2Ready = false
	}
	remove = len(g.players) == 0 || g.mode == ModeLocal
	g.mu.Unlock()

	if belowQuorum {
		g.broadcast.ToRoom(g.id, protocol.EventWaiting, struct{}{})
	}
	return remove
}

// Stop cancels any running countdown, for shutdown paths.
func (g *Game) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopCountdownLocked()
}
