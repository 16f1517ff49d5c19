package pong

import (
	"context"
	"errors"
	"fmt"
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
	ModeLocal  Mode = "local" // one connection drives both paddles
	ModeRemote Mode = "remote"
)

// Status is the room state machine. Paused is reachable only from
// in-progress and resumes back into it.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in-progress"
	StatusPaused     Status = "paused"
	StatusFinished   Status = "finished"
)

// Side is a paddle slot.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Ball color tags, mirrored by the renderer.
const (
	ColorNeutral = 0xffffff
	ColorLeft    = 0xff6b6b
	ColorRight   = 0x6b8cff
)

const (
	hitterNone  = 0
	hitterLeft  = 1
	hitterRight = 2
)

// Join rejections. A room is full at two seats even while it is still
// waiting, since the second seat only flips the status once the session
// layer runs the start gating.
var (
	ErrGameStarted = errors.New("game already started")
	ErrGameFull    = errors.New("game is full")
)

// Ball is the authoritative ball state.
type Ball struct {
	X     float64 `json:"x"`
	Z     float64 `json:"z"`
	VX    float64 `json:"vx"`
	VZ    float64 `json:"vz"`
	Color uint32  `json:"color"`
}

// Paddle position. X is fixed per side; Z is client-reported.
type Paddle struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Seat binds a connection to a side. ConnID is empty for the second
// local player.
type Seat struct {
	ConnID string `json:"id"`
	Name   string `json:"name"`
	Side   Side   `json:"side"`
}

// Tuning holds the physics and match constants. A YAML tuning file may
// override the defaults.
type Tuning struct {
	BoundX          float64       `yaml:"bound_x"`
	BoundZ          float64       `yaml:"bound_z"`
	PaddleX         float64       `yaml:"paddle_x"`
	PaddleReachX    float64       `yaml:"paddle_reach_x"`
	PaddleReachZ    float64       `yaml:"paddle_reach_z"`
	ServeSpeedX     float64       `yaml:"serve_speed_x"`
	ServeDriftZ     float64       `yaml:"serve_drift_z"`
	SpeedMultiplier float64       `yaml:"speed_multiplier"`
	SpinFactor      float64       `yaml:"spin_factor"`
	MaxScore        int           `yaml:"max_score"`
	MatchDuration   time.Duration `yaml:"match_duration"`
	TickRate        int           `yaml:"tick_rate"`
	MaxStep         time.Duration `yaml:"max_step"`
}

// DefaultTuning returns the stock table and match constants.
func DefaultTuning() Tuning {
	return Tuning{
		BoundX:          9.6,
		BoundZ:          5.6,
		PaddleX:         8.2,
		PaddleReachX:    1.5,
		PaddleReachZ:    2.0,
		ServeSpeedX:     6.0,
		ServeDriftZ:     2.0,
		SpeedMultiplier: 1.05,
		SpinFactor:      2.0,
		MaxScore:        3,
		MatchDuration:   120 * time.Second,
		TickRate:        60,
		MaxStep:         33 * time.Millisecond,
	}
}

// Snapshot is the full authoritative state broadcast on every tick.
// There is no delta encoding.
type Snapshot struct {
	Ball         Ball    `json:"ball"`
	LeftPaddle   Paddle  `json:"leftPaddle"`
	RightPaddle  Paddle  `json:"rightPaddle"`
	Status       Status  `json:"status"`
	TimerDisplay string  `json:"timerDisplay"`
	ScoreDisplay string  `json:"scoreDisplay"`
	Players      []Seat  `json:"players"`
	Mode         Mode    `json:"mode"`
	GameEndTime  int64   `json:"gameEndTime"` // unix ms
	WhenPaused   int64   `json:"whenPaused"`  // unix ms
}

type stateUpdate struct {
	State Snapshot `json:"state"`
	Start string   `json:"start,omitempty"`
}

// Broadcaster delivers an event to every connection bound to a room.
type Broadcaster interface {
	ToRoom(roomID, event string, data any)
}

type nopBroadcaster struct{}

func (nopBroadcaster) ToRoom(string, string, any) {}

// Deps are the collaborators a game needs. Zero-value fields get safe
// defaults so tests can construct games with only what they assert on.
type Deps struct {
	Clock       clockwork.Clock
	Broadcast   Broadcaster
	NotifyLobby func()
	Events      events.Publisher
	Rand        *rand.Rand
	Tuning      *Tuning
}

// Game is one pong room. All state mutation is serialized by mu to
// preserve run-to-completion semantics per event.
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

	status    Status
	ball      Ball
	left      Paddle
	right     Paddle
	seats     []Seat
	leftName  string
	rightName string

	leftScore  int
	rightScore int
	// hitter records which paddle last touched the ball. Scoring is
	// gated on it so an untouched serve never awards a point.
	hitter int

	timerDisplay string
	scoreDisplay string

	gameEnd    time.Time
	whenPaused time.Time
	last       time.Time

	// stop is the handle of the active tick loop; nil when no loop
	// runs. Checked before starting a loop to prevent double loops.
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

	now := deps.Clock.Now()
	return &Game{
		id:           id,
		mode:         mode,
		tun:          tun,
		clock:        deps.Clock,
		rng:          deps.Rand,
		broadcast:    deps.Broadcast,
		notifyLobby:  deps.NotifyLobby,
		events:       deps.Events,
		status:       StatusWaiting,
		ball:         Ball{X: 0, Z: 0, VX: tun.ServeSpeedX, VZ: 3.5, Color: ColorNeutral},
		left:         Paddle{X: -tun.PaddleX, Z: 0},
		right:        Paddle{X: tun.PaddleX, Z: 0},
		leftName:     "Player1",
		rightName:    "Player2",
		scoreDisplay: "waiting for opponent...",
		gameEnd:      now.Add(tun.MatchDuration),
		whenPaused:   now,
		last:         now,
	}
}

func (g *Game) ID() string { return g.id }

func (g *Game) Mode() Mode { return g.mode }

// Status returns the current room status.
func (g *Game) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Scores returns the left and right scores.
func (g *Game) Scores() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.leftScore, g.rightScore
}

// Seats returns a copy of the seat bindings.
func (g *Game) Seats() []Seat {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Seat, len(g.seats))
	copy(out, g.seats)
	return out
}

// Snapshot returns the full broadcast state.
func (g *Game) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Game) snapshotLocked() Snapshot {
	players := make([]Seat, len(g.seats))
	copy(players, g.seats)
	return Snapshot{
		Ball:         g.ball,
		LeftPaddle:   g.left,
		RightPaddle:  g.right,
		Status:       g.status,
		TimerDisplay: g.timerDisplay,
		ScoreDisplay: g.scoreDisplay,
		Players:      players,
		Mode:         g.mode,
		GameEndTime:  g.gameEnd.UnixMilli(),
		WhenPaused:   g.whenPaused.UnixMilli(),
	}
}

// Join seats a connection. In local mode the single connection also
// seats the second local player under an empty connection id. Returns
// the side assigned to the joining connection.
func (g *Game) Join(connID, name, player2 string) (Side, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != StatusWaiting {
		return "", ErrGameStarted
	}
	if len(g.seats) >= 2 {
		return "", ErrGameFull
	}

	side := SideLeft
	if len(g.seats) == 1 && g.seats[0].Side == SideLeft {
		side = SideRight
	}
	g.setSeatLocked(side, name, connID)

	if g.mode == ModeLocal {
		g.setSeatLocked(SideRight, player2, "")
	}

	log.Info().
		Str("room_id", g.id).
		Str("conn_id", connID).
		Str("side", string(side)).
		Int("seated", len(g.seats)).
		Msg("player joined pong room")

	return side, nil
}

func (g *Game) setSeatLocked(side Side, name, connID string) {
	name = truncateName(name)
	if name != "" {
		if side == SideLeft {
			g.leftName = name
		} else {
			g.rightName = name
		}
	}
	g.seats = append(g.seats, Seat{ConnID: connID, Name: name, Side: side})
}

func truncateName(name string) string {
	if len(name) > 10 {
		return name[:10]
	}
	return name
}

// TryStart transitions waiting -> in-progress once both seats are
// filled, resets the match and starts the 60 Hz loop. Safe to call
// again while running; the loop handle guard prevents double loops.
// Also serves the "restart" request after a finished match.
func (g *Game) TryStart() {
	g.mu.Lock()
	if len(g.seats) != 2 {
		g.mu.Unlock()
		return
	}
	g.status = StatusInProgress
	started := false
	var snap Snapshot
	if g.stop == nil {
		g.resetMatchLocked()
		snap = g.snapshotLocked()
		g.startLoopLocked()
		started = true
	}
	g.mu.Unlock()

	g.notifyLobby()
	if started {
		g.broadcast.ToRoom(g.id, protocol.EventStateUpdate, stateUpdate{State: snap, Start: "start"})
	}
}

// resetMatchLocked zeroes scores, re-centers everything and stamps a
// fresh match deadline.
func (g *Game) resetMatchLocked() {
	g.leftScore = 0
	g.rightScore = 0
	g.hitter = hitterNone
	g.updateScoreLocked()

	g.resetBallLocked()
	g.left.Z = 0
	g.right.Z = 0

	g.last = g.clock.Now()
	g.gameEnd = g.last.Add(g.tun.MatchDuration)
}

// resetBallLocked re-centers the ball with a randomized serve velocity:
// |vx| fixed, sign random; vz uniform in [-ServeDriftZ, ServeDriftZ].
func (g *Game) resetBallLocked() {
	g.ball.X = 0
	g.ball.Z = 0
	g.ball.VX = g.tun.ServeSpeedX
	if g.rng.Float64() < 0.5 {
		g.ball.VX = -g.tun.ServeSpeedX
	}
	g.ball.VZ = (g.rng.Float64()*2 - 1) * g.tun.ServeDriftZ
	g.ball.Color = ColorNeutral
}

func (g *Game) updateScoreLocked() {
	g.scoreDisplay = fmt.Sprintf("%s: %d  —  %s: %d", g.leftName, g.leftScore, g.rightName, g.rightScore)
}

func (g *Game) startLoopLocked() {
	if g.stop != nil {
		return
	}
	stop := make(chan struct{})
	g.stop = stop
	ticker := g.clock.NewTicker(time.Second / time.Duration(g.tun.TickRate))
	go g.runLoop(stop, ticker)
}

func (g *Game) stopLoopLocked() {
	if g.stop != nil {
		close(g.stop)
		g.stop = nil
	}
}

func (g *Game) runLoop(stop chan struct{}, ticker clockwork.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if !g.tick() {
				return
			}
		}
	}
}

// tick advances the simulation once and broadcasts the snapshot.
// Returns false when the match finished and the loop must exit.
func (g *Game) tick() bool {
	g.mu.Lock()
	g.step(g.clock.Now())
	snap := g.snapshotLocked()
	finished := g.status == StatusFinished
	var result events.MatchCompleted
	if finished {
		g.stop = nil
		result = g.matchResultLocked()
	}
	g.mu.Unlock()

	g.broadcast.ToRoom(g.id, protocol.EventStateUpdate, stateUpdate{State: snap})
	if finished {
		g.notifyLobby()
		if err := g.events.PublishMatchCompleted(context.Background(), result); err != nil {
			log.Error().Err(err).Str("room_id", g.id).Msg("failed to publish match result")
		}
	}
	return !finished
}

func (g *Game) matchResultLocked() events.MatchCompleted {
	winner := ""
	if g.leftScore > g.rightScore {
		winner = g.leftName
	} else if g.rightScore > g.leftScore {
		winner = g.rightName
	}
	return events.MatchCompleted{
		Kind:       string(protocol.GamePong),
		RoomID:     g.id,
		Mode:       string(g.mode),
		Player1:    g.leftName,
		Player2:    g.rightName,
		Score1:     g.leftScore,
		Score2:     g.rightScore,
		Winner:     winner,
		FinishedAt: g.clock.Now(),
	}
}

// step advances ball physics by one frame. dt is clamped to MaxStep so
// a stalled scheduler cannot tunnel the ball through a paddle.
func (g *Game) step(now time.Time) {
	if g.status != StatusInProgress {
		return
	}

	secondsLeft := int(g.gameEnd.Sub(now).Seconds())
	if secondsLeft < 0 {
		secondsLeft = 0
	}
	g.timerDisplay = fmt.Sprintf("%02d:%02d", secondsLeft/60, secondsLeft%60)

	if !now.Before(g.gameEnd) {
		g.status = StatusFinished
		switch {
		case g.leftScore > g.rightScore:
			g.scoreDisplay = fmt.Sprintf("%s Wins!", g.leftName)
		case g.rightScore > g.leftScore:
			g.scoreDisplay = fmt.Sprintf("%s Wins!", g.rightName)
		default:
			g.scoreDisplay = "It's a tie!"
		}
		return
	}

	dt := now.Sub(g.last).Seconds()
	if max := g.tun.MaxStep.Seconds(); dt > max {
		dt = max
	}
	g.last = now

	if g.leftScore >= g.tun.MaxScore || g.rightScore >= g.tun.MaxScore {
		winner := g.leftName
		if g.rightScore >= g.tun.MaxScore {
			winner = g.rightName
		}
		g.scoreDisplay = fmt.Sprintf("Game Over! %s Wins!", winner)
		g.status = StatusFinished
		return
	}

	g.ball.X += g.ball.VX * dt
	g.ball.Z += g.ball.VZ * dt

	// Bounce on table sides, clamping back inside the bound.
	if g.ball.Z > g.tun.BoundZ {
		g.ball.Z = g.tun.BoundZ
		g.ball.VZ = -g.ball.VZ
	} else if g.ball.Z < -g.tun.BoundZ {
		g.ball.Z = -g.tun.BoundZ
		g.ball.VZ = -g.ball.VZ
	}

	// Paddle collision only counts when the ball moves toward that
	// paddle, otherwise it would double-bounce on the way out.
	if g.paddleHit(g.left) && g.ball.VX < 0 {
		g.ball.VX *= -g.tun.SpeedMultiplier
		g.ball.VZ += (g.ball.Z - g.left.Z) * g.tun.SpinFactor
		g.ball.Color = ColorLeft
		g.hitter = hitterLeft
	}
	if g.paddleHit(g.right) && g.ball.VX > 0 {
		g.ball.VX *= -g.tun.SpeedMultiplier
		g.ball.VZ += (g.ball.Z - g.right.Z) * g.tun.SpinFactor
		g.ball.Color = ColorRight
		g.hitter = hitterRight
	}

	// Score only if somebody touched the ball since the last reset.
	if g.ball.X < -g.tun.BoundX || g.ball.X > g.tun.BoundX {
		if g.ball.X < -g.tun.BoundX && g.hitter != hitterNone {
			g.hitter = hitterNone
			g.rightScore++
		} else if g.ball.X > g.tun.BoundX && g.hitter != hitterNone {
			g.hitter = hitterNone
			g.leftScore++
		}
		g.updateScoreLocked()
		g.resetBallLocked()
	}
}

func (g *Game) paddleHit(p Paddle) bool {
	dx := g.ball.X - p.X
	if dx < 0 {
		dx = -dx
	}
	dz := g.ball.Z - p.Z
	if dz < 0 {
		dz = -dz
	}
	return dx < g.tun.PaddleReachX && dz < g.tun.PaddleReachZ
}

// SetPaddleZ applies a client-reported paddle position. The position is
// trusted (client-authoritative paddle) but clamped to the table bound.
func (g *Game) SetPaddleZ(side Side, z float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if z > g.tun.BoundZ {
		z = g.tun.BoundZ
	} else if z < -g.tun.BoundZ {
		z = -g.tun.BoundZ
	}
	if side == SideLeft {
		g.left.Z = z
	} else if side == SideRight {
		g.right.Z = z
	}
}

// TogglePause pauses a running match or resumes a paused one. Resume
// requires both seats occupied and shifts the match deadline forward by
// the elapsed pause duration, so no play time is lost.
func (g *Game) TogglePause() {
	g.mu.Lock()

	if g.stop != nil {
		g.whenPaused = g.clock.Now()
		g.stopLoopLocked()
		g.status = StatusPaused
		g.scoreDisplay = "PAUSED (press Esc to resume)"
		snap := g.snapshotLocked()
		g.mu.Unlock()

		g.broadcast.ToRoom(g.id, protocol.EventStateUpdate, stateUpdate{State: snap})
		g.notifyLobby()
		return
	}

	if len(g.seats) == 2 && g.status == StatusPaused {
		g.status = StatusInProgress
		g.updateScoreLocked()
		now := g.clock.Now()
		g.gameEnd = g.gameEnd.Add(now.Sub(g.whenPaused))
		g.last = now
		g.startLoopLocked()
		g.mu.Unlock()

		g.notifyLobby()
		return
	}

	g.mu.Unlock()
}

// Disconnect unbinds a connection. Dropping below two seats stops any
// loop, forces waiting and tells the remaining player. Returns true
// when the room should be removed from the registry: last player gone,
// or local mode where the single connection owned the whole room.
func (g *Game) Disconnect(connID string) (remove bool) {
	g.mu.Lock()

	for i, s := range g.seats {
		if s.ConnID == connID {
			g.seats = append(g.seats[:i], g.seats[i+1:]...)
			break
		}
	}

	belowQuorum := len(g.seats) < 2
	if belowQuorum {
		g.stopLoopLocked()
		g.status = StatusWaiting
	}
	remove = len(g.seats) == 0 || g.mode == ModeLocal
	g.mu.Unlock()

	if belowQuorum {
		g.broadcast.ToRoom(g.id, protocol.EventWaiting, struct{}{})
	}
	return remove
}

// Stop cancels any running loop, for shutdown paths.
func (g *Game) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLoopLocked()
}
