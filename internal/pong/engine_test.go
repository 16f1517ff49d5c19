package pong

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pongclash/server/internal/events"
	"github.com/pongclash/server/internal/protocol"
)

type roomEvent struct {
	room  string
	event string
	data  any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []roomEvent
}

func (r *recordingBroadcaster) ToRoom(room, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, roomEvent{room: room, event: event, data: data})
}

func (r *recordingBroadcaster) byEvent(event string) []roomEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []roomEvent
	for _, e := range r.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type capturingPublisher struct {
	mu      sync.Mutex
	results []events.MatchCompleted
}

func (p *capturingPublisher) PublishMatchCompleted(_ context.Context, e events.MatchCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, e)
	return nil
}

func newTestGame(mode Mode) (*Game, *recordingBroadcaster, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	rec := &recordingBroadcaster{}
	g := NewGame("ab12", mode, Deps{
		Clock:     clock,
		Broadcast: rec,
		Rand:      rand.New(rand.NewSource(1)),
	})
	return g, rec, clock
}

// beginMatch puts a two-seat game into in-progress without starting the
// tick loop, so tests can drive step directly.
func beginMatch(g *Game) {
	g.status = StatusInProgress
	g.last = g.clock.Now()
	g.gameEnd = g.last.Add(g.tun.MatchDuration)
}

func TestJoinAssignsSides(t *testing.T) {
	g, _, _ := newTestGame(ModeRemote)

	side, err := g.Join("conn-1", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, SideLeft, side)

	side, err = g.Join("conn-2", "bob", "")
	require.NoError(t, err)
	assert.Equal(t, SideRight, side)

	seats := g.Seats()
	require.Len(t, seats, 2)
	assert.Equal(t, "conn-1", seats[0].ConnID)
	assert.Equal(t, "conn-2", seats[1].ConnID)
}

func TestJoinLocalSeatsBothPlayers(t *testing.T) {
	g, _, _ := newTestGame(ModeLocal)

	side, err := g.Join("conn-1", "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, SideLeft, side)

	seats := g.Seats()
	require.Len(t, seats, 2)
	assert.Equal(t, "", seats[1].ConnID, "second local seat has no connection of its own")
	assert.Equal(t, "bob", seats[1].Name)
}

func TestJoinTruncatesLongNames(t *testing.T) {
	g, _, _ := newTestGame(ModeRemote)

	_, err := g.Join("conn-1", "averyverylongname", "")
	require.NoError(t, err)
	assert.Equal(t, "averyveryl", g.Seats()[0].Name)
}

func TestJoinRejectedWhenSeatsFull(t *testing.T) {
	g, _, _ := newTestGame(ModeRemote)

	_, err := g.Join("conn-1", "alice", "")
	require.NoError(t, err)
	_, err = g.Join("conn-2", "bob", "")
	require.NoError(t, err)

	// The room is still waiting until the session layer runs the start
	// gating; a third join in that window must not get a seat.
	require.Equal(t, StatusWaiting, g.Status())
	_, err = g.Join("conn-3", "carol", "")
	assert.ErrorIs(t, err, ErrGameFull)

	seats := g.Seats()
	require.Len(t, seats, 2)
	assert.Equal(t, "alice", seats[0].Name, "intruder must not overwrite a seated name")

	g.TryStart()
	defer g.Stop()
	assert.Equal(t, StatusInProgress, g.Status(), "full room still starts")
}

func TestJoinRejectedAfterStart(t *testing.T) {
	g, _, _ := newTestGame(ModeRemote)
	g.Join("conn-1", "alice", "")
	g.Join("conn-2", "bob", "")
	g.TryStart()
	defer g.Stop()

	_, err := g.Join("conn-3", "carol", "")
	assert.ErrorIs(t, err, ErrGameStarted)
}

func TestTryStartNeedsTwoSeats(t *testing.T) {
	g, rec, _ := newTestGame(ModeRemote)
	g.Join("conn-1", "alice", "")

	g.TryStart()

	assert.Equal(t, StatusWaiting, g.Status())
	assert.Empty(t, rec.byEvent(protocol.EventStateUpdate))
}

func TestTryStartBroadcastsMatchStart(t *testing.T) {
	g, rec, _ := newTestGame(ModeRemote)
	g.Join("conn-1", "alice", "")
	g.Join("conn-2", "bob", "")

	g.TryStart()
	defer g.Stop()

	assert.Equal(t, StatusInProgress, g.Status())
	updates := rec.byEvent(protocol.EventStateUpdate)
	require.Len(t, updates, 1)
	upd, ok := updates[0].data.(stateUpdate)
	require.True(t, ok)
	assert.Equal(t, "start", upd.Start)
	assert.Equal(t, StatusInProgress, upd.State.Status)

	left, right := g.Scores()
	assert.Zero(t, left)
	assert.Zero(t, right)
}

func TestStepBouncesOffSideWall(t *testing.T) {
	g, _, clock := newTestGame(ModeRemote)
	beginMatch(g)

	g.ball = Ball{X: 0, Z: g.tun.BoundZ - 0.01, VX: 0, VZ: 4, Color: ColorNeutral}
	g.step(clock.Now().Add(16 * time.Millisecond))

	assert.Equal(t, g.tun.BoundZ, g.ball.Z, "ball clamps back onto the bound")
	assert.Equal(t, -4.0, g.ball.VZ)
}

func TestUntouchedServeNeverScores(t *testing.T) {
	g, _, clock := newTestGame(ModeRemote)
	beginMatch(g)

	// Park both paddles out of the ball's path and let the serve sail
	// past the right goal line untouched.
	g.left.Z = -g.tun.BoundZ
	g.right.Z = -g.tun.BoundZ
	g.ball = Ball{X: g.tun.BoundX - 0.05, Z: g.tun.BoundZ, VX: 6, VZ: 0, Color: ColorNeutral}
	g.hitter = hitterNone

	g.step(clock.Now().Add(30 * time.Millisecond))

	left, right := g.leftScore, g.rightScore
	assert.Zero(t, left)
	assert.Zero(t, right)
	assert.Equal(t, 0.0, g.ball.X, "ball re-centers after crossing")
	assert.Equal(t, uint32(ColorNeutral), g.ball.Color)
}

func TestPaddleHitReflectsAndSpeedsUpBall(t *testing.T) {
	g, _, clock := newTestGame(ModeRemote)
	beginMatch(g)

	g.left.Z = 0
	g.ball = Ball{X: -g.tun.PaddleX + 1.0, Z: 0.5, VX: -6, VZ: 0, Color: ColorNeutral}

	g.step(clock.Now().Add(16 * time.Millisecond))

	assert.Greater(t, g.ball.VX, 0.0, "ball reverses off the left paddle")
	assert.InDelta(t, 6*g.tun.SpeedMultiplier, g.ball.VX, 0.001)
	assert.Greater(t, g.ball.VZ, 0.0, "offset from paddle center adds spin")
	assert.Equal(t, uint32(ColorLeft), g.ball.Color)
	assert.Equal(t, hitterLeft, g.hitter)
}

func TestTouchedBallScoresForLastHitter(t *testing.T) {
	g, _, clock := newTestGame(ModeRemote)
	beginMatch(g)

	g.right.Z = -g.tun.BoundZ
	g.ball = Ball{X: g.tun.BoundX - 0.05, Z: g.tun.BoundZ, VX: 8, VZ: 0, Color: ColorLeft}
	g.hitter = hitterLeft

	g.step(clock.Now().Add(30 * time.Millisecond))

	assert.Equal(t, 1, g.leftScore)
	assert.Equal(t, 0, g.rightScore)
	assert.Equal(t, hitterNone, g.hitter, "score consumes the touch")
	assert.Contains(t, g.scoreDisplay, "Player1: 1")
}

func TestMaxScoreFinishesMatch(t *testing.T) {
	g, _, clock := newTestGame(ModeRemote)
	beginMatch(g)
	g.leftScore = g.tun.MaxScore

	g.step(clock.Now().Add(16 * time.Millisecond))

	assert.Equal(t, StatusFinished, g.status)
	assert.Equal(t, "Game Over! Player1 Wins!", g.scoreDisplay)
}

func TestTimeExpiryFinishesMatch(t *testing.T) {
	tests := []struct {
		name      string
		left      int
		right     int
		wantScore string
	}{
		{name: "left wins on time", left: 2, right: 1, wantScore: "Player1 Wins!"},
		{name: "right wins on time", left: 0, right: 2, wantScore: "Player2 Wins!"},
		{name: "tie on time", left: 1, right: 1, wantScore: "It's a tie!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _, clock := newTestGame(ModeRemote)
			beginMatch(g)
			g.leftScore = tt.left
			g.rightScore = tt.right

			g.step(clock.Now().Add(g.tun.MatchDuration))

			assert.Equal(t, StatusFinished, g.status)
			assert.Equal(t, tt.wantScore, g.scoreDisplay)
			assert.Equal(t, "00:00", g.timerDisplay)
		})
	}
}

func TestStepClampsLargeTimeDeltas(t *testing.T) {
	g, _, clock := newTestGame(ModeRemote)
	beginMatch(g)
	g.ball = Ball{X: 0, Z: 0, VX: 6, VZ: 0, Color: ColorNeutral}

	// A full second of stall must not tunnel the ball across the table.
	g.step(clock.Now().Add(1 * time.Second))

	assert.InDelta(t, 6*g.tun.MaxStep.Seconds(), g.ball.X, 0.001)
}

func TestBallStaysInBoundsOverManyTicks(t *testing.T) {
	g, _, clock := newTestGame(ModeRemote)
	beginMatch(g)

	rng := rand.New(rand.NewSource(42))
	now := clock.Now()
	for i := 0; i < 1000; i++ {
		now = now.Add(16 * time.Millisecond)
		g.SetPaddleZ(SideLeft, (rng.Float64()*2-1)*g.tun.BoundZ)
		g.SetPaddleZ(SideRight, (rng.Float64()*2-1)*g.tun.BoundZ)

		g.mu.Lock()
		g.step(now)
		z := g.ball.Z
		x := g.ball.X
		status := g.status
		g.mu.Unlock()

		if status != StatusInProgress {
			break
		}
		assert.LessOrEqual(t, z, g.tun.BoundZ)
		assert.GreaterOrEqual(t, z, -g.tun.BoundZ)
		// The ball is re-centered within the same step that crossed a
		// goal line, so it is never observed out past the bound.
		assert.LessOrEqual(t, x, g.tun.BoundX)
		assert.GreaterOrEqual(t, x, -g.tun.BoundX)
	}
}

func TestSetPaddleZClampsToBound(t *testing.T) {
	g, _, _ := newTestGame(ModeRemote)

	g.SetPaddleZ(SideLeft, 99)
	g.SetPaddleZ(SideRight, -99)

	snap := g.Snapshot()
	assert.Equal(t, g.tun.BoundZ, snap.LeftPaddle.Z)
	assert.Equal(t, -g.tun.BoundZ, snap.RightPaddle.Z)
}

func TestTogglePauseExtendsMatchDeadline(t *testing.T) {
	g, rec, clock := newTestGame(ModeRemote)
	g.Join("conn-1", "alice", "")
	g.Join("conn-2", "bob", "")
	g.TryStart()
	defer g.Stop()

	endBefore := g.Snapshot().GameEndTime

	g.TogglePause()
	assert.Equal(t, StatusPaused, g.Status())
	pauseSnap := g.Snapshot()
	assert.Equal(t, "PAUSED (press Esc to resume)", pauseSnap.ScoreDisplay)

	clock.Advance(5 * time.Second)
	g.TogglePause()

	assert.Equal(t, StatusInProgress, g.Status())
	endAfter := g.Snapshot().GameEndTime
	assert.Equal(t, endBefore+5000, endAfter, "deadline shifts by exactly the pause duration")

	// The pause itself is broadcast so clients freeze immediately.
	var sawPause bool
	for _, e := range rec.byEvent(protocol.EventStateUpdate) {
		if upd, ok := e.data.(stateUpdate); ok && upd.State.Status == StatusPaused {
			sawPause = true
		}
	}
	assert.True(t, sawPause)
}

func TestTogglePauseResumeNeedsTwoSeats(t *testing.T) {
	g, _, _ := newTestGame(ModeRemote)
	g.Join("conn-1", "alice", "")
	g.Join("conn-2", "bob", "")
	g.TryStart()
	defer g.Stop()

	g.TogglePause()
	require.Equal(t, StatusPaused, g.Status())

	g.Disconnect("conn-2")
	g.TogglePause()
	assert.NotEqual(t, StatusInProgress, g.Status())
}

func TestDisconnectBelowQuorumForcesWaiting(t *testing.T) {
	g, rec, _ := newTestGame(ModeRemote)
	g.Join("conn-1", "alice", "")
	g.Join("conn-2", "bob", "")
	g.TryStart()

	remove := g.Disconnect("conn-2")

	assert.False(t, remove)
	assert.Equal(t, StatusWaiting, g.Status())
	assert.NotEmpty(t, rec.byEvent(protocol.EventWaiting))

	remove = g.Disconnect("conn-1")
	assert.True(t, remove, "empty room asks to be removed")
}

func TestDisconnectLocalAlwaysRemoves(t *testing.T) {
	g, _, _ := newTestGame(ModeLocal)
	g.Join("conn-1", "alice", "bob")
	g.TryStart()

	assert.True(t, g.Disconnect("conn-1"))
}

func TestTickPublishesMatchResult(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recordingBroadcaster{}
	pub := &capturingPublisher{}
	g := NewGame("ab12", ModeRemote, Deps{
		Clock:     clock,
		Broadcast: rec,
		Events:    pub,
		Rand:      rand.New(rand.NewSource(1)),
	})
	g.Join("conn-1", "alice", "")
	g.Join("conn-2", "bob", "")
	beginMatch(g)
	g.leftScore = g.tun.MaxScore
	g.updateScoreLocked()

	alive := g.tick()

	assert.False(t, alive)
	assert.Equal(t, StatusFinished, g.Status())
	require.Len(t, pub.results, 1)
	result := pub.results[0]
	assert.Equal(t, "pong", result.Kind)
	assert.Equal(t, "ab12", result.RoomID)
	assert.Equal(t, "alice", result.Winner)
	assert.Equal(t, g.tun.MaxScore, result.Score1)
}
