package lobby_test

import (
	"math/rand"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pongclash/server/internal/keyclash"
	"github.com/pongclash/server/internal/lobby"
	"github.com/pongclash/server/internal/pong"
	"github.com/pongclash/server/internal/protocol"
)

func newRegistry() *lobby.Registry {
	return lobby.NewRegistry(rand.New(rand.NewSource(7)))
}

func buildPong(mode pong.Mode) func(id string) *pong.Game {
	return func(id string) *pong.Game {
		return pong.NewGame(id, mode, pong.Deps{Clock: clockwork.NewFakeClock()})
	}
}

func buildKeyClash(mode keyclash.Mode) func(id string) *keyclash.Game {
	return func(id string) *keyclash.Game {
		return keyclash.NewGame(id, mode, keyclash.Deps{Clock: clockwork.NewFakeClock()})
	}
}

func TestCreatePongAssignsUniqueShortIDs(t *testing.T) {
	r := newRegistry()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		g := r.CreatePong(buildPong(pong.ModeRemote))
		assert.Len(t, g.ID(), 4)
		assert.False(t, seen[g.ID()], "room id %q allocated twice", g.ID())
		seen[g.ID()] = true

		found, ok := r.FindPong(g.ID())
		require.True(t, ok)
		assert.Same(t, g, found)
	}
}

func TestIDsUniqueAcrossGameKinds(t *testing.T) {
	r := newRegistry()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		seen[r.CreatePong(buildPong(pong.ModeRemote)).ID()] = true
		seen[r.CreateKeyClash(buildKeyClash(keyclash.ModeRemote)).ID()] = true
	}
	assert.Len(t, seen, 100)
}

func TestFindUnknownRoom(t *testing.T) {
	r := newRegistry()

	_, ok := r.FindPong("zzzz")
	assert.False(t, ok)
	_, ok = r.FindKeyClash("zzzz")
	assert.False(t, ok)
}

func TestRemoveRoom(t *testing.T) {
	r := newRegistry()
	g := r.CreatePong(buildPong(pong.ModeRemote))

	r.RemovePong(g.ID())

	_, ok := r.FindPong(g.ID())
	assert.False(t, ok)
	assert.Empty(t, r.Snapshot().PongGames)
}

func TestCheckJoinable(t *testing.T) {
	r := newRegistry()

	waitingPong := r.CreatePong(buildPong(pong.ModeRemote))

	startedPong := r.CreatePong(buildPong(pong.ModeRemote))
	_, err := startedPong.Join("conn-1", "alice", "")
	require.NoError(t, err)
	_, err = startedPong.Join("conn-2", "bob", "")
	require.NoError(t, err)
	startedPong.TryStart()
	defer startedPong.Stop()

	fullClash := r.CreateKeyClash(buildKeyClash(keyclash.ModeRemote))
	_, _, err = fullClash.Join("conn-3", keyclash.ModeRemote, "carol", "")
	require.NoError(t, err)
	_, _, err = fullClash.Join("conn-4", keyclash.ModeRemote, "dave", "")
	require.NoError(t, err)

	tests := []struct {
		name    string
		kind    protocol.GameKind
		id      string
		wantErr error
	}{
		{name: "waiting pong room", kind: protocol.GamePong, id: waitingPong.ID(), wantErr: nil},
		{name: "unknown pong room", kind: protocol.GamePong, id: "zzzz", wantErr: lobby.ErrRoomNotFound},
		{name: "started pong room", kind: protocol.GamePong, id: startedPong.ID(), wantErr: lobby.ErrRoomFull},
		{name: "unknown key clash room", kind: protocol.GameKeyClash, id: "zzzz", wantErr: lobby.ErrRoomNotFound},
		{name: "full key clash room", kind: protocol.GameKeyClash, id: fullClash.ID(), wantErr: lobby.ErrRoomFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.CheckJoinable(tt.kind, tt.id)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestLobbyPresence(t *testing.T) {
	r := newRegistry()

	r.AddPlayer("conn-1", "alice")
	r.AddPlayer("conn-2", "bob")

	snap := r.Snapshot()
	require.Len(t, snap.Players, 2)
	assert.Equal(t, lobby.Player{ID: "conn-1", Name: "alice"}, snap.Players[0])

	r.RemovePlayer("conn-1")
	r.RemovePlayer("conn-1") // idempotent

	snap = r.Snapshot()
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "bob", snap.Players[0].Name)
}

func TestSnapshotProjectsRooms(t *testing.T) {
	r := newRegistry()

	pg := r.CreatePong(buildPong(pong.ModeRemote))
	_, err := pg.Join("conn-1", "alice", "")
	require.NoError(t, err)

	kg := r.CreateKeyClash(buildKeyClash(keyclash.ModeRemote))
	_, _, err = kg.Join("conn-2", keyclash.ModeRemote, "bob", "")
	require.NoError(t, err)

	snap := r.Snapshot()

	require.Len(t, snap.PongGames, 1)
	assert.Equal(t, pg.ID(), snap.PongGames[0].ID)
	assert.Equal(t, pong.StatusWaiting, snap.PongGames[0].Status)
	require.Len(t, snap.PongGames[0].Players, 1)
	assert.Equal(t, "alice", snap.PongGames[0].Players[0].Name)

	require.Len(t, snap.KeyClashGames, 1)
	assert.Equal(t, kg.ID(), snap.KeyClashGames[0].ID)
	assert.Equal(t, "bob", snap.KeyClashGames[0].P1)
	assert.Equal(t, 1, snap.KeyClashGames[0].Players["conn-2"])
}

func TestStopAll(t *testing.T) {
	r := newRegistry()

	g := r.CreatePong(buildPong(pong.ModeRemote))
	g.Join("conn-1", "alice", "")
	g.Join("conn-2", "bob", "")
	g.TryStart()
	require.Equal(t, pong.StatusInProgress, g.Status())

	// StopAll only cancels loops; statuses are left as-is because the
	// process is going away.
	r.StopAll()
}
