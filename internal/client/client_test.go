package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pongclash/server/internal/pong"
)

func TestPongViewPredictsBetweenSnapshots(t *testing.T) {
	v := NewPongView()
	v.Observe(pong.Snapshot{Ball: pong.Ball{X: 0, Z: 0, VX: 6, VZ: -3}})

	// First frame predicts ahead of the snapshot, then smooths back
	// toward it; later frames predict freely.
	v.Frame(1.0 / 60)
	assert.InDelta(t, 0.09, v.X, 1e-9)
	assert.InDelta(t, -0.045, v.Z, 1e-9)

	v.Frame(1.0 / 60)
	assert.InDelta(t, 0.19, v.X, 1e-9)
	assert.InDelta(t, -0.095, v.Z, 1e-9)
}

func TestPongViewSnapsOnLargeDivergence(t *testing.T) {
	v := NewPongView()
	v.X, v.Z = 5, 5

	v.Observe(pong.Snapshot{Ball: pong.Ball{X: 0, Z: 0, VX: 0, VZ: 0}})
	v.Frame(1.0 / 60)

	assert.Equal(t, 0.0, v.X)
	assert.Equal(t, 0.0, v.Z)
}

func TestPongViewSmoothsSmallDivergence(t *testing.T) {
	v := NewPongView()
	v.X, v.Z = 0.3, 0

	v.Observe(pong.Snapshot{Ball: pong.Ball{X: 0, Z: 0, VX: 0, VZ: 0}})
	v.Frame(1.0 / 60)

	assert.InDelta(t, 0.27, v.X, 1e-9)

	// No further correction without a fresh snapshot.
	v.Frame(1.0 / 60)
	assert.InDelta(t, 0.27, v.X, 1e-9)
}
