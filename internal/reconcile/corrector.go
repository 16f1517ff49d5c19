// Package reconcile implements the consumer-side contract for the
// authoritative snapshot stream: clients render predicted state
// immediately and pull it toward the server's state, snapping when the
// divergence is too large to smooth over.
package reconcile

import "math"

// Defaults for the dual-mode correction. These are deliberate tunables,
// not incidental smoothing: the threshold decides when correctness
// wins over responsiveness.
const (
	DefaultSnapThreshold = 0.5
	DefaultSmoothFactor  = 0.1
)

// Corrector pulls a locally predicted value toward the authoritative
// one. Small errors are corrected by SmoothFactor per frame; errors at
// or beyond SnapThreshold snap instantly to the server value.
type Corrector struct {
	SnapThreshold float64
	SmoothFactor  float64
}

// NewCorrector returns a corrector with the default constants.
func NewCorrector() Corrector {
	return Corrector{
		SnapThreshold: DefaultSnapThreshold,
		SmoothFactor:  DefaultSmoothFactor,
	}
}

// Correct returns the corrected value for one axis.
func (c Corrector) Correct(local, authoritative float64) float64 {
	err := authoritative - local
	if math.Abs(err) > c.SnapThreshold {
		return authoritative
	}
	return local + err*c.SmoothFactor
}

// Correct2D corrects both axes of a position. Either axis exceeding
// the threshold snaps the whole position, matching how the renderer
// treats ball divergence.
func (c Corrector) Correct2D(localX, localZ, authX, authZ float64) (float64, float64) {
	errX := authX - localX
	errZ := authZ - localZ
	if math.Abs(errX) > c.SnapThreshold || math.Abs(errZ) > c.SnapThreshold {
		return authX, authZ
	}
	return localX + errX*c.SmoothFactor, localZ + errZ*c.SmoothFactor
}

// Predict advances a predicted position by its velocity over dt
// seconds, for the frames between authoritative snapshots.
func Predict(pos, vel, dt float64) float64 {
	return pos + vel*dt
}
