package reconcile

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/rocketsync/rocketsync/pkg/protocol"
)

// Hermite evaluates the cubic Hermite spline between p0 and p1 at t in [0,1].
// The endpoint velocities are scaled by the interval length to form tangents.
func Hermite(p0, v0, p1, v1 mgl64.Vec2, interval, t float64) mgl64.Vec2 {
	t2 := t * t
	t3 := t2 * t
	h00 := 2*t3 - 3*t2 + 1
	h10 := t3 - 2*t2 + t
	h01 := -2*t3 + 3*t2
	h11 := t3 - t2

	return p0.Mul(h00).
		Add(v0.Mul(h10 * interval)).
		Add(p1.Mul(h01)).
		Add(v1.Mul(h11 * interval))
}

// LerpAngle interpolates between two angles in degrees along the shorter arc.
func LerpAngle(a, b, t float64) float64 {
	d := math.Mod(b-a, 360)
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return a + d*t
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Interpolate blends two primary packets at t in [0,1]. Packets in different
// frames are not blended: the later one is returned as is.
func Interpolate(prev, next *protocol.UpdateRocketPrimary, t float64) Motion {
	if prev.Frame != next.Frame {
		return motionOf(next)
	}
	t = min(max(t, 0), 1)
	interval := next.WorldTime - prev.WorldTime

	return Motion{
		Frame:    next.Frame,
		Position: Hermite(prev.Position, prev.Velocity, next.Position, next.Velocity, interval, t),
		Velocity: mgl64.Vec2{
			lerp(prev.Velocity.X(), next.Velocity.X(), t),
			lerp(prev.Velocity.Y(), next.Velocity.Y(), t),
		},
		Rotation:        float32(LerpAngle(float64(prev.Rotation), float64(next.Rotation), t)),
		AngularVelocity: float32(lerp(float64(prev.AngularVelocity), float64(next.AngularVelocity), t)),
	}
}
