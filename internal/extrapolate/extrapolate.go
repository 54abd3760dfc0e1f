// Package extrapolate dead-reckons a rocket forward from its last known state.
package extrapolate

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultSubsteps is the number of RK4 steps per extrapolation.
const DefaultSubsteps = 100

// Environment supplies the forces acting on a rocket inside a reference frame.
type Environment interface {
	Gravity(frame int32, pos mgl64.Vec2) mgl64.Vec2
	Density(frame int32, pos mgl64.Vec2) float64
}

// Snapshot is the last authoritative motion state of a rocket plus the drag
// parameters captured with it.
type Snapshot struct {
	Frame           int32
	Position        mgl64.Vec2
	Velocity        mgl64.Vec2
	Time            float64
	DragCoefficient float64
	Mass            float64
}

// Extrapolator integrates snapshots with fixed-step RK4.
type Extrapolator struct {
	Env      Environment
	Substeps int
}

// New returns an extrapolator; substeps <= 0 selects DefaultSubsteps.
func New(env Environment, substeps int) *Extrapolator {
	if substeps <= 0 {
		substeps = DefaultSubsteps
	}
	return &Extrapolator{Env: env, Substeps: substeps}
}

// Extrapolate advances s to target. A snapshot at or past target is returned unchanged.
func (x *Extrapolator) Extrapolate(s Snapshot, target float64) Snapshot {
	if s.Time >= target {
		return s
	}
	n := x.Substeps
	if n <= 0 {
		n = DefaultSubsteps
	}
	h := (target - s.Time) / float64(n)

	pos, vel := s.Position, s.Velocity
	for range n {
		k1p, k1v := vel, x.accel(s, pos, vel)

		p2, v2 := pos.Add(k1p.Mul(h/2)), vel.Add(k1v.Mul(h/2))
		k2p, k2v := v2, x.accel(s, p2, v2)

		p3, v3 := pos.Add(k2p.Mul(h/2)), vel.Add(k2v.Mul(h/2))
		k3p, k3v := v3, x.accel(s, p3, v3)

		p4, v4 := pos.Add(k3p.Mul(h)), vel.Add(k3v.Mul(h))
		k4p, k4v := v4, x.accel(s, p4, v4)

		pos = pos.Add(k1p.Add(k2p.Mul(2)).Add(k3p.Mul(2)).Add(k4p).Mul(h / 6))
		vel = vel.Add(k1v.Add(k2v.Mul(2)).Add(k3v.Mul(2)).Add(k4v).Mul(h / 6))
	}

	out := s
	out.Position = pos
	out.Velocity = vel
	out.Time = target
	return out
}

// accel is gravity minus quadratic drag along the velocity.
func (x *Extrapolator) accel(s Snapshot, pos, vel mgl64.Vec2) mgl64.Vec2 {
	var a mgl64.Vec2
	if x.Env == nil {
		return a
	}
	a = x.Env.Gravity(s.Frame, pos)
	if s.Mass <= 0 {
		return a
	}
	speed := vel.Len()
	if speed == 0 {
		return a
	}
	drag := x.Env.Density(s.Frame, pos) * speed * speed * s.DragCoefficient / s.Mass
	return a.Sub(vel.Mul(drag / speed))
}

// Uniform is an environment with constant gravity and density in every frame.
type Uniform struct {
	G   mgl64.Vec2
	Rho float64
}

func (u Uniform) Gravity(int32, mgl64.Vec2) mgl64.Vec2 { return u.G }
func (u Uniform) Density(int32, mgl64.Vec2) float64    { return u.Rho }

// Planet pulls toward the frame origin with inverse-square gravity and an
// exponential atmosphere above Radius.
type Planet struct {
	Mu          float64 // gravitational parameter
	Radius      float64
	SeaDensity  float64
	ScaleHeight float64
}

func (p Planet) Gravity(_ int32, pos mgl64.Vec2) mgl64.Vec2 {
	r := pos.Len()
	if r == 0 {
		return mgl64.Vec2{}
	}
	return pos.Mul(-p.Mu / (r * r * r))
}

func (p Planet) Density(_ int32, pos mgl64.Vec2) float64 {
	if p.ScaleHeight <= 0 {
		return 0
	}
	alt := pos.Len() - p.Radius
	if alt < 0 {
		alt = 0
	}
	return p.SeaDensity * math.Exp(-alt/p.ScaleHeight)
}
