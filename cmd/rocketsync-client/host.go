package main

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/rocketsync/rocketsync/internal/client"
	"github.com/rocketsync/rocketsync/internal/extrapolate"
	"github.com/rocketsync/rocketsync/internal/reconcile"
	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rocketsync/rocketsync/pkg/protocol"
)

const (
	dragCoefficient = 0.2
	partMass        = 500.0
	// thrust per unit of throttle, m/s² along the heading
	engineAccel = 15.0
)

type body struct {
	name   string
	parts  int
	motion reconcile.Motion
	mode   reconcile.BodyMode
	input  client.Discrete
	engine bool
	events int
}

// ballisticHost stands in for a physics engine: owned rockets coast under
// gravity and drag plus optional engine thrust, remote rockets follow
// whatever playback writes.
type ballisticHost struct {
	mu     sync.Mutex
	bodies map[int32]*body
	x      *extrapolate.Extrapolator
	logger *slog.Logger
}

func newBallisticHost(env extrapolate.Environment, logger *slog.Logger) *ballisticHost {
	return &ballisticHost{
		bodies: make(map[int32]*body),
		x:      extrapolate.New(env, 4),
		logger: logger,
	}
}

func bodyOf(state *core.RocketState) *body {
	return &body{
		name:  state.Name,
		parts: len(state.Parts),
		motion: reconcile.Motion{
			Frame:           state.Location.Frame,
			Position:        state.Location.Position,
			Velocity:        state.Location.Velocity,
			Rotation:        state.Rotation,
			AngularVelocity: state.AngularVelocity,
		},
		input: client.Discrete{
			ThrottleOn:      state.ThrottleOn,
			ThrottlePercent: state.ThrottlePercent,
			RCS:             state.RCS,
			Controls:        state.Controls,
		},
	}
}

// Add registers a rocket the host created itself under a local id.
func (h *ballisticHost) Add(localID int32, state *core.RocketState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := bodyOf(state)
	b.mode = reconcile.Dynamic
	h.bodies[localID] = b
}

func (h *ballisticHost) Spawn(rocketID int32, state *core.RocketState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bodies[rocketID] = bodyOf(state)
	h.logger.Debug("spawned rocket", "rocket", rocketID, "name", state.Name, "parts", len(state.Parts))
}

func (h *ballisticHost) Despawn(rocketID int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.bodies, rocketID)
}

func (h *ballisticHost) Rekey(localID, rocketID int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.bodies[localID]; ok {
		delete(h.bodies, localID)
		h.bodies[rocketID] = b
	}
}

func (h *ballisticHost) LiveMotion(rocketID int32) (reconcile.Motion, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bodies[rocketID]
	if !ok {
		return reconcile.Motion{}, false
	}
	return b.motion, true
}

func (h *ballisticHost) ApplyMotion(rocketID int32, m reconcile.Motion, mode reconcile.BodyMode) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bodies[rocketID]
	if !ok {
		return
	}
	b.motion = m
	b.mode = mode
}

func (h *ballisticHost) ApplyEvent(rocketID int32, p protocol.Secondary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bodies[rocketID]
	if !ok {
		return
	}
	b.events++
	switch p := p.(type) {
	case *protocol.UpdateRocketSecondary:
		b.input = client.Discrete{
			ThrottleOn:      p.ThrottleOn,
			ThrottlePercent: p.ThrottlePercent,
			RCS:             p.RCS,
			Controls:        p.Controls,
		}
	case *protocol.UpdateEngineModule:
		b.engine = p.EngineOn
	case *protocol.DestroyPart:
		if b.parts > 0 {
			b.parts--
		}
	}
}

func (h *ballisticHost) DragParameters(rocketID int32) (cd, mass float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bodies[rocketID]
	if !ok || b.parts == 0 {
		return dragCoefficient, partMass
	}
	return dragCoefficient, partMass * float64(b.parts)
}

func (h *ballisticHost) LiveDiscrete(rocketID int32) (client.Discrete, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, ok := h.bodies[rocketID]
	if !ok {
		return client.Discrete{}, false
	}
	return b.input, true
}

// SetThrottle changes the pilot input of a rocket.
func (h *ballisticHost) SetThrottle(rocketID int32, on bool, percent float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.bodies[rocketID]; ok {
		b.input.ThrottleOn = on
		b.input.ThrottlePercent = percent
		b.engine = on
	}
}

// Step integrates the rockets in owned by dt seconds. Everything else is
// moved by playback.
func (h *ballisticHost) Step(dt float64, owned []int32) {
	if dt <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range owned {
		b, ok := h.bodies[id]
		if !ok {
			continue
		}
		b.mode = reconcile.Dynamic
		mass := partMass * float64(max(b.parts, 1))
		next := h.x.Extrapolate(extrapolate.Snapshot{
			Frame:           b.motion.Frame,
			Position:        b.motion.Position,
			Velocity:        b.motion.Velocity,
			DragCoefficient: dragCoefficient,
			Mass:            mass,
		}, dt)
		vel := next.Velocity
		if b.engine && b.input.ThrottleOn {
			vel = vel.Add(heading(b.motion.Rotation).Mul(engineAccel * float64(b.input.ThrottlePercent) * dt))
		}
		b.motion.Position = next.Position
		b.motion.Velocity = vel
		b.motion.Rotation += b.motion.AngularVelocity * float32(dt)
	}
}

// Bodies returns the ids of every rocket instance, ascending.
func (h *ballisticHost) Bodies() []int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Sorted(maps.Keys(h.bodies))
}

func heading(deg float32) mgl64.Vec2 {
	rad := float64(mgl32.DegToRad(deg))
	return mgl64.Rotate2D(rad).Mul2x1(mgl64.Vec2{0, 1})
}

// launchRocket builds a two-stage rocket standing on the surface of a
// planet of the given radius.
func launchRocket(name string, radius float64) *core.RocketState {
	r := core.NewRocketState(name)
	r.Location = core.Location{Frame: 0, Position: mgl64.Vec2{0, radius + 10}}
	r.ThrottleOn = true
	r.ThrottlePercent = 1

	capsule := core.NewPartState("Capsule")
	capsule.Position = mgl32.Vec2{0, 2}
	tank := core.NewPartState("Fuel Tank")
	tank.NumberVariables["fuel_percent"] = 1
	engine := core.NewPartState("Engine")
	engine.Position = mgl32.Vec2{0, -2}
	engine.ToggleVariables["engine_on"] = true

	r.Parts[1] = capsule
	r.Parts[2] = tank
	r.Parts[3] = engine
	r.Joints = []core.JointState{{A: 1, B: 2}, {A: 2, B: 3}}
	r.Stages = []core.StageState{{ID: 1, PartIDs: []int32{3}}}
	return r
}
