package main

import (
	"io"
	"log/slog"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rocketsync/rocketsync/internal/extrapolate"
	"github.com/rocketsync/rocketsync/internal/reconcile"
	"github.com/rocketsync/rocketsync/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLaunchRocket_Valid(t *testing.T) {
	r := launchRocket("test", planet.Radius)
	require.NoError(t, r.Validate())
	assert.Len(t, r.Parts, 3)
	assert.InDelta(t, planet.Radius+10, r.Location.Position.Len(), 1e-9)
}

func TestHost_SpawnRekeyDespawn(t *testing.T) {
	h := newBallisticHost(planet, quietLogger())
	h.Spawn(5, launchRocket("a", planet.Radius))
	h.Add(-1, launchRocket("b", planet.Radius))
	assert.Equal(t, []int32{-1, 5}, h.Bodies())

	h.Rekey(-1, 9)
	assert.Equal(t, []int32{5, 9}, h.Bodies())
	h.Rekey(-2, 10)
	assert.Equal(t, []int32{5, 9}, h.Bodies())

	h.Despawn(5)
	_, ok := h.LiveMotion(5)
	assert.False(t, ok)
	_, ok = h.LiveDiscrete(9)
	assert.True(t, ok)
}

func TestHost_StepOnlyOwned(t *testing.T) {
	h := newBallisticHost(extrapolate.Uniform{G: mgl64.Vec2{0, -10}}, quietLogger())
	h.Spawn(1, launchRocket("owned", 0))
	h.Spawn(2, launchRocket("remote", 0))

	h.Step(1, []int32{1})

	owned, _ := h.LiveMotion(1)
	remote, _ := h.LiveMotion(2)
	assert.InDelta(t, -10, owned.Velocity.Y(), 1e-9)
	assert.InDelta(t, 5, owned.Position.Y(), 1e-9)
	assert.Equal(t, mgl64.Vec2{0, 10}, remote.Position)
}

func TestHost_ThrustAlongHeading(t *testing.T) {
	h := newBallisticHost(extrapolate.Uniform{}, quietLogger())
	h.Spawn(1, launchRocket("r", 0))
	h.SetThrottle(1, true, 1)

	h.Step(1, []int32{1})
	m, _ := h.LiveMotion(1)
	assert.InDelta(t, engineAccel, m.Velocity.Y(), 1e-9)
	assert.InDelta(t, 0, m.Velocity.X(), 1e-9)

	d, ok := h.LiveDiscrete(1)
	require.True(t, ok)
	assert.True(t, d.ThrottleOn)
}

func TestHost_PlaybackAndEvents(t *testing.T) {
	h := newBallisticHost(planet, quietLogger())
	h.Spawn(1, launchRocket("r", planet.Radius))

	want := reconcile.Motion{Frame: 2, Position: mgl64.Vec2{1, 2}, Rotation: 45}
	h.ApplyMotion(1, want, reconcile.Kinematic)
	got, ok := h.LiveMotion(1)
	require.True(t, ok)
	assert.Equal(t, want, got)

	cd, mass := h.DragParameters(1)
	assert.Equal(t, dragCoefficient, cd)
	assert.Equal(t, 3*partMass, mass)

	h.ApplyEvent(1, &protocol.DestroyPart{RocketID: 1, PartID: 3, WorldTime: 1})
	_, mass = h.DragParameters(1)
	assert.Equal(t, 2*partMass, mass)

	h.ApplyEvent(1, &protocol.UpdateRocketSecondary{RocketID: 1, WorldTime: 1, ThrottleOn: true, ThrottlePercent: 0.5})
	d, _ := h.LiveDiscrete(1)
	assert.Equal(t, float32(0.5), d.ThrottlePercent)

	// unknown rockets are ignored
	h.ApplyEvent(7, &protocol.UpdateEngineModule{RocketID: 7, WorldTime: 1, EngineOn: true})
	h.ApplyMotion(7, want, reconcile.Dynamic)
	_, ok = h.LiveMotion(7)
	assert.False(t, ok)
}
