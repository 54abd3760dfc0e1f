// Package reconcile plays back remote rocket motion on a client: buffered
// primary packets are shown a fixed delay behind the world clock and
// discrete events fire once their timestamp is reached.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/rocketsync/rocketsync/internal/extrapolate"
	"github.com/rocketsync/rocketsync/internal/queue"
	"github.com/rocketsync/rocketsync/pkg/protocol"
)

// PrimaryCapacity bounds the motion buffer of each rocket.
const PrimaryCapacity = 10

// ErrMissingTimestamp is returned for discrete packets without a world time.
var ErrMissingTimestamp = errors.New("secondary packet without timestamp")

// BodyMode tells the host whether it simulates a body or we drive it.
type BodyMode int

const (
	Kinematic BodyMode = iota
	Dynamic
)

func (m BodyMode) String() string {
	if m == Dynamic {
		return "dynamic"
	}
	return "kinematic"
}

// Motion is the physical state written to or read from the host.
type Motion struct {
	Frame           int32
	Position        mgl64.Vec2
	Velocity        mgl64.Vec2
	Rotation        float32
	AngularVelocity float32
}

func motionOf(p *protocol.UpdateRocketPrimary) Motion {
	return Motion{
		Frame:           p.Frame,
		Position:        p.Position,
		Velocity:        p.Velocity,
		Rotation:        p.Rotation,
		AngularVelocity: p.AngularVelocity,
	}
}

// Host is the physics engine side of playback.
type Host interface {
	// LiveMotion reads the simulated state of a rocket.
	LiveMotion(rocketID int32) (Motion, bool)
	// ApplyMotion writes a state and sets the body mode.
	ApplyMotion(rocketID int32, m Motion, mode BodyMode)
	// ApplyEvent applies a discrete module or staging change.
	ApplyEvent(rocketID int32, p protocol.Secondary)
	// DragParameters returns the drag coefficient and mass used for dead reckoning.
	DragParameters(rocketID int32) (cd, mass float64)
}

// Config tunes playback.
type Config struct {
	Delay float64 // seconds behind the world clock
	// Extrapolator dead-reckons past the newest primary. Nil holds the last state.
	Extrapolator *extrapolate.Extrapolator
}

// snapshot is a primary packet plus the drag the host reported when it arrived.
type snapshot struct {
	*protocol.UpdateRocketPrimary
	dragCoefficient float64
	mass            float64
}

type track struct {
	primaries   *queue.Queue[snapshot]
	secondaries *queue.Sorted[protocol.Secondary]
	prev        *snapshot
	authority   bool
}

func newTrack() *track {
	return &track{
		primaries: queue.NewBounded[snapshot](PrimaryCapacity),
		secondaries: queue.NewSorted(func(a, b protocol.Secondary) bool {
			return timeOf(a) < timeOf(b)
		}),
	}
}

func timeOf(s protocol.Secondary) float64 {
	t, _ := s.Timestamp()
	return t
}

// newest returns the latest primary timestamp the track knows of.
func (t *track) newest() (float64, bool) {
	if last, ok := t.primaries.Last(); ok {
		return last.WorldTime, true
	}
	if t.prev != nil {
		return t.prev.WorldTime, true
	}
	return 0, false
}

// Reconciler holds one playback track per rocket. It is not safe for
// concurrent use; the client serializes access.
type Reconciler struct {
	cfg    Config
	host   Host
	logger *slog.Logger
	tracks map[int32]*track
}

// New creates a reconciler driving host.
func New(cfg Config, host Host, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		cfg:    cfg,
		host:   host,
		logger: logger,
		tracks: make(map[int32]*track),
	}
}

func (r *Reconciler) track(id int32) *track {
	t, ok := r.tracks[id]
	if !ok {
		t = newTrack()
		r.tracks[id] = t
	}
	return t
}

// PushPrimary buffers a motion packet. Packets not newer than the newest
// one already held are dropped, so playback never moves backwards.
func (r *Reconciler) PushPrimary(p *protocol.UpdateRocketPrimary) {
	t := r.track(p.RocketID)
	if newest, ok := t.newest(); ok && p.WorldTime <= newest {
		r.logger.Debug("dropping stale primary", "rocket", p.RocketID, "worldTime", p.WorldTime, "newest", newest)
		return
	}
	cd, mass := r.host.DragParameters(p.RocketID)
	snap := snapshot{UpdateRocketPrimary: p, dragCoefficient: cd, mass: mass}
	if dropped := t.primaries.Push(snap); dropped > 0 {
		r.logger.Debug("primary buffer full, dropped oldest", "rocket", p.RocketID, "dropped", dropped)
	}
}

// PushSecondary buffers a discrete packet. Packets without a timestamp are
// discarded.
func (r *Reconciler) PushSecondary(p protocol.Secondary) error {
	if _, ok := p.Timestamp(); !ok {
		r.logger.Warn("discarding secondary packet without timestamp", "packet", p.Type().String(), "rocket", p.Rocket())
		return fmt.Errorf("%w: %s for rocket %d", ErrMissingTimestamp, p.Type(), p.Rocket())
	}
	r.track(p.Rocket()).secondaries.Insert(p)
	return nil
}

// SetAuthority marks whether this node simulates the rocket.
func (r *Reconciler) SetAuthority(id int32, authority bool) {
	r.track(id).authority = authority
}

// HasAuthority reports the flag set by SetAuthority.
func (r *Reconciler) HasAuthority(id int32) bool {
	t, ok := r.tracks[id]
	return ok && t.authority
}

// Remove forgets a rocket.
func (r *Reconciler) Remove(id int32) {
	delete(r.tracks, id)
}

// Buffered returns the number of queued primary and secondary packets.
func (r *Reconciler) Buffered(id int32) (primaries, secondaries int) {
	t, ok := r.tracks[id]
	if !ok {
		return 0, 0
	}
	return t.primaries.Len(), t.secondaries.Len()
}

// Tick advances playback of every rocket to worldTime.
func (r *Reconciler) Tick(worldTime float64) {
	for _, id := range slices.Sorted(maps.Keys(r.tracks)) {
		t := r.tracks[id]
		if t.authority {
			r.drain(id, t, worldTime)
		} else {
			r.play(id, t, worldTime-r.cfg.Delay)
		}
	}
}

// drain applies everything buffered at once and re-baselines from the host.
func (r *Reconciler) drain(id int32, t *track, worldTime float64) {
	for _, p := range t.primaries.GetAndEmpty() {
		r.host.ApplyMotion(id, motionOf(p.UpdateRocketPrimary), Dynamic)
	}
	for _, s := range t.secondaries.GetAndEmpty() {
		r.host.ApplyEvent(id, s)
	}

	live, ok := r.host.LiveMotion(id)
	if !ok {
		t.prev = nil
		return
	}
	cd, mass := r.host.DragParameters(id)
	t.prev = &snapshot{
		UpdateRocketPrimary: &protocol.UpdateRocketPrimary{
			RocketID:        id,
			WorldTime:       worldTime,
			Frame:           live.Frame,
			Position:        live.Position,
			Velocity:        live.Velocity,
			Rotation:        live.Rotation,
			AngularVelocity: live.AngularVelocity,
		},
		dragCoefficient: cd,
		mass:            mass,
	}
	r.host.ApplyMotion(id, live, Dynamic)
}

func (r *Reconciler) play(id int32, t *track, playback float64) {
	for {
		head, ok := t.primaries.Peek()
		if !ok || head.WorldTime > playback {
			break
		}
		head = t.primaries.Pop()
		t.prev = &head
	}
	next, hasNext := t.primaries.Peek()

	switch {
	case t.prev != nil && hasNext:
		span := next.WorldTime - t.prev.WorldTime
		frac := 1.0
		if span > 0 {
			frac = (playback - t.prev.WorldTime) / span
		}
		r.host.ApplyMotion(id, Interpolate(t.prev.UpdateRocketPrimary, next.UpdateRocketPrimary, frac), Kinematic)

	case t.prev != nil:
		r.host.ApplyMotion(id, r.deadReckon(*t.prev, playback), Kinematic)
	}

	for _, s := range t.secondaries.PopWhile(func(s protocol.Secondary) bool {
		return timeOf(s) <= playback
	}) {
		r.host.ApplyEvent(id, s)
	}
}

func (r *Reconciler) deadReckon(p snapshot, playback float64) Motion {
	m := motionOf(p.UpdateRocketPrimary)
	if r.cfg.Extrapolator == nil || p.WorldTime >= playback {
		return m
	}
	out := r.cfg.Extrapolator.Extrapolate(extrapolate.Snapshot{
		Frame:           p.Frame,
		Position:        p.Position,
		Velocity:        p.Velocity,
		Time:            p.WorldTime,
		DragCoefficient: p.dragCoefficient,
		Mass:            p.mass,
	}, playback)
	m.Position = out.Position
	m.Velocity = out.Velocity
	m.Rotation = p.Rotation + p.AngularVelocity*float32(playback-p.WorldTime)
	return m
}
