// Package world holds the replicated entity model: the canonical world on the
// server and the mirror on each client.
package world

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rocketsync/rocketsync/pkg/core"
)

var (
	// ErrUnknownRocket is returned for operations on a rocket id that is not in the world.
	ErrUnknownRocket = errors.New("unknown rocket")
	// ErrUnknownPart is returned for operations on a part id that is not in the rocket.
	ErrUnknownPart = errors.New("unknown part")
	// ErrSameRocket is returned when merging a rocket into itself.
	ErrSameRocket = errors.New("cannot merge rocket into itself")
)

// World is a mutex-guarded set of rockets plus the simulation clock.
// All accessors copy in and out so callers never share state with the map.
type World struct {
	mu         sync.RWMutex
	worldTime  float64
	difficulty string
	rockets    map[int32]*core.RocketState

	rocketIDs *IDAllocator
	partIDs   *IDAllocator
}

// New creates an empty world whose ids are drawn from the given epoch.
func New(difficulty string, epoch uint8) *World {
	return &World{
		difficulty: difficulty,
		rockets:    make(map[int32]*core.RocketState),
		rocketIDs:  NewIDAllocator(epoch),
		partIDs:    NewIDAllocator(epoch),
	}
}

// Time returns the world clock in seconds.
func (w *World) Time() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.worldTime
}

// SetTime overwrites the world clock.
func (w *World) SetTime(t float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.worldTime = t
}

// AdvanceTime moves the world clock forward and returns the new time.
func (w *World) AdvanceTime(dt float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if dt > 0 {
		w.worldTime += dt
	}
	return w.worldTime
}

// Difficulty returns the ruleset tag.
func (w *World) Difficulty() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.difficulty
}

// SetDifficulty overwrites the ruleset tag.
func (w *World) SetDifficulty(d string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.difficulty = d
}

// CreateRocket stores a copy of state under a freshly allocated id.
func (w *World) CreateRocket(state *core.RocketState) (int32, error) {
	if state == nil {
		return 0, errors.New("nil rocket state")
	}
	if err := state.Validate(); err != nil {
		return 0, fmt.Errorf("invalid rocket: %w", err)
	}
	id, err := w.rocketIDs.Next()
	if err != nil {
		return 0, err
	}
	for partID := range state.Parts {
		w.partIDs.Observe(partID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.rockets[id] = normalize(state.Clone())
	return id, nil
}

// PutRocket stores a copy of state under a known id, replacing any previous rocket.
func (w *World) PutRocket(id int32, state *core.RocketState) error {
	if state == nil {
		return errors.New("nil rocket state")
	}
	if err := state.Validate(); err != nil {
		return fmt.Errorf("invalid rocket %d: %w", id, err)
	}
	w.rocketIDs.Observe(id)
	for partID := range state.Parts {
		w.partIDs.Observe(partID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.rockets[id] = normalize(state.Clone())
	return nil
}

// DestroyRocket removes a rocket and reports whether it existed.
func (w *World) DestroyRocket(id int32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.rockets[id]; !ok {
		return false
	}
	delete(w.rockets, id)
	return true
}

// RemovePart removes a part and every joint and stage membership referencing it.
// The returned bool reports whether the part existed.
func (w *World) RemovePart(rocketID, partID int32) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rockets[rocketID]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownRocket, rocketID)
	}
	return r.RemovePart(partID), nil
}

// PartCount returns the number of parts of a rocket, or -1 if the rocket is unknown.
func (w *World) PartCount(rocketID int32) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.rockets[rocketID]
	if !ok {
		return -1
	}
	return len(r.Parts)
}

// MergeParts docks rocket from into rocket into. Every part of from gets a
// fresh id; its joints and stages are rewritten and appended to into, stages
// sharing an id are combined, and from is destroyed. The old-to-new part id mapping is returned.
func (w *World) MergeParts(from, into int32) (map[int32]int32, error) {
	if from == into {
		return nil, ErrSameRocket
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	src, ok := w.rockets[from]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRocket, from)
	}
	dst, ok := w.rockets[into]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRocket, into)
	}

	mapping := make(map[int32]int32, len(src.Parts))
	for _, oldID := range slices.Sorted(maps.Keys(src.Parts)) {
		newID, err := w.nextPartID(dst)
		if err != nil {
			return nil, err
		}
		mapping[oldID] = newID
	}

	for oldID, p := range src.Parts {
		dst.Parts[mapping[oldID]] = p.Clone()
	}
	for _, j := range src.Joints {
		a, okA := mapping[j.A]
		b, okB := mapping[j.B]
		if !okA || !okB {
			continue
		}
		dst.Joints = append(dst.Joints, core.JointState{A: a, B: b})
	}
	for _, s := range src.Stages {
		ids := make([]int32, 0, len(s.PartIDs))
		for _, id := range s.PartIDs {
			if n, ok := mapping[id]; ok {
				ids = append(ids, n)
			}
		}
		// a stage id both rockets use becomes one stage
		if i := slices.IndexFunc(dst.Stages, func(d core.StageState) bool { return d.ID == s.ID }); i >= 0 {
			for _, id := range ids {
				if !slices.Contains(dst.Stages[i].PartIDs, id) {
					dst.Stages[i].PartIDs = append(dst.Stages[i].PartIDs, id)
				}
			}
			continue
		}
		dst.Stages = append(dst.Stages, core.StageState{ID: s.ID, PartIDs: ids})
	}

	delete(w.rockets, from)
	return mapping, nil
}

// nextPartID allocates a part id not present in r. Ids restored from other
// processes may share a namespace, so a collision just takes the next id.
func (w *World) nextPartID(r *core.RocketState) (int32, error) {
	for {
		id, err := w.partIDs.Next()
		if err != nil {
			return 0, err
		}
		if _, taken := r.Parts[id]; !taken {
			return id, nil
		}
	}
}

// NewPartID allocates a part id from the world's part namespace.
func (w *World) NewPartID() (int32, error) {
	return w.partIDs.Next()
}

// Rocket returns a copy of a rocket.
func (w *World) Rocket(id int32) (*core.RocketState, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.rockets[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// HasRocket reports whether the rocket exists.
func (w *World) HasRocket(id int32) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.rockets[id]
	return ok
}

// Update runs fn against the live rocket under the write lock.
func (w *World) Update(id int32, fn func(r *core.RocketState) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rockets[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRocket, id)
	}
	return fn(r)
}

// UpdatePart runs fn against a live part under the write lock.
func (w *World) UpdatePart(rocketID, partID int32, fn func(p *core.PartState)) error {
	return w.Update(rocketID, func(r *core.RocketState) error {
		p, ok := r.Parts[partID]
		if !ok {
			return fmt.Errorf("%w: rocket %d part %d", ErrUnknownPart, rocketID, partID)
		}
		p.EnsureVariables()
		fn(p)
		return nil
	})
}

// Locations returns the placement of every rocket.
func (w *World) Locations() map[int32]core.Location {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[int32]core.Location, len(w.rockets))
	for id, r := range w.rockets {
		out[id] = r.Location
	}
	return out
}

// RocketIDs returns every rocket id in ascending order.
func (w *World) RocketIDs() []int32 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Sorted(maps.Keys(w.rockets))
}

// Len returns the number of rockets.
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.rockets)
}

// PartTotal returns the number of parts across all rockets.
func (w *World) PartTotal() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := 0
	for _, r := range w.rockets {
		n += len(r.Parts)
	}
	return n
}

// Snapshot returns a deep copy of the whole world.
func (w *World) Snapshot() *core.World {
	w.mu.RLock()
	defer w.mu.RUnlock()
	snap := &core.World{
		WorldTime:  w.worldTime,
		Difficulty: w.difficulty,
		Rockets:    make(map[int32]*core.RocketState, len(w.rockets)),
	}
	for id, r := range w.rockets {
		snap.Rockets[id] = r.Clone()
	}
	return snap
}

// Restore replaces the world with a snapshot. Rockets that break the
// joint/stage invariant are skipped and reported in the returned error.
func (w *World) Restore(snap *core.World) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	rockets := make(map[int32]*core.RocketState, len(snap.Rockets))
	var errs []error
	for id, r := range snap.Rockets {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("rocket %d: %w", id, err))
			continue
		}
		w.rocketIDs.Observe(id)
		for partID := range r.Parts {
			w.partIDs.Observe(partID)
		}
		rockets[id] = normalize(r.Clone())
	}

	w.mu.Lock()
	w.worldTime = snap.WorldTime
	if snap.Difficulty != "" {
		w.difficulty = snap.Difficulty
	}
	w.rockets = rockets
	w.mu.Unlock()

	return errors.Join(errs...)
}

// Clear removes every rocket.
func (w *World) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rockets = make(map[int32]*core.RocketState)
}

func normalize(r *core.RocketState) *core.RocketState {
	if r.Parts == nil {
		r.Parts = make(map[int32]*core.PartState)
	}
	return r
}
