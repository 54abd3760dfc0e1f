// pkg/core/rocket.go
package core

import (
	"fmt"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
)

// NoRocket marks "no rocket" in control fields and wire packets.
const NoRocket int32 = -1

// Location places a rocket inside a reference frame (the body it orbits or sits on).
type Location struct {
	Frame    int32
	Position mgl64.Vec2
	Velocity mgl64.Vec2
}

// Controls holds the pilot input axes of a rocket.
type Controls struct {
	Raw        mgl32.Vec2
	Horizontal mgl32.Vec2
	Turn       mgl32.Vec2
}

// RocketState is the replicated state of one rocket.
type RocketState struct {
	Name            string
	Location        Location
	Rotation        float32 // degrees
	AngularVelocity float32
	ThrottleOn      bool
	ThrottlePercent float32
	RCS             bool
	Controls        Controls
	Parts           map[int32]*PartState
	Joints          []JointState
	Stages          []StageState
}

// PartState is the replicated state of a single part.
type PartState struct {
	Name            string
	Position        mgl32.Vec2
	Orientation     Orientation
	Temperature     float32
	NumberVariables map[string]float64
	ToggleVariables map[string]bool
	TextVariables   map[string]string
	Scorch          *ScorchMark
}

// Orientation is the x/y scale and z rotation of a part.
type Orientation struct {
	X float32
	Y float32
	Z float32
}

// ScorchMark records reentry heating damage on a part.
type ScorchMark struct {
	Angle     float32
	Intensity float32
}

// JointState connects two parts. The pair is unordered.
type JointState struct {
	A int32
	B int32
}

// Has reports whether the joint references the part.
func (j JointState) Has(partID int32) bool {
	return j.A == partID || j.B == partID
}

// Same reports whether two joints connect the same pair of parts.
func (j JointState) Same(o JointState) bool {
	return (j.A == o.A && j.B == o.B) || (j.A == o.B && j.B == o.A)
}

// StageState is one stage and its parts in activation order.
type StageState struct {
	ID      int32
	PartIDs []int32
}

// NewRocketState returns an empty rocket with initialized collections.
func NewRocketState(name string) *RocketState {
	return &RocketState{
		Name:  name,
		Parts: make(map[int32]*PartState),
	}
}

// NewPartState returns a part with initialized variable maps.
func NewPartState(name string) *PartState {
	return &PartState{
		Name:            name,
		NumberVariables: make(map[string]float64),
		ToggleVariables: make(map[string]bool),
		TextVariables:   make(map[string]string),
	}
}

// EnsureVariables allocates any nil variable map.
func (p *PartState) EnsureVariables() {
	if p.NumberVariables == nil {
		p.NumberVariables = make(map[string]float64)
	}
	if p.ToggleVariables == nil {
		p.ToggleVariables = make(map[string]bool)
	}
	if p.TextVariables == nil {
		p.TextVariables = make(map[string]string)
	}
}

// RemovePart deletes a part and every joint and stage membership that references it.
// Returns whether the part existed.
func (r *RocketState) RemovePart(partID int32) bool {
	if _, ok := r.Parts[partID]; !ok {
		return false
	}
	delete(r.Parts, partID)

	r.Joints = slices.DeleteFunc(r.Joints, func(j JointState) bool {
		return j.Has(partID)
	})
	for i := range r.Stages {
		r.Stages[i].PartIDs = slices.DeleteFunc(r.Stages[i].PartIDs, func(id int32) bool {
			return id == partID
		})
	}
	return true
}

// Validate checks that every joint and stage only references existing parts.
func (r *RocketState) Validate() error {
	for _, j := range r.Joints {
		if _, ok := r.Parts[j.A]; !ok {
			return fmt.Errorf("joint references missing part %d", j.A)
		}
		if _, ok := r.Parts[j.B]; !ok {
			return fmt.Errorf("joint references missing part %d", j.B)
		}
	}
	return ValidateStages(r.Parts, r.Stages)
}

// ValidateStages checks that every stage member exists in parts.
func ValidateStages(parts map[int32]*PartState, stages []StageState) error {
	for _, s := range stages {
		for _, id := range s.PartIDs {
			if _, ok := parts[id]; !ok {
				return fmt.Errorf("stage %d references missing part %d", s.ID, id)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the rocket.
func (r *RocketState) Clone() *RocketState {
	if r == nil {
		return nil
	}
	c := *r
	c.Parts = make(map[int32]*PartState, len(r.Parts))
	for id, p := range r.Parts {
		c.Parts[id] = p.Clone()
	}
	c.Joints = slices.Clone(r.Joints)
	c.Stages = CloneStages(r.Stages)
	return &c
}

// CloneStages deep-copies a stage list.
func CloneStages(stages []StageState) []StageState {
	if stages == nil {
		return nil
	}
	out := make([]StageState, len(stages))
	for i, s := range stages {
		out[i] = StageState{ID: s.ID, PartIDs: slices.Clone(s.PartIDs)}
	}
	return out
}

// Clone returns a deep copy of the part.
func (p *PartState) Clone() *PartState {
	if p == nil {
		return nil
	}
	c := *p
	c.NumberVariables = cloneMap(p.NumberVariables)
	c.ToggleVariables = cloneMap(p.ToggleVariables)
	c.TextVariables = cloneMap(p.TextVariables)
	if p.Scorch != nil {
		s := *p.Scorch
		c.Scorch = &s
	}
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
