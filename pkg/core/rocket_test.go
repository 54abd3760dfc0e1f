package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJointState_Same(t *testing.T) {
	assert.True(t, JointState{A: 1, B: 2}.Same(JointState{A: 2, B: 1}))
	assert.True(t, JointState{A: 1, B: 2}.Same(JointState{A: 1, B: 2}))
	assert.False(t, JointState{A: 1, B: 2}.Same(JointState{A: 1, B: 3}))
}

func TestRocketState_RemovePart(t *testing.T) {
	r := NewRocketState("scout")
	r.Parts[1] = NewPartState("capsule")
	r.Parts[2] = NewPartState("tank")
	r.Parts[3] = NewPartState("engine")
	r.Joints = []JointState{{A: 1, B: 2}, {A: 2, B: 3}}
	r.Stages = []StageState{{ID: 0, PartIDs: []int32{3, 2}}}

	assert.True(t, r.RemovePart(2))
	assert.Empty(t, r.Joints)
	assert.Equal(t, []int32{3}, r.Stages[0].PartIDs)
	require.NoError(t, r.Validate())

	assert.False(t, r.RemovePart(2))
}

func TestRocketState_Validate(t *testing.T) {
	r := NewRocketState("scout")
	r.Parts[1] = NewPartState("capsule")

	r.Joints = []JointState{{A: 1, B: 5}}
	assert.Error(t, r.Validate())

	r.Joints = nil
	r.Stages = []StageState{{ID: 0, PartIDs: []int32{9}}}
	assert.Error(t, r.Validate())

	r.Stages = []StageState{{ID: 0, PartIDs: []int32{1}}}
	assert.NoError(t, r.Validate())
}

func TestRocketState_CloneIsDeep(t *testing.T) {
	r := NewRocketState("scout")
	p := NewPartState("capsule")
	p.NumberVariables["fuel"] = 0.5
	p.Scorch = &ScorchMark{Angle: 10, Intensity: 0.3}
	r.Parts[1] = p
	r.Stages = []StageState{{ID: 0, PartIDs: []int32{1}}}

	c := r.Clone()
	c.Parts[1].NumberVariables["fuel"] = 1
	c.Parts[1].Scorch.Angle = 90
	c.Stages[0].PartIDs[0] = 7

	assert.Equal(t, 0.5, r.Parts[1].NumberVariables["fuel"])
	assert.Equal(t, float32(10), r.Parts[1].Scorch.Angle)
	assert.Equal(t, int32(1), r.Stages[0].PartIDs[0])
}

func TestParachuteState_String(t *testing.T) {
	assert.Equal(t, "full", ParachuteFull.String())
	assert.Equal(t, "unknown", ParachuteState(42).String())
}
