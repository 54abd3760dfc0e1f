package world

import (
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketsync/rocketsync/pkg/core"
)

// chainRocket builds a rocket whose parts are joined in a line and split
// across two stages.
func chainRocket(name string, partIDs ...int32) *core.RocketState {
	r := core.NewRocketState(name)
	for _, id := range partIDs {
		r.Parts[id] = core.NewPartState("fuel_tank")
	}
	for i := 1; i < len(partIDs); i++ {
		r.Joints = append(r.Joints, core.JointState{A: partIDs[i-1], B: partIDs[i]})
	}
	half := len(partIDs) / 2
	r.Stages = []core.StageState{
		{ID: 0, PartIDs: append([]int32(nil), partIDs[:half]...)},
		{ID: 1, PartIDs: append([]int32(nil), partIDs[half:]...)},
	}
	return r
}

func TestCreateRocket_AssignsDistinctIDs(t *testing.T) {
	w := New("normal", 1)

	seen := map[int32]bool{}
	for i := 0; i < 50; i++ {
		id, err := w.CreateRocket(chainRocket("r", 1, 2))
		require.NoError(t, err)
		assert.False(t, seen[id], "id %d handed out twice", id)
		assert.Positive(t, id)
		seen[id] = true
	}
	assert.Equal(t, 50, w.Len())
}

func TestCreateRocket_RejectsDanglingJoint(t *testing.T) {
	w := New("normal", 1)
	r := chainRocket("r", 1, 2)
	r.Joints = append(r.Joints, core.JointState{A: 2, B: 99})

	_, err := w.CreateRocket(r)
	assert.Error(t, err)
	assert.Equal(t, 0, w.Len())
}

func TestCreateRocket_CopiesState(t *testing.T) {
	w := New("normal", 1)
	r := chainRocket("r", 1, 2)

	id, err := w.CreateRocket(r)
	require.NoError(t, err)

	r.Name = "mutated"
	delete(r.Parts, 1)

	got, ok := w.Rocket(id)
	require.True(t, ok)
	assert.Equal(t, "r", got.Name)
	assert.Len(t, got.Parts, 2)
}

func TestDestroyRocket(t *testing.T) {
	w := New("normal", 1)
	id, err := w.CreateRocket(chainRocket("r", 1))
	require.NoError(t, err)

	assert.True(t, w.DestroyRocket(id))
	assert.False(t, w.DestroyRocket(id))
	assert.False(t, w.HasRocket(id))
}

func TestRemovePart_DropsJointsAndStageMembership(t *testing.T) {
	w := New("normal", 1)
	id, err := w.CreateRocket(chainRocket("r", 1, 2, 3, 4))
	require.NoError(t, err)

	existed, err := w.RemovePart(id, 2)
	require.NoError(t, err)
	assert.True(t, existed)

	r, _ := w.Rocket(id)
	assert.Len(t, r.Parts, 3)
	for _, j := range r.Joints {
		assert.False(t, j.Has(2))
	}
	assert.Equal(t, []int32{1}, r.Stages[0].PartIDs)
	require.NoError(t, r.Validate())

	existed, err = w.RemovePart(id, 2)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestRemovePart_UnknownRocket(t *testing.T) {
	w := New("normal", 1)
	_, err := w.RemovePart(1234, 1)
	assert.ErrorIs(t, err, ErrUnknownRocket)
}

func TestRandomOperations_KeepJointsAndStagesConsistent(t *testing.T) {
	w := New("normal", 1)
	rng := rand.New(rand.NewSource(7))

	var live []int32
	for step := 0; step < 2000; step++ {
		switch op := rng.Intn(10); {
		case op < 3 || len(live) == 0:
			n := 1 + rng.Intn(6)
			ids := make([]int32, n)
			for i := range ids {
				ids[i] = int32(i + 1)
			}
			id, err := w.CreateRocket(chainRocket("r", ids...))
			require.NoError(t, err)
			live = append(live, id)
		case op < 4:
			i := rng.Intn(len(live))
			w.DestroyRocket(live[i])
			live = append(live[:i], live[i+1:]...)
		default:
			id := live[rng.Intn(len(live))]
			_, err := w.RemovePart(id, int32(1+rng.Intn(6)))
			require.NoError(t, err)
		}

		for _, r := range w.Snapshot().Rockets {
			require.NoError(t, r.Validate(), "step %d", step)
		}
	}
}

func TestMergeParts_Docking(t *testing.T) {
	w := New("normal", 1)
	a, err := w.CreateRocket(chainRocket("A", 10, 11, 12))
	require.NoError(t, err)
	b, err := w.CreateRocket(chainRocket("B", 20, 21))
	require.NoError(t, err)

	mapping, err := w.MergeParts(a, b)
	require.NoError(t, err)
	assert.Len(t, mapping, 3)

	assert.False(t, w.HasRocket(a))
	assert.Equal(t, 1, w.Len())

	merged, ok := w.Rocket(b)
	require.True(t, ok)
	assert.Len(t, merged.Parts, 5)
	require.NoError(t, merged.Validate())

	for _, j := range merged.Joints {
		for _, old := range []int32{10, 11, 12} {
			assert.False(t, j.Has(old), "joint %v still references retired part %d", j, old)
		}
	}
	assert.Len(t, merged.Joints, 3)
	require.Len(t, merged.Stages, 2)
	assert.Len(t, merged.Stages[0].PartIDs, 2, "B's part 20 and A's part 10")
	assert.Len(t, merged.Stages[1].PartIDs, 3, "B's part 21 and A's parts 11, 12")
	for old, fresh := range mapping {
		assert.NotEqual(t, old, fresh)
		assert.Contains(t, merged.Parts, fresh)
	}
}

func TestMergeParts_SharedStageIDsCombined(t *testing.T) {
	w := New("normal", 1)
	a, err := w.CreateRocket(chainRocket("A", 10, 11))
	require.NoError(t, err)
	b, err := w.CreateRocket(chainRocket("B", 20, 21))
	require.NoError(t, err)

	mapping, err := w.MergeParts(a, b)
	require.NoError(t, err)

	merged, ok := w.Rocket(b)
	require.True(t, ok)
	ids := make([]int32, 0, len(merged.Stages))
	for _, s := range merged.Stages {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []int32{0, 1}, ids)
	assert.Equal(t, []int32{20, mapping[10]}, merged.Stages[0].PartIDs)
	assert.Equal(t, []int32{21, mapping[11]}, merged.Stages[1].PartIDs)
	require.NoError(t, merged.Validate())
}

func TestMergeParts_Errors(t *testing.T) {
	w := New("normal", 1)
	a, err := w.CreateRocket(chainRocket("A", 1))
	require.NoError(t, err)

	_, err = w.MergeParts(a, a)
	assert.ErrorIs(t, err, ErrSameRocket)

	_, err = w.MergeParts(a, 999)
	assert.ErrorIs(t, err, ErrUnknownRocket)
	assert.True(t, w.HasRocket(a))
}

func TestUpdatePart_UnknownPart(t *testing.T) {
	w := New("normal", 1)
	id, err := w.CreateRocket(chainRocket("A", 1))
	require.NoError(t, err)

	err = w.UpdatePart(id, 2, func(p *core.PartState) {})
	assert.ErrorIs(t, err, ErrUnknownPart)

	err = w.UpdatePart(id, 1, func(p *core.PartState) { p.ToggleVariables[core.VarEngineOn] = true })
	require.NoError(t, err)
	r, _ := w.Rocket(id)
	assert.True(t, r.Parts[1].ToggleVariables[core.VarEngineOn])
}

func TestSnapshotRestore(t *testing.T) {
	w := New("normal", 1)
	w.SetTime(42.5)
	r := chainRocket("A", 1, 2)
	r.Location = core.Location{Frame: 3, Position: mgl64.Vec2{10, 20}, Velocity: mgl64.Vec2{1, 2}}
	id, err := w.CreateRocket(r)
	require.NoError(t, err)

	snap := w.Snapshot()

	other := New("hard", 1)
	require.NoError(t, other.Restore(snap))
	assert.Equal(t, 42.5, other.Time())
	assert.Equal(t, "normal", other.Difficulty())

	got, ok := other.Rocket(id)
	require.True(t, ok)
	assert.Equal(t, r.Location, got.Location)

	next, err := other.CreateRocket(chainRocket("B", 1))
	require.NoError(t, err)
	assert.Greater(t, next, id, "restored ids must not be reissued")
}

func TestRestore_SkipsInvalidRockets(t *testing.T) {
	bad := chainRocket("bad", 1)
	bad.Stages = append(bad.Stages, core.StageState{ID: 5, PartIDs: []int32{77}})
	snap := &core.World{Rockets: map[int32]*core.RocketState{
		1: chainRocket("good", 1),
		2: bad,
	}}

	w := New("normal", 1)
	err := w.Restore(snap)
	assert.Error(t, err)
	assert.True(t, w.HasRocket(1))
	assert.False(t, w.HasRocket(2))
}

func TestAdvanceTime(t *testing.T) {
	w := New("normal", 1)
	assert.Equal(t, 0.5, w.AdvanceTime(0.5))
	assert.Equal(t, 0.5, w.AdvanceTime(-1))
}

func TestLocations(t *testing.T) {
	w := New("normal", 1)
	r := chainRocket("A", 1)
	r.Location = core.Location{Frame: 3, Position: mgl64.Vec2{4, 5}}
	id, err := w.CreateRocket(r)
	require.NoError(t, err)

	assert.Equal(t, map[int32]core.Location{id: r.Location}, w.Locations())
}
