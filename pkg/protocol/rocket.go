package protocol

import (
	"github.com/rocketsync/rocketsync/pkg/core"
)

// Minimum encoded sizes, used to bound collection counts while decoding.
const (
	minPartSize  = 4 + 8 + 12 + 4 + 4*3 + 1
	minJointSize = 8
	minStageSize = 8
)

func writeRocket(w *writer, r *core.RocketState) {
	w.string(r.Name)
	w.i32(r.Location.Frame)
	w.vec64(r.Location.Position)
	w.vec64(r.Location.Velocity)
	w.f32(r.Rotation)
	w.f32(r.AngularVelocity)
	w.bool(r.ThrottleOn)
	w.f32(r.ThrottlePercent)
	w.bool(r.RCS)
	writeControls(w, r.Controls)

	writeMap(w, r.Parts, (*writer).i32, writePart)

	w.i32(int32(len(r.Joints)))
	for _, j := range r.Joints {
		w.i32(j.A)
		w.i32(j.B)
	}
	writeStages(w, r.Stages)
}

func readRocket(r *reader) *core.RocketState {
	rs := &core.RocketState{}
	rs.Name = r.string()
	rs.Location.Frame = r.i32()
	rs.Location.Position = r.vec64()
	rs.Location.Velocity = r.vec64()
	rs.Rotation = r.f32()
	rs.AngularVelocity = r.f32()
	rs.ThrottleOn = r.bool()
	rs.ThrottlePercent = r.f32()
	rs.RCS = r.bool()
	rs.Controls = readControls(r)

	rs.Parts = readMap(r, 4+minPartSize, (*reader).i32, readPart)

	if n := r.count(minJointSize); n > 0 {
		rs.Joints = make([]core.JointState, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			rs.Joints = append(rs.Joints, core.JointState{A: r.i32(), B: r.i32()})
		}
	}
	rs.Stages = readStages(r)
	return rs
}

func writeControls(w *writer, c core.Controls) {
	w.vec32(c.Raw)
	w.vec32(c.Horizontal)
	w.vec32(c.Turn)
}

func readControls(r *reader) core.Controls {
	return core.Controls{Raw: r.vec32(), Horizontal: r.vec32(), Turn: r.vec32()}
}

func writePart(w *writer, p *core.PartState) {
	w.string(p.Name)
	w.vec32(p.Position)
	w.f32(p.Orientation.X)
	w.f32(p.Orientation.Y)
	w.f32(p.Orientation.Z)
	w.f32(p.Temperature)
	writeMap(w, p.NumberVariables, (*writer).string, (*writer).f64)
	writeMap(w, p.ToggleVariables, (*writer).string, (*writer).bool)
	writeMap(w, p.TextVariables, (*writer).string, (*writer).string)

	w.bool(p.Scorch == nil)
	if p.Scorch != nil {
		w.f32(p.Scorch.Angle)
		w.f32(p.Scorch.Intensity)
	}
}

func readPart(r *reader) *core.PartState {
	p := &core.PartState{}
	p.Name = r.string()
	p.Position = r.vec32()
	p.Orientation = core.Orientation{X: r.f32(), Y: r.f32(), Z: r.f32()}
	p.Temperature = r.f32()
	p.NumberVariables = readMap(r, 4+8, (*reader).string, (*reader).f64)
	p.ToggleVariables = readMap(r, 4+1, (*reader).string, (*reader).bool)
	p.TextVariables = readMap(r, 4+4, (*reader).string, (*reader).string)

	if isNull := r.bool(); !isNull {
		p.Scorch = &core.ScorchMark{Angle: r.f32(), Intensity: r.f32()}
	}
	return p
}

func writeStages(w *writer, stages []core.StageState) {
	w.i32(int32(len(stages)))
	for _, s := range stages {
		w.i32(s.ID)
		w.i32s(s.PartIDs)
	}
}

func readStages(r *reader) []core.StageState {
	n := r.count(minStageSize)
	if n == 0 {
		return nil
	}
	stages := make([]core.StageState, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		stages = append(stages, core.StageState{ID: r.i32(), PartIDs: r.i32s()})
	}
	return stages
}
