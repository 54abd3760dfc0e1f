package convert

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rocketsync/rocketsync/internal/model"
	"github.com/rocketsync/rocketsync/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// pointToVec converts a geom.Point to a frame-local vector. Empty points are zero.
func pointToVec(p geom.Point) mgl64.Vec2 {
	coord, ok := p.Coordinates()
	if !ok {
		return mgl64.Vec2{}
	}
	return mgl64.Vec2{coord.XY.X, coord.XY.Y}
}

// WorldToCore converts a GORM model.World and its rockets to a world snapshot.
func WorldToCore(w model.World) (*core.World, error) {
	out := &core.World{
		WorldTime:  w.WorldTime,
		Difficulty: w.Difficulty,
		Rockets:    make(map[int32]*core.RocketState, len(w.Rockets)),
	}
	for _, r := range w.Rockets {
		state, err := RocketToCore(r)
		if err != nil {
			return nil, err
		}
		out.Rockets[r.RocketID] = state
	}
	return out, nil
}

// RocketToCore converts a GORM model.Rocket to a core.RocketState.
func RocketToCore(r model.Rocket) (*core.RocketState, error) {
	state := core.NewRocketState(r.Name)
	state.Location = core.Location{
		Frame:    r.Frame,
		Position: pointToVec(r.Position),
		Velocity: pointToVec(r.Velocity),
	}
	state.Rotation = r.Rotation
	state.AngularVelocity = r.AngularVelocity
	state.ThrottleOn = r.ThrottleOn
	state.ThrottlePercent = r.ThrottlePercent
	state.RCS = r.RCS

	if len(r.Controls) > 0 {
		var c controlsJSON
		if err := json.Unmarshal(r.Controls, &c); err != nil {
			return nil, fmt.Errorf("rocket %d controls: %w", r.RocketID, err)
		}
		state.Controls = core.Controls{Raw: c.Raw, Horizontal: c.Horizontal, Turn: c.Turn}
	}

	if len(r.Parts) > 0 {
		var parts []partJSON
		if err := json.Unmarshal(r.Parts, &parts); err != nil {
			return nil, fmt.Errorf("rocket %d parts: %w", r.RocketID, err)
		}
		for _, pj := range parts {
			p := core.NewPartState(pj.Name)
			p.Position = pj.Position
			p.Orientation = core.Orientation{X: pj.Orientation[0], Y: pj.Orientation[1], Z: pj.Orientation[2]}
			p.Temperature = pj.Temperature
			for k, v := range pj.Numbers {
				p.NumberVariables[k] = v
			}
			for k, v := range pj.Toggles {
				p.ToggleVariables[k] = v
			}
			for k, v := range pj.Texts {
				p.TextVariables[k] = v
			}
			if pj.Scorch != nil {
				p.Scorch = &core.ScorchMark{Angle: pj.Scorch[0], Intensity: pj.Scorch[1]}
			}
			state.Parts[pj.ID] = p
		}
	}

	if len(r.Joints) > 0 {
		var joints [][2]int32
		if err := json.Unmarshal(r.Joints, &joints); err != nil {
			return nil, fmt.Errorf("rocket %d joints: %w", r.RocketID, err)
		}
		for _, j := range joints {
			state.Joints = append(state.Joints, core.JointState{A: j[0], B: j[1]})
		}
	}

	if len(r.Stages) > 0 {
		var stages []stageJSON
		if err := json.Unmarshal(r.Stages, &stages); err != nil {
			return nil, fmt.Errorf("rocket %d stages: %w", r.RocketID, err)
		}
		for _, s := range stages {
			state.Stages = append(state.Stages, core.StageState{ID: s.ID, PartIDs: s.Parts})
		}
	}

	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("rocket %d: %w", r.RocketID, err)
	}
	return state, nil
}

// SessionToCore converts a GORM model.PlayerSession to a core.Session.
func SessionToCore(s model.PlayerSession) core.Session {
	return core.Session{
		ID:         s.SessionID,
		PlayerID:   s.PlayerID,
		PlayerName: s.PlayerName,
		Address:    s.Address,
		JoinedAt:   s.JoinedAt,
		LeftAt:     s.LeftAt,
		LastRTT:    msToDuration(s.LastRTTMs),
		Reason:     s.Reason,
	}
}

// PerformanceToCore converts a GORM model.ServerPerformance to a core.Performance.
// Unreadable player stats are dropped.
func PerformanceToCore(p model.ServerPerformance) core.Performance {
	out := core.Performance{
		Time:             p.Time,
		WorldTime:        p.WorldTime,
		Players:          p.Players,
		Rockets:          p.Rockets,
		Parts:            p.Parts,
		PacketsIn:        p.PacketsIn,
		PacketsOut:       p.PacketsOut,
		PacketsRejected:  p.PacketsRejected,
		AuthorityChanges: p.AuthorityChanges,
	}
	var stats []playerStatsJSON
	if len(p.PlayerStats) > 0 && json.Unmarshal(p.PlayerStats, &stats) == nil {
		for _, ps := range stats {
			out.PlayerStats = append(out.PlayerStats, core.PlayerStats{
				PlayerID:   ps.PlayerID,
				Name:       ps.Name,
				RTT:        msToDuration(ps.RTTMs),
				Controlled: ps.Controlled,
				Authority:  ps.Authority,
			})
		}
	}
	return out
}

func msToDuration(ms float32) time.Duration {
	return time.Duration(math.Round(float64(ms) * float64(time.Millisecond)))
}
