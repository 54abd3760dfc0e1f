// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rocketsync/rocketsync/internal/model"
	"github.com/rocketsync/rocketsync/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// JSON documents stored in the rocket columns.

type partJSON struct {
	ID          int32              `json:"id"`
	Name        string             `json:"name"`
	Position    [2]float32         `json:"position"`
	Orientation [3]float32         `json:"orientation"`
	Temperature float32            `json:"temperature"`
	Numbers     map[string]float64 `json:"numbers,omitempty"`
	Toggles     map[string]bool    `json:"toggles,omitempty"`
	Texts       map[string]string  `json:"texts,omitempty"`
	Scorch      *[2]float32        `json:"scorch,omitempty"` // angle, intensity
}

type stageJSON struct {
	ID    int32   `json:"id"`
	Parts []int32 `json:"parts"`
}

type controlsJSON struct {
	Raw        [2]float32 `json:"raw"`
	Horizontal [2]float32 `json:"horizontal"`
	Turn       [2]float32 `json:"turn"`
}

type playerStatsJSON struct {
	PlayerID   int32   `json:"playerId"`
	Name       string  `json:"name"`
	RTTMs      float32 `json:"rttMs"`
	Controlled int32   `json:"controlled"`
	Authority  int     `json:"authority"`
}

// vecToPoint converts a frame-local vector to a geom.Point. Non-finite
// components are rejected.
func vecToPoint(v mgl64.Vec2) (geom.Point, error) {
	coords := geom.Coordinates{XY: geom.XY{X: v.X(), Y: v.Y()}}
	return geom.NewPoint(coords)
}

func toJSON(v any) (datatypes.JSON, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

// CoreToWorld converts a world snapshot to a GORM model.World with all its rockets.
func CoreToWorld(name string, w *core.World) (model.World, error) {
	gw := model.World{
		Name:       name,
		WorldTime:  w.WorldTime,
		Difficulty: w.Difficulty,
		Rockets:    make([]model.Rocket, 0, len(w.Rockets)),
	}
	for _, id := range slices.Sorted(maps.Keys(w.Rockets)) {
		r, err := CoreToRocket(id, w.Rockets[id])
		if err != nil {
			return model.World{}, err
		}
		gw.Rockets = append(gw.Rockets, r)
	}
	return gw, nil
}

// CoreToRocket converts a core.RocketState to a GORM model.Rocket.
// Parts are written in ascending id order.
func CoreToRocket(id int32, r *core.RocketState) (model.Rocket, error) {
	parts := make([]partJSON, 0, len(r.Parts))
	for _, pid := range slices.Sorted(maps.Keys(r.Parts)) {
		p := r.Parts[pid]
		pj := partJSON{
			ID:          pid,
			Name:        p.Name,
			Position:    p.Position,
			Orientation: [3]float32{p.Orientation.X, p.Orientation.Y, p.Orientation.Z},
			Temperature: p.Temperature,
			Numbers:     p.NumberVariables,
			Toggles:     p.ToggleVariables,
			Texts:       p.TextVariables,
		}
		if p.Scorch != nil {
			pj.Scorch = &[2]float32{p.Scorch.Angle, p.Scorch.Intensity}
		}
		parts = append(parts, pj)
	}

	joints := make([][2]int32, len(r.Joints))
	for i, j := range r.Joints {
		joints[i] = [2]int32{j.A, j.B}
	}

	stages := make([]stageJSON, len(r.Stages))
	for i, s := range r.Stages {
		ids := s.PartIDs
		if ids == nil {
			ids = []int32{}
		}
		stages[i] = stageJSON{ID: s.ID, Parts: ids}
	}

	controls := controlsJSON{
		Raw:        r.Controls.Raw,
		Horizontal: r.Controls.Horizontal,
		Turn:       r.Controls.Turn,
	}

	out := model.Rocket{
		RocketID:        id,
		Name:            r.Name,
		Frame:           r.Location.Frame,
		Rotation:        r.Rotation,
		AngularVelocity: r.AngularVelocity,
		ThrottleOn:      r.ThrottleOn,
		ThrottlePercent: r.ThrottlePercent,
		RCS:             r.RCS,
	}
	var err error
	if out.Position, err = vecToPoint(r.Location.Position); err != nil {
		return model.Rocket{}, fmt.Errorf("rocket %d position: %w", id, err)
	}
	if out.Velocity, err = vecToPoint(r.Location.Velocity); err != nil {
		return model.Rocket{}, fmt.Errorf("rocket %d velocity: %w", id, err)
	}
	if out.Parts, err = toJSON(parts); err != nil {
		return model.Rocket{}, fmt.Errorf("rocket %d parts: %w", id, err)
	}
	if out.Joints, err = toJSON(joints); err != nil {
		return model.Rocket{}, fmt.Errorf("rocket %d joints: %w", id, err)
	}
	if out.Stages, err = toJSON(stages); err != nil {
		return model.Rocket{}, fmt.Errorf("rocket %d stages: %w", id, err)
	}
	if out.Controls, err = toJSON(controls); err != nil {
		return model.Rocket{}, fmt.Errorf("rocket %d controls: %w", id, err)
	}
	return out, nil
}

// CoreToSession converts a core.Session to a GORM model.PlayerSession.
func CoreToSession(s core.Session) model.PlayerSession {
	return model.PlayerSession{
		SessionID:  s.ID,
		PlayerID:   s.PlayerID,
		PlayerName: s.PlayerName,
		Address:    s.Address,
		JoinedAt:   s.JoinedAt,
		LeftAt:     s.LeftAt,
		LastRTTMs:  float32(s.LastRTT.Seconds() * 1000),
		Reason:     s.Reason,
	}
}

// CoreToPerformance converts a core.Performance to a GORM model.ServerPerformance.
func CoreToPerformance(p core.Performance) model.ServerPerformance {
	stats := make([]playerStatsJSON, len(p.PlayerStats))
	for i, ps := range p.PlayerStats {
		stats[i] = playerStatsJSON{
			PlayerID:   ps.PlayerID,
			Name:       ps.Name,
			RTTMs:      float32(ps.RTT.Seconds() * 1000),
			Controlled: ps.Controlled,
			Authority:  ps.Authority,
		}
	}
	data, _ := json.Marshal(stats)

	return model.ServerPerformance{
		Time:             p.Time,
		WorldTime:        p.WorldTime,
		Players:          p.Players,
		Rockets:          p.Rockets,
		Parts:            p.Parts,
		PacketsIn:        p.PacketsIn,
		PacketsOut:       p.PacketsOut,
		PacketsRejected:  p.PacketsRejected,
		AuthorityChanges: p.AuthorityChanges,
		PlayerStats:      datatypes.JSON(data),
	}
}

