package world

import (
	"fmt"

	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rocketsync/rocketsync/pkg/protocol"
)

// Apply performs the state mutation carried by an update packet. Packets that
// do not mutate rocket state are ignored. Unknown rockets and parts are
// reported with ErrUnknownRocket and ErrUnknownPart. Applying the same packet
// twice leaves the same state as applying it once.
func (w *World) Apply(p protocol.Packet) error {
	switch p := p.(type) {
	case *protocol.UpdateRocketPrimary:
		return w.Update(p.RocketID, func(r *core.RocketState) error {
			p.Apply(r)
			return nil
		})

	case *protocol.UpdateRocketSecondary:
		return w.Update(p.RocketID, func(r *core.RocketState) error {
			r.ThrottleOn = p.ThrottleOn
			r.ThrottlePercent = p.ThrottlePercent
			r.RCS = p.RCS
			r.Controls = p.Controls
			return nil
		})

	case *protocol.DestroyPart:
		existed, err := w.RemovePart(p.RocketID, p.PartID)
		if err != nil {
			return err
		}
		if !existed {
			return fmt.Errorf("%w: rocket %d part %d", ErrUnknownPart, p.RocketID, p.PartID)
		}
		return nil

	case *protocol.UpdateStaging:
		return w.Update(p.RocketID, func(r *core.RocketState) error {
			if err := core.ValidateStages(r.Parts, p.Stages); err != nil {
				return fmt.Errorf("%w: %v", ErrUnknownPart, err)
			}
			r.Stages = core.CloneStages(p.Stages)
			return nil
		})

	case *protocol.UpdateEngineModule:
		return w.UpdatePart(p.RocketID, p.PartID, func(part *core.PartState) {
			part.ToggleVariables[core.VarEngineOn] = p.EngineOn
		})

	case *protocol.UpdateWheelModule:
		return w.UpdatePart(p.RocketID, p.PartID, func(part *core.PartState) {
			part.ToggleVariables[core.VarWheelOn] = p.WheelOn
		})

	case *protocol.UpdateBoosterModule:
		return w.UpdatePart(p.RocketID, p.PartID, func(part *core.PartState) {
			part.ToggleVariables[core.VarBoosterPrimed] = p.Primed
			part.NumberVariables[core.VarBoosterThrottle] = float64(p.ThrottlePercent)
			part.NumberVariables[core.VarBoosterFuel] = float64(p.FuelPercent)
		})

	case *protocol.UpdateParachuteModule:
		return w.UpdatePart(p.RocketID, p.PartID, func(part *core.PartState) {
			part.NumberVariables[core.VarParachuteState] = float64(p.State)
			part.NumberVariables[core.VarParachuteTargetState] = float64(p.TargetState)
		})

	case *protocol.UpdateMoveModule:
		return w.UpdatePart(p.RocketID, p.PartID, func(part *core.PartState) {
			part.NumberVariables[core.VarMoveTime] = float64(p.Time)
			part.NumberVariables[core.VarMoveTargetTime] = float64(p.TargetTime)
		})

	case *protocol.UpdateResourceModule:
		// all parts or none
		return w.Update(p.RocketID, func(r *core.RocketState) error {
			var missing []int32
			for _, id := range p.PartIDs {
				if _, ok := r.Parts[id]; !ok {
					missing = append(missing, id)
				}
			}
			if len(missing) > 0 {
				return fmt.Errorf("%w: rocket %d parts %v", ErrUnknownPart, p.RocketID, missing)
			}
			for _, id := range p.PartIDs {
				part := r.Parts[id]
				part.EnsureVariables()
				part.NumberVariables[core.VarResourcePercent] = p.ResourcePercent
			}
			return nil
		})
	}
	return nil
}
