// pkg/core/modules.go
package core

// Part variable keys written by module update packets.
const (
	VarEngineOn             = "engine_on"
	VarWheelOn              = "wheel_on"
	VarBoosterPrimed        = "booster_primed"
	VarBoosterThrottle      = "booster_throttle_percent"
	VarBoosterFuel          = "booster_fuel_percent"
	VarParachuteState       = "parachute_state"
	VarParachuteTargetState = "parachute_target_state"
	VarMoveTime             = "move_time"
	VarMoveTargetTime       = "move_target_time"
	VarResourcePercent      = "resource_percent"
)

// ParachuteState is the deployment phase of a parachute module.
type ParachuteState int32

const (
	ParachuteNone ParachuteState = iota
	ParachuteHalf
	ParachuteFull
	ParachuteCut
)

func (s ParachuteState) String() string {
	switch s {
	case ParachuteNone:
		return "none"
	case ParachuteHalf:
		return "half"
	case ParachuteFull:
		return "full"
	case ParachuteCut:
		return "cut"
	default:
		return "unknown"
	}
}
