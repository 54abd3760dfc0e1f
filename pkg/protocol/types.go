// Package protocol defines the replication packet set and its binary encoding.
package protocol

// ProtocolVersion is carried in JoinRequest; servers reject any other version.
const ProtocolVersion int32 = 3

// PacketType is the one-byte tag that starts every packet.
type PacketType uint8

const (
	TypeJoinRequest PacketType = iota + 1
	TypeJoinResponse
	TypePlayerConnected
	TypePlayerDisconnected
	TypeUpdatePlayerControl
	TypeUpdatePlayerAuthority
	TypeCreateRocket
	TypeDestroyRocket
	TypeUpdateRocketPrimary
	TypeUpdateRocketSecondary
	TypeDestroyPart
	TypeUpdateStaging
	TypeUpdateEngineModule
	TypeUpdateWheelModule
	TypeUpdateBoosterModule
	TypeUpdateParachuteModule
	TypeUpdateMoveModule
	TypeUpdateResourceModule
	TypeUpdateWorldTime

	typeEnd
)

var typeNames = [...]string{
	TypeJoinRequest:           "JoinRequest",
	TypeJoinResponse:          "JoinResponse",
	TypePlayerConnected:       "PlayerConnected",
	TypePlayerDisconnected:    "PlayerDisconnected",
	TypeUpdatePlayerControl:   "UpdatePlayerControl",
	TypeUpdatePlayerAuthority: "UpdatePlayerAuthority",
	TypeCreateRocket:          "CreateRocket",
	TypeDestroyRocket:         "DestroyRocket",
	TypeUpdateRocketPrimary:   "UpdateRocketPrimary",
	TypeUpdateRocketSecondary: "UpdateRocketSecondary",
	TypeDestroyPart:           "DestroyPart",
	TypeUpdateStaging:         "UpdateStaging",
	TypeUpdateEngineModule:    "UpdateEngineModule",
	TypeUpdateWheelModule:     "UpdateWheelModule",
	TypeUpdateBoosterModule:   "UpdateBoosterModule",
	TypeUpdateParachuteModule: "UpdateParachuteModule",
	TypeUpdateMoveModule:      "UpdateMoveModule",
	TypeUpdateResourceModule:  "UpdateResourceModule",
	TypeUpdateWorldTime:       "UpdateWorldTime",
}

// Valid reports whether t is part of the packet set.
func (t PacketType) Valid() bool {
	return t > 0 && t < typeEnd
}

func (t PacketType) String() string {
	if !t.Valid() {
		return "Unknown"
	}
	return typeNames[t]
}

// Types lists every packet type in tag order.
func Types() []PacketType {
	out := make([]PacketType, 0, typeEnd-1)
	for t := TypeJoinRequest; t < typeEnd; t++ {
		out = append(out, t)
	}
	return out
}

// Packet is one message of the closed packet set.
type Packet interface {
	Type() PacketType
	encode(w *writer)
	decode(r *reader)
}

// RocketPacket is implemented by packets that target a single rocket.
type RocketPacket interface {
	Packet
	Rocket() int32
}

// Secondary is a discrete state change that is applied exactly once, at the
// moment playback reaches its timestamp. Timestamp reports false for a
// packet sent without a world time.
type Secondary interface {
	RocketPacket
	Timestamp() (float64, bool)
}

// New returns an empty packet for a type tag. The table is closed: adding a
// packet means adding a case here.
func New(t PacketType) (Packet, bool) {
	switch t {
	case TypeJoinRequest:
		return &JoinRequest{}, true
	case TypeJoinResponse:
		return &JoinResponse{}, true
	case TypePlayerConnected:
		return &PlayerConnected{}, true
	case TypePlayerDisconnected:
		return &PlayerDisconnected{}, true
	case TypeUpdatePlayerControl:
		return &UpdatePlayerControl{}, true
	case TypeUpdatePlayerAuthority:
		return &UpdatePlayerAuthority{}, true
	case TypeCreateRocket:
		return &CreateRocket{}, true
	case TypeDestroyRocket:
		return &DestroyRocket{}, true
	case TypeUpdateRocketPrimary:
		return &UpdateRocketPrimary{}, true
	case TypeUpdateRocketSecondary:
		return &UpdateRocketSecondary{}, true
	case TypeDestroyPart:
		return &DestroyPart{}, true
	case TypeUpdateStaging:
		return &UpdateStaging{}, true
	case TypeUpdateEngineModule:
		return &UpdateEngineModule{}, true
	case TypeUpdateWheelModule:
		return &UpdateWheelModule{}, true
	case TypeUpdateBoosterModule:
		return &UpdateBoosterModule{}, true
	case TypeUpdateParachuteModule:
		return &UpdateParachuteModule{}, true
	case TypeUpdateMoveModule:
		return &UpdateMoveModule{}, true
	case TypeUpdateResourceModule:
		return &UpdateResourceModule{}, true
	case TypeUpdateWorldTime:
		return &UpdateWorldTime{}, true
	default:
		return nil, false
	}
}
