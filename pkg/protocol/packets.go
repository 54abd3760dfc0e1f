package protocol

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/rocketsync/rocketsync/pkg/core"
)

// JoinRequest travels in the connection handshake header.
type JoinRequest struct {
	ProtocolVersion int32
	PlayerName      string
	Password        string
}

func (*JoinRequest) Type() PacketType { return TypeJoinRequest }

func (p *JoinRequest) encode(w *writer) {
	w.i32(p.ProtocolVersion)
	w.string(p.PlayerName)
	w.string(p.Password)
}

func (p *JoinRequest) decode(r *reader) {
	p.ProtocolVersion = r.i32()
	p.PlayerName = r.string()
	p.Password = r.string()
}

// JoinResponse is always the first message a server sends on a connection.
type JoinResponse struct {
	Accepted     bool
	Reason       string
	PlayerID     int32
	WorldTime    float64
	Difficulty   string
	UpdatePeriod float64 // seconds between client publishes
}

func (*JoinResponse) Type() PacketType { return TypeJoinResponse }

func (p *JoinResponse) encode(w *writer) {
	w.bool(p.Accepted)
	w.string(p.Reason)
	w.i32(p.PlayerID)
	w.f64(p.WorldTime)
	w.string(p.Difficulty)
	w.f64(p.UpdatePeriod)
}

func (p *JoinResponse) decode(r *reader) {
	p.Accepted = r.bool()
	p.Reason = r.string()
	p.PlayerID = r.i32()
	p.WorldTime = r.f64()
	p.Difficulty = r.string()
	p.UpdatePeriod = r.f64()
}

type PlayerConnected struct {
	PlayerID     int32
	Name         string
	PrintMessage bool
}

func (*PlayerConnected) Type() PacketType { return TypePlayerConnected }

func (p *PlayerConnected) encode(w *writer) {
	w.i32(p.PlayerID)
	w.string(p.Name)
	w.bool(p.PrintMessage)
}

func (p *PlayerConnected) decode(r *reader) {
	p.PlayerID = r.i32()
	p.Name = r.string()
	p.PrintMessage = r.bool()
}

type PlayerDisconnected struct {
	PlayerID int32
}

func (*PlayerDisconnected) Type() PacketType { return TypePlayerDisconnected }

func (p *PlayerDisconnected) encode(w *writer) { w.i32(p.PlayerID) }

func (p *PlayerDisconnected) decode(r *reader) { p.PlayerID = r.i32() }

// UpdatePlayerControl announces which rocket a player controls.
// RocketID is core.NoRocket when the player controls nothing.
type UpdatePlayerControl struct {
	PlayerID int32
	RocketID int32
}

func (*UpdatePlayerControl) Type() PacketType { return TypeUpdatePlayerControl }

func (p *UpdatePlayerControl) encode(w *writer) {
	w.i32(p.PlayerID)
	w.i32(p.RocketID)
}

func (p *UpdatePlayerControl) decode(r *reader) {
	p.PlayerID = r.i32()
	p.RocketID = r.i32()
}

// UpdatePlayerAuthority replaces the receiving player's authority set.
type UpdatePlayerAuthority struct {
	RocketIDs []int32
}

func (*UpdatePlayerAuthority) Type() PacketType { return TypeUpdatePlayerAuthority }

func (p *UpdatePlayerAuthority) encode(w *writer) { w.i32s(p.RocketIDs) }

func (p *UpdatePlayerAuthority) decode(r *reader) { p.RocketIDs = r.i32s() }

// CreateRocket carries a full rocket. Clients send it with their LocalID and
// GlobalID <= 0; the server answers with the assigned GlobalID. A GlobalID of
// an existing rocket replaces that rocket's state.
type CreateRocket struct {
	LocalID  int32
	GlobalID int32
	Rocket   *core.RocketState
}

func (*CreateRocket) Type() PacketType { return TypeCreateRocket }

func (p *CreateRocket) encode(w *writer) {
	w.i32(p.LocalID)
	w.i32(p.GlobalID)
	rocket := p.Rocket
	if rocket == nil {
		rocket = core.NewRocketState("")
	}
	writeRocket(w, rocket)
}

func (p *CreateRocket) decode(r *reader) {
	p.LocalID = r.i32()
	p.GlobalID = r.i32()
	p.Rocket = readRocket(r)
}

type DestroyRocket struct {
	RocketID int32
}

func (*DestroyRocket) Type() PacketType { return TypeDestroyRocket }
func (p *DestroyRocket) Rocket() int32  { return p.RocketID }

func (p *DestroyRocket) encode(w *writer) { w.i32(p.RocketID) }

func (p *DestroyRocket) decode(r *reader) { p.RocketID = r.i32() }

// UpdateRocketPrimary is the continuous motion state of a rocket at WorldTime.
type UpdateRocketPrimary struct {
	RocketID        int32
	WorldTime       float64
	Frame           int32
	Position        mgl64.Vec2
	Velocity        mgl64.Vec2
	Rotation        float32
	AngularVelocity float32
}

func (*UpdateRocketPrimary) Type() PacketType { return TypeUpdateRocketPrimary }
func (p *UpdateRocketPrimary) Rocket() int32  { return p.RocketID }

func (p *UpdateRocketPrimary) encode(w *writer) {
	w.i32(p.RocketID)
	w.f64(p.WorldTime)
	w.i32(p.Frame)
	w.vec64(p.Position)
	w.vec64(p.Velocity)
	w.f32(p.Rotation)
	w.f32(p.AngularVelocity)
}

func (p *UpdateRocketPrimary) decode(r *reader) {
	p.RocketID = r.i32()
	p.WorldTime = r.f64()
	p.Frame = r.i32()
	p.Position = r.vec64()
	p.Velocity = r.vec64()
	p.Rotation = r.f32()
	p.AngularVelocity = r.f32()
}

// Apply writes the motion state into a rocket.
func (p *UpdateRocketPrimary) Apply(r *core.RocketState) {
	r.Location = core.Location{Frame: p.Frame, Position: p.Position, Velocity: p.Velocity}
	r.Rotation = p.Rotation
	r.AngularVelocity = p.AngularVelocity
}

// UpdateRocketSecondary carries the discrete flight state of a rocket.
type UpdateRocketSecondary struct {
	RocketID        int32
	WorldTime       float64
	Untimed         bool
	ThrottleOn      bool
	ThrottlePercent float32
	RCS             bool
	Controls        core.Controls
}

func (*UpdateRocketSecondary) Type() PacketType             { return TypeUpdateRocketSecondary }
func (p *UpdateRocketSecondary) Rocket() int32              { return p.RocketID }
func (p *UpdateRocketSecondary) Timestamp() (float64, bool) { return p.WorldTime, !p.Untimed }

func (p *UpdateRocketSecondary) encode(w *writer) {
	w.i32(p.RocketID)
	w.stamp(p.WorldTime, p.Untimed)
	w.bool(p.ThrottleOn)
	w.f32(p.ThrottlePercent)
	w.bool(p.RCS)
	writeControls(w, p.Controls)
}

func (p *UpdateRocketSecondary) decode(r *reader) {
	p.RocketID = r.i32()
	p.WorldTime, p.Untimed = r.stamp()
	p.ThrottleOn = r.bool()
	p.ThrottlePercent = r.f32()
	p.RCS = r.bool()
	p.Controls = readControls(r)
}

type DestroyPart struct {
	RocketID        int32
	PartID          int32
	WorldTime       float64
	Untimed         bool
	CreateExplosion bool
}

func (*DestroyPart) Type() PacketType             { return TypeDestroyPart }
func (p *DestroyPart) Rocket() int32              { return p.RocketID }
func (p *DestroyPart) Timestamp() (float64, bool) { return p.WorldTime, !p.Untimed }

func (p *DestroyPart) encode(w *writer) {
	w.i32(p.RocketID)
	w.i32(p.PartID)
	w.stamp(p.WorldTime, p.Untimed)
	w.bool(p.CreateExplosion)
}

func (p *DestroyPart) decode(r *reader) {
	p.RocketID = r.i32()
	p.PartID = r.i32()
	p.WorldTime, p.Untimed = r.stamp()
	p.CreateExplosion = r.bool()
}

// UpdateStaging replaces every stage of a rocket at once.
type UpdateStaging struct {
	RocketID  int32
	WorldTime float64
	Untimed   bool
	Stages    []core.StageState
}

func (*UpdateStaging) Type() PacketType             { return TypeUpdateStaging }
func (p *UpdateStaging) Rocket() int32              { return p.RocketID }
func (p *UpdateStaging) Timestamp() (float64, bool) { return p.WorldTime, !p.Untimed }

func (p *UpdateStaging) encode(w *writer) {
	w.i32(p.RocketID)
	w.stamp(p.WorldTime, p.Untimed)
	writeStages(w, p.Stages)
}

func (p *UpdateStaging) decode(r *reader) {
	p.RocketID = r.i32()
	p.WorldTime, p.Untimed = r.stamp()
	p.Stages = readStages(r)
}

type UpdateEngineModule struct {
	RocketID  int32
	PartID    int32
	WorldTime float64
	Untimed   bool
	EngineOn  bool
}

func (*UpdateEngineModule) Type() PacketType             { return TypeUpdateEngineModule }
func (p *UpdateEngineModule) Rocket() int32              { return p.RocketID }
func (p *UpdateEngineModule) Timestamp() (float64, bool) { return p.WorldTime, !p.Untimed }

func (p *UpdateEngineModule) encode(w *writer) {
	w.i32(p.RocketID)
	w.i32(p.PartID)
	w.stamp(p.WorldTime, p.Untimed)
	w.bool(p.EngineOn)
}

func (p *UpdateEngineModule) decode(r *reader) {
	p.RocketID = r.i32()
	p.PartID = r.i32()
	p.WorldTime, p.Untimed = r.stamp()
	p.EngineOn = r.bool()
}

type UpdateWheelModule struct {
	RocketID  int32
	PartID    int32
	WorldTime float64
	Untimed   bool
	WheelOn   bool
}

func (*UpdateWheelModule) Type() PacketType             { return TypeUpdateWheelModule }
func (p *UpdateWheelModule) Rocket() int32              { return p.RocketID }
func (p *UpdateWheelModule) Timestamp() (float64, bool) { return p.WorldTime, !p.Untimed }

func (p *UpdateWheelModule) encode(w *writer) {
	w.i32(p.RocketID)
	w.i32(p.PartID)
	w.stamp(p.WorldTime, p.Untimed)
	w.bool(p.WheelOn)
}

func (p *UpdateWheelModule) decode(r *reader) {
	p.RocketID = r.i32()
	p.PartID = r.i32()
	p.WorldTime, p.Untimed = r.stamp()
	p.WheelOn = r.bool()
}

type UpdateBoosterModule struct {
	RocketID        int32
	PartID          int32
	WorldTime       float64
	Untimed         bool
	Primed          bool
	ThrottlePercent float32
	FuelPercent     float32
}

func (*UpdateBoosterModule) Type() PacketType             { return TypeUpdateBoosterModule }
func (p *UpdateBoosterModule) Rocket() int32              { return p.RocketID }
func (p *UpdateBoosterModule) Timestamp() (float64, bool) { return p.WorldTime, !p.Untimed }

func (p *UpdateBoosterModule) encode(w *writer) {
	w.i32(p.RocketID)
	w.i32(p.PartID)
	w.stamp(p.WorldTime, p.Untimed)
	w.bool(p.Primed)
	w.f32(p.ThrottlePercent)
	w.f32(p.FuelPercent)
}

func (p *UpdateBoosterModule) decode(r *reader) {
	p.RocketID = r.i32()
	p.PartID = r.i32()
	p.WorldTime, p.Untimed = r.stamp()
	p.Primed = r.bool()
	p.ThrottlePercent = r.f32()
	p.FuelPercent = r.f32()
}

type UpdateParachuteModule struct {
	RocketID    int32
	PartID      int32
	WorldTime   float64
	Untimed     bool
	State       core.ParachuteState
	TargetState core.ParachuteState
}

func (*UpdateParachuteModule) Type() PacketType             { return TypeUpdateParachuteModule }
func (p *UpdateParachuteModule) Rocket() int32              { return p.RocketID }
func (p *UpdateParachuteModule) Timestamp() (float64, bool) { return p.WorldTime, !p.Untimed }

func (p *UpdateParachuteModule) encode(w *writer) {
	w.i32(p.RocketID)
	w.i32(p.PartID)
	w.stamp(p.WorldTime, p.Untimed)
	w.i32(int32(p.State))
	w.i32(int32(p.TargetState))
}

func (p *UpdateParachuteModule) decode(r *reader) {
	p.RocketID = r.i32()
	p.PartID = r.i32()
	p.WorldTime, p.Untimed = r.stamp()
	p.State = core.ParachuteState(r.i32())
	p.TargetState = core.ParachuteState(r.i32())
}

// UpdateMoveModule carries the animation position of a moving part (hinges, legs).
type UpdateMoveModule struct {
	RocketID   int32
	PartID     int32
	WorldTime  float64
	Untimed    bool
	Time       float32
	TargetTime float32
}

func (*UpdateMoveModule) Type() PacketType             { return TypeUpdateMoveModule }
func (p *UpdateMoveModule) Rocket() int32              { return p.RocketID }
func (p *UpdateMoveModule) Timestamp() (float64, bool) { return p.WorldTime, !p.Untimed }

func (p *UpdateMoveModule) encode(w *writer) {
	w.i32(p.RocketID)
	w.i32(p.PartID)
	w.stamp(p.WorldTime, p.Untimed)
	w.f32(p.Time)
	w.f32(p.TargetTime)
}

func (p *UpdateMoveModule) decode(r *reader) {
	p.RocketID = r.i32()
	p.PartID = r.i32()
	p.WorldTime, p.Untimed = r.stamp()
	p.Time = r.f32()
	p.TargetTime = r.f32()
}

// UpdateResourceModule sets the fill level of a connected resource group.
type UpdateResourceModule struct {
	RocketID        int32
	WorldTime       float64
	Untimed         bool
	PartIDs         []int32
	ResourcePercent float64
}

func (*UpdateResourceModule) Type() PacketType             { return TypeUpdateResourceModule }
func (p *UpdateResourceModule) Rocket() int32              { return p.RocketID }
func (p *UpdateResourceModule) Timestamp() (float64, bool) { return p.WorldTime, !p.Untimed }

func (p *UpdateResourceModule) encode(w *writer) {
	w.i32(p.RocketID)
	w.stamp(p.WorldTime, p.Untimed)
	w.i32s(p.PartIDs)
	w.f64(p.ResourcePercent)
}

func (p *UpdateResourceModule) decode(r *reader) {
	p.RocketID = r.i32()
	p.WorldTime, p.Untimed = r.stamp()
	p.PartIDs = r.i32s()
	p.ResourcePercent = r.f64()
}

// UpdateWorldTime resynchronizes client clocks.
type UpdateWorldTime struct {
	WorldTime float64
}

func (*UpdateWorldTime) Type() PacketType { return TypeUpdateWorldTime }

func (p *UpdateWorldTime) encode(w *writer) { w.f64(p.WorldTime) }

func (p *UpdateWorldTime) decode(r *reader) { p.WorldTime = r.f64() }
