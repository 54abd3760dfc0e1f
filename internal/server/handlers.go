package server

import (
	"errors"
	"fmt"

	"github.com/rocketsync/rocketsync/internal/dispatcher"
	"github.com/rocketsync/rocketsync/internal/world"
	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rocketsync/rocketsync/pkg/protocol"
)

// ErrUnexpectedPacket is returned for packets a client must never send.
var ErrUnexpectedPacket = errors.New("unexpected packet from client")

// Handlers run with s.mu held: HandlePacket dispatches under the lock.
func (s *ServerState) registerHandlers() {
	for _, typ := range []protocol.PacketType{
		protocol.TypeJoinRequest,
		protocol.TypeJoinResponse,
		protocol.TypePlayerConnected,
		protocol.TypePlayerDisconnected,
		protocol.TypeUpdatePlayerAuthority,
		protocol.TypeUpdateWorldTime,
	} {
		s.dispatcher.Register(typ, s.handleUnexpected)
	}

	s.dispatcher.Register(protocol.TypeUpdatePlayerControl, s.handleControl, dispatcher.Logged())
	s.dispatcher.Register(protocol.TypeCreateRocket, s.handleCreateRocket, dispatcher.Logged())
	s.dispatcher.Register(protocol.TypeDestroyRocket, s.handleDestroyRocket, dispatcher.Logged())
	s.dispatcher.Register(protocol.TypeDestroyPart, s.handleDestroyPart)

	for _, typ := range []protocol.PacketType{
		protocol.TypeUpdateRocketPrimary,
		protocol.TypeUpdateRocketSecondary,
		protocol.TypeUpdateStaging,
		protocol.TypeUpdateEngineModule,
		protocol.TypeUpdateWheelModule,
		protocol.TypeUpdateBoosterModule,
		protocol.TypeUpdateParachuteModule,
		protocol.TypeUpdateMoveModule,
		protocol.TypeUpdateResourceModule,
	} {
		s.dispatcher.Register(typ, s.handleUpdate)
	}
}

func (s *ServerState) handleUnexpected(e dispatcher.Event) error {
	return fmt.Errorf("%w: %s", ErrUnexpectedPacket, e.Type())
}

func (s *ServerState) handleControl(e dispatcher.Event) error {
	p := e.Packet.(*protocol.UpdatePlayerControl)
	sender := s.players[e.Sender]
	if p.RocketID != core.NoRocket && !s.world.HasRocket(p.RocketID) {
		return fmt.Errorf("%w: %d", world.ErrUnknownRocket, p.RocketID)
	}
	if p.PlayerID != e.Sender {
		s.logger.Debug("control change names another player, using sender", "player", e.Sender, "claimed", p.PlayerID)
	}
	sender.controlled = p.RocketID

	s.broadcast(protocol.Encode(&protocol.UpdatePlayerControl{PlayerID: e.Sender, RocketID: p.RocketID}), e.Sender)
	s.reassign()
	return nil
}

func (s *ServerState) handleCreateRocket(e dispatcher.Event) error {
	p := e.Packet.(*protocol.CreateRocket)
	if p.Rocket == nil {
		return fmt.Errorf("create rocket without state")
	}

	if p.GlobalID <= 0 {
		id, err := s.world.CreateRocket(p.Rocket)
		if err != nil {
			return err
		}
		s.pins[id] = e.Sender
		s.logger.Info("rocket created", "rocket", id, "local", p.LocalID, "player", e.Sender, "parts", len(p.Rocket.Parts))

		// Only the creator can resolve its local id.
		s.sendRaw(s.players[e.Sender], protocol.Encode(&protocol.CreateRocket{LocalID: p.LocalID, GlobalID: id, Rocket: p.Rocket}))
		s.broadcast(protocol.Encode(&protocol.CreateRocket{GlobalID: id, Rocket: p.Rocket}), e.Sender)
		s.reassign()
		return nil
	}

	if !s.world.HasRocket(p.GlobalID) {
		return fmt.Errorf("%w: replace of %d", world.ErrUnknownRocket, p.GlobalID)
	}
	s.checkAuthority(e.Sender, p.GlobalID, e.Type())
	if err := s.world.PutRocket(p.GlobalID, p.Rocket); err != nil {
		return err
	}
	s.broadcast(e.Raw, e.Sender)
	return nil
}

func (s *ServerState) handleDestroyRocket(e dispatcher.Event) error {
	p := e.Packet.(*protocol.DestroyRocket)
	s.checkAuthority(e.Sender, p.RocketID, e.Type())
	if !s.destroyRocket(p.RocketID) {
		return fmt.Errorf("%w: %d", world.ErrUnknownRocket, p.RocketID)
	}
	s.broadcast(e.Raw, e.Sender)
	s.reassign()
	return nil
}

func (s *ServerState) handleDestroyPart(e dispatcher.Event) error {
	p := e.Packet.(*protocol.DestroyPart)
	s.checkAuthority(e.Sender, p.RocketID, e.Type())
	if err := s.world.Apply(p); err != nil {
		return err
	}
	s.broadcast(e.Raw, e.Sender)

	if s.world.PartCount(p.RocketID) == 0 {
		s.destroyRocket(p.RocketID)
		s.logger.Info("rocket lost its last part", "rocket", p.RocketID)
		s.broadcast(protocol.Encode(&protocol.DestroyRocket{RocketID: p.RocketID}), 0)
		s.reassign()
	}
	return nil
}

func (s *ServerState) handleUpdate(e dispatcher.Event) error {
	rp := e.Packet.(protocol.RocketPacket)
	s.checkAuthority(e.Sender, rp.Rocket(), e.Type())
	if err := s.world.Apply(e.Packet); err != nil {
		return err
	}
	s.broadcast(e.Raw, e.Sender)
	return nil
}

func (s *ServerState) destroyRocket(id int32) bool {
	if !s.world.DestroyRocket(id) {
		return false
	}
	delete(s.pins, id)
	for _, p := range s.players {
		if p.controlled == id {
			p.controlled = core.NoRocket
		}
	}
	return true
}

// checkAuthority logs updates from a player that does not own the rocket.
// They are still accepted: authority may have moved while the packet was in flight.
func (s *ServerState) checkAuthority(sender, rocketID int32, typ protocol.PacketType) {
	p, ok := s.players[sender]
	if !ok || p.owns(rocketID) || p.controlled == rocketID {
		return
	}
	s.metrics.violation(typ)
	s.logger.Warn("update from non-authoritative player", "player", sender, "rocket", rocketID, "packet", typ.String())
}
