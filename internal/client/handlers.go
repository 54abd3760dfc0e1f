package client

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/rocketsync/rocketsync/internal/dispatcher"
	"github.com/rocketsync/rocketsync/internal/reconcile"
	"github.com/rocketsync/rocketsync/internal/world"
	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rocketsync/rocketsync/pkg/protocol"
)

// ErrUnexpectedPacket is returned for packets a server must never send.
var ErrUnexpectedPacket = errors.New("unexpected packet from server")

// Handlers run with c.mu held.
func (c *ClientState) registerHandlers() {
	c.dispatcher.Register(protocol.TypeJoinRequest, c.handleUnexpected)
	c.dispatcher.Register(protocol.TypeJoinResponse, c.handleUnexpected)

	c.dispatcher.Register(protocol.TypePlayerConnected, c.handlePlayerConnected, dispatcher.Logged())
	c.dispatcher.Register(protocol.TypePlayerDisconnected, c.handlePlayerDisconnected, dispatcher.Logged())
	c.dispatcher.Register(protocol.TypeUpdatePlayerControl, c.handleControl)
	c.dispatcher.Register(protocol.TypeUpdatePlayerAuthority, c.handleAuthority, dispatcher.Logged())
	c.dispatcher.Register(protocol.TypeCreateRocket, c.handleCreateRocket)
	c.dispatcher.Register(protocol.TypeDestroyRocket, c.handleDestroyRocket)
	c.dispatcher.Register(protocol.TypeUpdateRocketPrimary, c.handlePrimary)
	c.dispatcher.Register(protocol.TypeUpdateWorldTime, c.handleWorldTime)

	for _, typ := range []protocol.PacketType{
		protocol.TypeUpdateRocketSecondary,
		protocol.TypeDestroyPart,
		protocol.TypeUpdateStaging,
		protocol.TypeUpdateEngineModule,
		protocol.TypeUpdateWheelModule,
		protocol.TypeUpdateBoosterModule,
		protocol.TypeUpdateParachuteModule,
		protocol.TypeUpdateMoveModule,
		protocol.TypeUpdateResourceModule,
	} {
		c.dispatcher.Register(typ, c.handleSecondary)
	}
}

func (c *ClientState) handleUnexpected(e dispatcher.Event) error {
	return fmt.Errorf("%w: %s", ErrUnexpectedPacket, e.Type())
}

func (c *ClientState) handlePlayerConnected(e dispatcher.Event) error {
	p := e.Packet.(*protocol.PlayerConnected)
	if p.PlayerID == c.playerID {
		return nil
	}
	c.players[p.PlayerID] = &Player{ID: p.PlayerID, Name: p.Name, Controlled: core.NoRocket}
	if p.PrintMessage {
		c.logger.Info("player connected", "player", p.PlayerID, "name", p.Name)
	}
	return nil
}

func (c *ClientState) handlePlayerDisconnected(e dispatcher.Event) error {
	p := e.Packet.(*protocol.PlayerDisconnected)
	if other, ok := c.players[p.PlayerID]; ok {
		c.logger.Info("player disconnected", "player", p.PlayerID, "name", other.Name)
		delete(c.players, p.PlayerID)
	}
	return nil
}

func (c *ClientState) handleControl(e dispatcher.Event) error {
	p := e.Packet.(*protocol.UpdatePlayerControl)
	if p.PlayerID == c.playerID {
		c.controlled = p.RocketID
		return nil
	}
	other, ok := c.players[p.PlayerID]
	if !ok {
		return fmt.Errorf("control change for unknown player %d", p.PlayerID)
	}
	other.Controlled = p.RocketID
	return nil
}

func (c *ClientState) handleAuthority(e dispatcher.Event) error {
	p := e.Packet.(*protocol.UpdatePlayerAuthority)
	next := make(map[int32]struct{}, len(p.RocketIDs))
	for _, id := range p.RocketIDs {
		next[id] = struct{}{}
	}
	for id := range c.authority {
		if _, keep := next[id]; !keep {
			c.reconciler.SetAuthority(id, false)
			delete(c.published, id)
		}
	}
	for id := range next {
		c.reconciler.SetAuthority(id, true)
	}
	c.authority = next
	return nil
}

func (c *ClientState) handleCreateRocket(e dispatcher.Event) error {
	p := e.Packet.(*protocol.CreateRocket)
	if p.GlobalID <= 0 || p.Rocket == nil {
		return fmt.Errorf("create rocket without global id or state")
	}

	if _, ours := c.pending[p.LocalID]; ours && p.LocalID > 0 {
		delete(c.pending, p.LocalID)
		if err := c.world.PutRocket(p.GlobalID, p.Rocket); err != nil {
			return err
		}
		c.host.Rekey(p.LocalID, p.GlobalID)
		c.logger.Debug("rocket got global id", "local", p.LocalID, "rocket", p.GlobalID)
		return nil
	}

	if c.owns(p.GlobalID) {
		// the local simulation is newer than any copy the server holds
		c.logger.Debug("keeping local state of simulated rocket", "rocket", p.GlobalID)
		return nil
	}

	before, existed := c.world.Rocket(p.GlobalID)
	if err := c.world.PutRocket(p.GlobalID, p.Rocket); err != nil {
		return err
	}
	if existed && samePartSet(before, p.Rocket) {
		return nil
	}
	c.host.Spawn(p.GlobalID, p.Rocket.Clone())
	return nil
}

func (c *ClientState) handleDestroyRocket(e dispatcher.Event) error {
	p := e.Packet.(*protocol.DestroyRocket)
	if !c.world.DestroyRocket(p.RocketID) {
		return fmt.Errorf("%w: %d", world.ErrUnknownRocket, p.RocketID)
	}
	c.forget(p.RocketID)
	c.host.Despawn(p.RocketID)
	return nil
}

func (c *ClientState) handlePrimary(e dispatcher.Event) error {
	p := e.Packet.(*protocol.UpdateRocketPrimary)
	if err := c.world.Apply(p); err != nil {
		return err
	}
	c.reconciler.PushPrimary(p)
	return nil
}

func (c *ClientState) handleSecondary(e dispatcher.Event) error {
	p := e.Packet.(protocol.Secondary)
	if _, ok := p.Timestamp(); !ok {
		return fmt.Errorf("%w: %s for rocket %d", reconcile.ErrMissingTimestamp, p.Type(), p.Rocket())
	}
	if err := c.world.Apply(p); err != nil {
		return err
	}
	return c.reconciler.PushSecondary(p)
}

func (c *ClientState) handleWorldTime(e dispatcher.Event) error {
	p := e.Packet.(*protocol.UpdateWorldTime)
	c.world.SetTime(p.WorldTime)
	return nil
}

// forget drops every trace of a rocket that no longer exists.
func (c *ClientState) forget(id int32) {
	c.reconciler.Remove(id)
	delete(c.authority, id)
	delete(c.published, id)
	if c.controlled == id {
		c.controlled = core.NoRocket
	}
}

func samePartSet(a, b *core.RocketState) bool {
	return slices.Equal(slices.Sorted(maps.Keys(a.Parts)), slices.Sorted(maps.Keys(b.Parts)))
}
