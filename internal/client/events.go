package client

import (
	"errors"
	"fmt"

	"github.com/rocketsync/rocketsync/internal/world"
	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rocketsync/rocketsync/pkg/protocol"
)

var (
	// ErrNoAuthority is returned when the host reports a change on a rocket
	// another node simulates. Nothing is published.
	ErrNoAuthority = errors.New("no authority over rocket")
	// ErrNotModule is returned by ModuleChanged for packets that are not module updates.
	ErrNotModule = errors.New("not a module update")
)

// RocketCreated registers a rocket the host just spawned (launch, undock,
// split) and asks the server for a global id. The host keeps the instance
// under the returned local id until Rekey moves it.
func (c *ClientState) RocketCreated(state *core.RocketState) (int32, error) {
	if state == nil {
		return 0, errors.New("nil rocket state")
	}
	if err := state.Validate(); err != nil {
		return 0, fmt.Errorf("invalid rocket: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return 0, ErrNotConnected
	}
	local, err := c.localIDs.Next()
	if err != nil {
		return 0, err
	}
	c.pending[local] = state.Clone()
	c.send(&protocol.CreateRocket{LocalID: local, Rocket: state})
	return local, nil
}

// RocketDestroyed publishes the loss of a whole rocket.
func (c *ClientState) RocketDestroyed(rocketID int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(rocketID) {
		return ErrNoAuthority
	}
	c.world.DestroyRocket(rocketID)
	c.forget(rocketID)
	c.send(&protocol.DestroyRocket{RocketID: rocketID})
	return nil
}

// PartDestroyed publishes the loss of one part.
func (c *ClientState) PartDestroyed(rocketID, partID int32, explosion bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(rocketID) {
		return ErrNoAuthority
	}
	p := &protocol.DestroyPart{
		RocketID:        rocketID,
		PartID:          partID,
		WorldTime:       c.world.Time(),
		CreateExplosion: explosion,
	}
	if err := c.world.Apply(p); err != nil {
		return err
	}
	c.send(p)
	return nil
}

// StagingChanged publishes the complete stage list of a rocket.
func (c *ClientState) StagingChanged(rocketID int32, stages []core.StageState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(rocketID) {
		return ErrNoAuthority
	}
	p := &protocol.UpdateStaging{
		RocketID:  rocketID,
		WorldTime: c.world.Time(),
		Stages:    core.CloneStages(stages),
	}
	if err := c.world.Apply(p); err != nil {
		return err
	}
	c.send(p)
	return nil
}

// ModuleChanged publishes a module update. Its world time is set to the
// current clock.
func (c *ClientState) ModuleChanged(p protocol.Secondary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(p.Rocket()) {
		return ErrNoAuthority
	}
	if err := stamp(p, c.world.Time()); err != nil {
		return err
	}
	if err := c.world.Apply(p); err != nil {
		return err
	}
	c.send(p)
	return nil
}

func stamp(p protocol.Secondary, t float64) error {
	switch p := p.(type) {
	case *protocol.UpdateEngineModule:
		p.WorldTime, p.Untimed = t, false
	case *protocol.UpdateWheelModule:
		p.WorldTime, p.Untimed = t, false
	case *protocol.UpdateBoosterModule:
		p.WorldTime, p.Untimed = t, false
	case *protocol.UpdateParachuteModule:
		p.WorldTime, p.Untimed = t, false
	case *protocol.UpdateMoveModule:
		p.WorldTime, p.Untimed = t, false
	case *protocol.UpdateResourceModule:
		p.WorldTime, p.Untimed = t, false
	default:
		return fmt.Errorf("%w: %s", ErrNotModule, p.Type())
	}
	return nil
}

// RocketsDocked merges rocket from into rocket into and publishes the
// merged survivor followed by the retirement of from. dock joins part
// dock.A of into with part dock.B of from (its id before the merge); a zero
// joint adds nothing. The old-to-new part id mapping is returned.
func (c *ClientState) RocketsDocked(from, into int32, dock core.JointState) (map[int32]int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.owns(into) {
		return nil, ErrNoAuthority
	}
	if !c.owns(from) {
		c.logger.Debug("docking a rocket simulated elsewhere", "from", from, "into", into)
	}

	mapping, err := c.world.MergeParts(from, into)
	if err != nil {
		return nil, err
	}
	if dock != (core.JointState{}) {
		err := c.world.Update(into, func(r *core.RocketState) error {
			j := core.JointState{A: dock.A, B: mapping[dock.B]}
			if _, ok := r.Parts[j.A]; !ok {
				return fmt.Errorf("%w: docking part %d", world.ErrUnknownPart, dock.A)
			}
			if _, ok := r.Parts[j.B]; !ok {
				return fmt.Errorf("%w: docking part %d", world.ErrUnknownPart, dock.B)
			}
			r.Joints = append(r.Joints, j)
			return nil
		})
		if err != nil {
			c.logger.Warn("docking joint dropped", "from", from, "into", into, "error", err)
		}
	}
	merged, _ := c.world.Rocket(into)
	c.forget(from)

	c.send(&protocol.CreateRocket{GlobalID: into, Rocket: merged})
	c.send(&protocol.DestroyRocket{RocketID: from})
	c.logger.Info("rockets docked", "from", from, "into", into, "parts", len(merged.Parts))
	return mapping, nil
}

// SetControl switches the rocket this player flies. NoRocket releases control.
func (c *ClientState) SetControl(rocketID int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if rocketID != core.NoRocket && !c.world.HasRocket(rocketID) {
		return fmt.Errorf("%w: %d", world.ErrUnknownRocket, rocketID)
	}
	c.controlled = rocketID
	c.send(&protocol.UpdatePlayerControl{PlayerID: c.playerID, RocketID: rocketID})
	return nil
}

func (c *ClientState) owns(rocketID int32) bool {
	_, ok := c.authority[rocketID]
	return ok
}
