package client

import (
	"maps"
	"slices"

	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rocketsync/rocketsync/pkg/protocol"
)

// Tick advances the client by dt seconds of simulation: the world clock,
// playback of remote rockets and, once per update period, publishing of the
// rockets this client simulates.
func (c *ClientState) Tick(dt float64) {
	if dt <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.anyControl() {
		c.world.AdvanceTime(dt)
	}
	now := c.world.Time()
	c.reconciler.Tick(now)

	if c.conn == nil || c.updatePeriod <= 0 {
		return
	}
	c.accumulator += dt
	if c.accumulator < c.updatePeriod {
		return
	}
	for c.accumulator >= c.updatePeriod {
		c.accumulator -= c.updatePeriod
	}
	c.publish(now)
}

// The server only runs the world clock while someone flies.
func (c *ClientState) anyControl() bool {
	if c.controlled != core.NoRocket {
		return true
	}
	for _, p := range c.players {
		if p.Controlled != core.NoRocket {
			return true
		}
	}
	return false
}

// publish sends motion for every owned rocket and pilot input where it
// changed since the last publish.
func (c *ClientState) publish(now float64) {
	for _, id := range slices.Sorted(maps.Keys(c.authority)) {
		live, ok := c.host.LiveMotion(id)
		if !ok {
			continue
		}
		primary := &protocol.UpdateRocketPrimary{
			RocketID:        id,
			WorldTime:       now,
			Frame:           live.Frame,
			Position:        live.Position,
			Velocity:        live.Velocity,
			Rotation:        live.Rotation,
			AngularVelocity: live.AngularVelocity,
		}
		if err := c.world.Apply(primary); err != nil {
			c.logger.Debug("owned rocket missing from mirror", "rocket", id, "error", err)
			continue
		}
		c.send(primary)

		d, ok := c.host.LiveDiscrete(id)
		if !ok {
			continue
		}
		if last, sent := c.published[id]; sent && last == d {
			continue
		}
		c.published[id] = d
		secondary := &protocol.UpdateRocketSecondary{
			RocketID:        id,
			WorldTime:       now,
			ThrottleOn:      d.ThrottleOn,
			ThrottlePercent: d.ThrottlePercent,
			RCS:             d.RCS,
			Controls:        d.Controls,
		}
		if err := c.world.Apply(secondary); err != nil {
			c.logger.Warn("pilot input not applied to mirror", "rocket", id, "error", err)
			delete(c.published, id)
			continue
		}
		c.send(secondary)
	}
}
