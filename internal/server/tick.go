package server

import (
	"context"
	"time"

	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rocketsync/rocketsync/pkg/protocol"
)

// Tick runs every periodic duty that is due at now: the world clock, the
// world time broadcast, the full resync and the periodic save.
func (s *ServerState) Tick(now time.Time) {
	s.mu.Lock()
	var snapshot *core.World

	if !s.lastTick.IsZero() && s.anyControl() {
		s.world.AdvanceTime(now.Sub(s.lastTick).Seconds())
	}
	if s.lastTick.IsZero() {
		s.lastTimeSync, s.lastResync, s.lastSave = now, now, now
	}
	s.lastTick = now

	if due(now, s.lastTimeSync, s.cfg.WorldTimeSyncInterval) {
		s.lastTimeSync = now
		s.broadcast(protocol.Encode(&protocol.UpdateWorldTime{WorldTime: s.world.Time()}), 0)
	}
	if due(now, s.lastResync, s.cfg.ResyncInterval) {
		s.lastResync = now
		s.resync()
	}
	if s.store != nil && due(now, s.lastSave, s.cfg.SaveInterval) {
		s.lastSave = now
		snapshot = s.world.Snapshot()
	}
	s.mu.Unlock()

	if snapshot != nil {
		s.save(snapshot)
	}
}

func due(now, last time.Time, interval time.Duration) bool {
	return interval > 0 && now.Sub(last) >= interval
}

func (s *ServerState) anyControl() bool {
	for _, p := range s.players {
		if p.controlled != core.NoRocket {
			return true
		}
	}
	return false
}

// resync re-sends every rocket to every player.
func (s *ServerState) resync() {
	if len(s.players) == 0 {
		return
	}
	for _, id := range s.world.RocketIDs() {
		r, ok := s.world.Rocket(id)
		if !ok {
			continue
		}
		s.broadcast(protocol.Encode(&protocol.CreateRocket{GlobalID: id, Rocket: r}), 0)
	}
	s.logger.Debug("full resync sent", "rockets", s.world.Len(), "players", len(s.players))
}

func (s *ServerState) save(snapshot *core.World) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.SaveWorld(ctx, snapshot); err != nil {
		s.logger.Error("failed to save world", "error", err)
		return
	}
	s.logger.Debug("world saved", "rockets", len(snapshot.Rockets), "worldTime", snapshot.WorldTime)
}

// Run drives Tick until ctx ends, then saves the world and disconnects everyone.
func (s *ServerState) Run(ctx context.Context) error {
	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return nil
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// Shutdown saves the world and closes every connection.
func (s *ServerState) Shutdown() {
	s.mu.Lock()
	players := s.sortedPlayers()
	var snapshot *core.World
	if s.store != nil {
		snapshot = s.world.Snapshot()
	}
	s.mu.Unlock()

	if snapshot != nil {
		s.save(snapshot)
	}
	for _, p := range players {
		_ = p.peer.Close(ReasonShutdown)
	}
}

// Stats returns a performance sample.
func (s *ServerState) Stats() core.Performance {
	s.mu.Lock()
	defer s.mu.Unlock()

	perf := core.Performance{
		Time:             time.Now(),
		WorldTime:        s.world.Time(),
		Players:          len(s.players),
		Rockets:          s.world.Len(),
		Parts:            s.world.PartTotal(),
		PacketsIn:        s.packetsIn.Load(),
		PacketsOut:       s.packetsOut.Load(),
		PacketsRejected:  s.packetsRejected.Load(),
		AuthorityChanges: s.authorityChanges.Load(),
	}
	for _, p := range s.sortedPlayers() {
		perf.PlayerStats = append(perf.PlayerStats, core.PlayerStats{
			PlayerID:   p.id,
			Name:       p.name,
			RTT:        p.peer.RTT(),
			Controlled: p.controlled,
			Authority:  len(p.authority),
		})
	}
	return perf
}
