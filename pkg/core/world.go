// pkg/core/world.go
package core

import (
	"time"

	"github.com/google/uuid"
)

// World is a point-in-time copy of the replicated world.
type World struct {
	WorldTime  float64
	Difficulty string
	Rockets    map[int32]*RocketState
}

// Clone returns a deep copy of the world.
func (w *World) Clone() *World {
	if w == nil {
		return nil
	}
	c := &World{
		WorldTime:  w.WorldTime,
		Difficulty: w.Difficulty,
		Rockets:    make(map[int32]*RocketState, len(w.Rockets)),
	}
	for id, r := range w.Rockets {
		c.Rockets[id] = r.Clone()
	}
	return c
}

// Session is one player's connection to a server, from join to leave.
type Session struct {
	ID         uuid.UUID
	PlayerID   int32
	PlayerName string
	Address    string
	JoinedAt   time.Time
	LeftAt     time.Time
	LastRTT    time.Duration
	Reason     string
}

// PlayerStats is a per-player snapshot used by monitoring.
type PlayerStats struct {
	PlayerID   int32
	Name       string
	RTT        time.Duration
	Controlled int32
	Authority  int
}

// Performance is a periodic server health sample.
type Performance struct {
	Time             time.Time
	WorldTime        float64
	Players          int
	Rockets          int
	Parts            int
	PacketsIn        uint64
	PacketsOut       uint64
	PacketsRejected  uint64
	AuthorityChanges uint64
	PlayerStats      []PlayerStats
}
