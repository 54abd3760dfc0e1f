// Package authority decides which connected player simulates and publishes
// each rocket.
package authority

import (
	"cmp"
	"slices"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/rocketsync/rocketsync/pkg/core"
)

// Player is a connected participant as seen by the allocator.
type Player struct {
	ID         int32
	RTT        time.Duration
	Controlled int32 // core.NoRocket when the player flies nothing
}

// Entity is a rocket's placement.
type Entity struct {
	ID       int32
	Frame    int32
	Position mgl64.Vec2
}

// Input is one reassignment pass.
type Input struct {
	Players  []Player
	Entities []Entity
	// Pins force an entity onto a player, used right after creation so the
	// creator is the first authority.
	Pins      map[int32]int32
	LoadRange float64
}

// Assignment maps player id to the ascending ids of the rockets it owns.
// Every connected player has an entry, possibly empty.
type Assignment map[int32][]int32

// Owner returns the player holding authority over the entity.
func (a Assignment) Owner(entityID int32) (int32, bool) {
	for player, ids := range a {
		if _, ok := slices.BinarySearch(ids, entityID); ok {
			return player, true
		}
	}
	return 0, false
}

type controller struct {
	Player
	anchor Entity
	load   int
}

// Assign computes a fresh assignment. Each entity ends up in at most one set.
func Assign(in Input) Assignment {
	players := slices.Clone(in.Players)
	slices.SortFunc(players, func(a, b Player) int { return cmp.Compare(a.ID, b.ID) })

	out := make(Assignment, len(players))
	connected := make(map[int32]bool, len(players))
	for _, p := range players {
		out[p.ID] = nil
		connected[p.ID] = true
	}

	entities := slices.Clone(in.Entities)
	slices.SortFunc(entities, func(a, b Entity) int { return cmp.Compare(a.ID, b.ID) })
	byID := make(map[int32]Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	var controllers []*controller
	controlledBy := make(map[int32]*controller)
	for _, p := range players {
		if p.Controlled == core.NoRocket {
			continue
		}
		anchor, ok := byID[p.Controlled]
		if !ok {
			continue
		}
		c := &controller{Player: p, anchor: anchor}
		controllers = append(controllers, c)
		if _, taken := controlledBy[p.Controlled]; !taken {
			controlledBy[p.Controlled] = c
		}
	}
	if len(controllers) == 0 {
		return out
	}

	loads := make(map[int32]*controller, len(controllers))
	for _, c := range controllers {
		loads[c.ID] = c
	}
	give := func(playerID, entityID int32) {
		out[playerID] = append(out[playerID], entityID)
		if c, ok := loads[playerID]; ok {
			c.load++
		}
	}

	rangeSq := in.LoadRange * in.LoadRange
	for _, e := range entities {
		if p, ok := in.Pins[e.ID]; ok && connected[p] {
			give(p, e.ID)
			continue
		}
		if c, ok := controlledBy[e.ID]; ok {
			give(c.ID, e.ID)
			continue
		}
		if c := nearest(controllers, e, rangeSq); c != nil {
			give(c.ID, e.ID)
			continue
		}
		give(leastLoaded(controllers).ID, e.ID)
	}
	return out
}

// nearest returns the lowest-RTT controller whose own rocket is in the same
// frame and within range, or nil.
func nearest(controllers []*controller, e Entity, rangeSq float64) *controller {
	var best *controller
	for _, c := range controllers {
		if c.anchor.Frame != e.Frame {
			continue
		}
		d := c.anchor.Position.Sub(e.Position)
		if d.Dot(d) > rangeSq {
			continue
		}
		if best == nil || c.RTT < best.RTT {
			best = c
		}
	}
	return best
}

func leastLoaded(controllers []*controller) *controller {
	return slices.MinFunc(controllers, func(a, b *controller) int {
		if a.load != b.load {
			return cmp.Compare(a.load, b.load)
		}
		if a.RTT != b.RTT {
			return cmp.Compare(a.RTT, b.RTT)
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// Changed reports whether two id sets differ.
func Changed(before, after []int32) bool {
	return !slices.Equal(before, after)
}
