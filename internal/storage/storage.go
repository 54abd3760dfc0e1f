// Package storage defines the persistence contract of the server: saved
// world slots, session history and health samples.
package storage

import (
	"context"
	"errors"

	"github.com/rocketsync/rocketsync/pkg/core"
)

// ErrNoWorld is returned by LoadWorld when the slot was never saved.
var ErrNoWorld = errors.New("no saved world")

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// World slot
	SaveWorld(ctx context.Context, w *core.World) error
	LoadWorld(ctx context.Context) (*core.World, error)

	// History
	RecordSession(ctx context.Context, s *core.Session) error
	RecordPerformance(ctx context.Context, p *core.Performance) error
}

// Flusher is implemented by backends that buffer writes.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Flush writes buffered data if the backend buffers any.
func Flush(ctx context.Context, b Backend) error {
	if f, ok := b.(Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}
