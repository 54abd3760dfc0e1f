// Package memory keeps sessions and health samples in memory and writes the
// world slot to a snapshot file on every save.
package memory

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rocketsync/rocketsync/internal/config"
	"github.com/rocketsync/rocketsync/internal/storage"
	"github.com/rocketsync/rocketsync/pkg/core"
)

// DefaultHistory bounds the sessions and samples kept in memory.
const DefaultHistory = 10000

// Backend stores history in memory and the world on disk.
type Backend struct {
	cfg       config.MemoryConfig
	worldName string
	history   int

	world       *core.World
	sessions    []core.Session
	performance []core.Performance
	lastPath    string

	mu sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig, worldName string) *Backend {
	if worldName == "" {
		worldName = "default"
	}
	return &Backend{
		cfg:       cfg,
		worldName: worldName,
		history:   DefaultHistory,
	}
}

// Init creates the output directory.
func (b *Backend) Init() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	return os.MkdirAll(b.cfg.OutputDir, 0755)
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// SaveWorld keeps a copy and writes it to the slot's snapshot file.
func (b *Backend) SaveWorld(_ context.Context, w *core.World) error {
	snap := w.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.world = snap
	if b.cfg.OutputDir == "" {
		return nil
	}
	path := snapshotPath(b.cfg.OutputDir, b.worldName, b.cfg.CompressOutput)
	if err := writeSnapshot(path, b.worldName, snap, time.Now()); err != nil {
		return err
	}
	b.lastPath = path
	return nil
}

// LoadWorld returns the last saved world, reading the snapshot file when
// nothing was saved during this run. A compressed snapshot wins over a
// plain one.
func (b *Backend) LoadWorld(_ context.Context) (*core.World, error) {
	b.mu.RLock()
	w := b.world
	b.mu.RUnlock()
	if w != nil {
		return w.Clone(), nil
	}
	if b.cfg.OutputDir == "" {
		return nil, storage.ErrNoWorld
	}

	for _, compressed := range []bool{true, false} {
		w, err := readSnapshot(snapshotPath(b.cfg.OutputDir, b.worldName, compressed))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	return nil, storage.ErrNoWorld
}

// RecordSession appends a finished session.
func (b *Backend) RecordSession(_ context.Context, s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = appendBounded(b.sessions, *s, b.history)
	return nil
}

// RecordPerformance appends a health sample.
func (b *Backend) RecordPerformance(_ context.Context, p *core.Performance) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.performance = appendBounded(b.performance, *p, b.history)
	return nil
}

// Sessions returns the recorded sessions, oldest first.
func (b *Backend) Sessions() []core.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.Session, len(b.sessions))
	copy(out, b.sessions)
	return out
}

// Performance returns the recorded samples, oldest first.
func (b *Backend) Performance() []core.Performance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.Performance, len(b.performance))
	copy(out, b.performance)
	return out
}

// SnapshotPath returns the file written by the last save.
func (b *Backend) SnapshotPath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPath
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if over := len(s) - limit; over > 0 {
		s = append(s[:0], s[over:]...)
	}
	return s
}
