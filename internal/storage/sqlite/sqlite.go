// Package sqlitestorage implements the storage.Backend interface on SQLite.
// With a file path the database lives on disk. Without one it is kept in
// memory, restored from the newest dump on Init and written back with
// VACUUM INTO periodically and on Close.
package sqlitestorage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rocketsync/rocketsync/internal/database"
	"github.com/rocketsync/rocketsync/internal/storage"
	"github.com/rocketsync/rocketsync/internal/storage/gormstore"
	"github.com/rs/zerolog"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	Path         string // file database; empty keeps it in memory
	DumpDir      string // where in-memory dumps go
	DumpInterval time.Duration
	WorldName    string
	Start        time.Time // names this run's dump file
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstore.Backend
	cfg      Config
	log      zerolog.Logger
	dumpPath string
	stopChan chan struct{}
	wg       sync.WaitGroup
	dumpMu   sync.Mutex
}

// New opens the database. Nothing is migrated or restored until Init.
func New(cfg Config, log zerolog.Logger) (*Backend, error) {
	db, err := database.OpenSqlite(cfg.Path)
	if err != nil {
		if cfg.Path == "" {
			return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
		}
		return nil, fmt.Errorf("failed to open SQLite DB %s: %w", cfg.Path, err)
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}

	b := &Backend{
		Backend: gormstore.New(gormstore.Dependencies{
			DB:        db,
			WorldName: cfg.WorldName,
			Logger:    log,
		}),
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
	}
	if cfg.Path == "" && cfg.DumpDir != "" {
		b.dumpPath = database.DumpPath(cfg.DumpDir, b.WorldName(), cfg.Start)
	}
	return b, nil
}

// DumpFile returns the path of this run's dump, empty when not dumping.
func (b *Backend) DumpFile() string {
	return b.dumpPath
}

// Init migrates the schema, restores the newest dump and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	if b.dumpPath == "" {
		return nil
	}

	if err := b.restore(); err != nil {
		b.log.Warn().Err(err).Msg("Could not restore world from dump")
	}
	if b.cfg.DumpInterval > 0 {
		b.wg.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// Close stops the dump goroutine, writes a final dump and closes the database.
func (b *Backend) Close() error {
	select {
	case <-b.stopChan:
	default:
		close(b.stopChan)
	}
	b.wg.Wait()

	var errs []error
	if b.dumpPath != "" {
		errs = append(errs, b.Dump())
	}
	errs = append(errs, b.Backend.Close())
	return errors.Join(errs...)
}

// Flush writes a dump now.
func (b *Backend) Flush(context.Context) error {
	if b.dumpPath == "" {
		return nil
	}
	return b.Dump()
}

// Dump vacuums the in-memory database into this run's dump file.
func (b *Backend) Dump() error {
	b.dumpMu.Lock()
	defer b.dumpMu.Unlock()
	start := time.Now()
	if err := database.DumpMemoryDBToDisk(b.DB(), b.dumpPath); err != nil {
		return err
	}
	b.log.Debug().Dur("duration", time.Since(start)).Str("path", b.dumpPath).Msg("Dumped memory DB to disk")
	return nil
}

// restore copies the world slot out of the newest earlier dump.
func (b *Backend) restore() error {
	paths, err := database.GetBackupDBPaths(b.cfg.DumpDir, b.WorldName())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(paths) == 0 {
		return nil
	}
	latest := paths[len(paths)-1]

	db, err := database.OpenSqlite(latest)
	if err != nil {
		return fmt.Errorf("open dump %s: %w", latest, err)
	}
	dump := gormstore.New(gormstore.Dependencies{DB: db, WorldName: b.WorldName(), Logger: b.log})
	defer dump.Close()

	ctx := context.Background()
	w, err := dump.LoadWorld(ctx)
	if errors.Is(err, storage.ErrNoWorld) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read dump %s: %w", latest, err)
	}
	if err := b.SaveWorld(ctx, w); err != nil {
		return err
	}
	b.log.Info().Str("path", latest).Int("rockets", len(w.Rockets)).Msg("Restored world from dump")
	return nil
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Dump(); err != nil {
				b.log.Error().Err(err).Msg("Error dumping to disk")
			}
		}
	}
}
