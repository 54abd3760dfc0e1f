package main

import (
	"fmt"
	"time"

	"github.com/rocketsync/rocketsync/internal/config"
	"github.com/rocketsync/rocketsync/internal/storage"
	"github.com/rocketsync/rocketsync/internal/storage/memory"
	pgstorage "github.com/rocketsync/rocketsync/internal/storage/postgres"
	sqlitestorage "github.com/rocketsync/rocketsync/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

// createStorageBackend builds the backend selected by storage.type. Nothing
// is opened or migrated until Init.
func createStorageBackend(cfg config.StorageConfig, db config.DBConfig, start time.Time, log zerolog.Logger) (storage.Backend, error) {
	switch cfg.Type {
	case "postgres":
		return pgstorage.New(pgstorage.Dependencies{
			Conn:          db,
			WorldName:     cfg.WorldName,
			FlushInterval: cfg.Postgres.FlushInterval,
			Logger:        log,
		}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			Path:         cfg.SQLite.Path,
			DumpDir:      cfg.SQLite.DumpDir,
			DumpInterval: cfg.SQLite.DumpInterval,
			WorldName:    cfg.WorldName,
			Start:        start,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		return backend, nil

	case "memory", "":
		return memory.New(cfg.Memory, cfg.WorldName), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
