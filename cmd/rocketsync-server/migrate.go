package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rocketsync/rocketsync/internal/config"
	"github.com/rocketsync/rocketsync/internal/database"
	"github.com/rocketsync/rocketsync/internal/model"
	"github.com/rocketsync/rocketsync/internal/model/convert"
	"github.com/rocketsync/rocketsync/internal/storage"
	"github.com/rocketsync/rocketsync/internal/storage/gormstore"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// migrateBackups copies every sqlite dump of the configured world into
// postgres and renames migrated files to *.migrated.
func (a *app) migrateBackups(ctx context.Context) error {
	storageCfg := config.GetStorageConfig()
	pg, err := database.OpenPostgres(config.GetDBConfig(), a.zlog)
	if err != nil {
		return fmt.Errorf("error getting postgres database: %w", err)
	}
	defer database.Close(pg)
	if err := database.Migrate(pg, a.zlog); err != nil {
		return err
	}

	migrated, err := migrateSqliteDumps(ctx, pg, storageCfg.SQLite.DumpDir, storageCfg.WorldName, a.zlog)
	if err != nil {
		return err
	}
	a.Logger.Info("Successfully migrated backups, it's recommended to delete these to avoid future data duplication",
		"count", len(migrated),
		"paths", migrated)
	return nil
}

// migrateSqliteDumps copies the dumps oldest first so the newest world wins.
// Each dump is moved in one transaction.
func migrateSqliteDumps(ctx context.Context, dst *gorm.DB, dumpDir, worldName string, log zerolog.Logger) ([]string, error) {
	paths, err := database.GetBackupDBPaths(dumpDir, worldName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting backup database paths: %w", err)
	}

	successful := make([]string, 0, len(paths))
	for _, path := range paths {
		if err := migrateSqliteDump(ctx, dst, path, worldName, log); err != nil {
			return successful, fmt.Errorf("error migrating %s: %w", path, err)
		}
		if err := os.Rename(path, path+".migrated"); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Error renaming sqlite file")
		}
		successful = append(successful, path)
	}
	return successful, nil
}

func migrateSqliteDump(ctx context.Context, dst *gorm.DB, path, worldName string, log zerolog.Logger) error {
	srcDB, err := database.OpenSqlite(path)
	if err != nil {
		return fmt.Errorf("error getting sqlite database: %w", err)
	}
	defer database.Close(srcDB)
	src := gormstore.New(gormstore.Dependencies{DB: srcDB, WorldName: worldName, Logger: log})

	w, err := src.LoadWorld(ctx)
	if err != nil && !errors.Is(err, storage.ErrNoWorld) {
		return err
	}
	sessions, err := src.Sessions(ctx, -1)
	if err != nil {
		return err
	}
	perf, err := src.Performance(ctx, time.Time{})
	if err != nil {
		return err
	}

	// transaction so a failed dump leaves postgres untouched
	return dst.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target := gormstore.New(gormstore.Dependencies{DB: tx, WorldName: worldName, Logger: log})
		if w != nil {
			if err := target.SaveWorld(ctx, w); err != nil {
				return err
			}
		}

		sessionRows := make([]model.PlayerSession, len(sessions))
		for i, s := range sessions {
			sessionRows[i] = convert.CoreToSession(s)
		}
		if err := target.InsertSessions(ctx, sessionRows); err != nil {
			return err
		}

		perfRows := make([]model.ServerPerformance, len(perf))
		for i, p := range perf {
			perfRows[i] = convert.CoreToPerformance(p)
		}
		if err := target.InsertPerformance(ctx, perfRows); err != nil {
			return err
		}

		log.Info().Str("path", path).Int("sessions", len(sessions)).Int("samples", len(perf)).
			Bool("world", w != nil).Msg("Migrated sqlite dump")
		return nil
	})
}

// printSessions lists recent player sessions from a database backend.
func (a *app) printSessions(ctx context.Context, out io.Writer) error {
	storageCfg := config.GetStorageConfig()

	var db *gorm.DB
	var err error
	switch storageCfg.Type {
	case "postgres":
		db, err = database.OpenPostgres(config.GetDBConfig(), a.zlog)
	case "sqlite":
		path := storageCfg.SQLite.Path
		if path == "" {
			paths, perr := database.GetBackupDBPaths(storageCfg.SQLite.DumpDir, storageCfg.WorldName)
			if perr != nil || len(paths) == 0 {
				return fmt.Errorf("no sqlite dump found in %s", storageCfg.SQLite.DumpDir)
			}
			path = paths[len(paths)-1]
		}
		db, err = database.OpenSqlite(path)
	default:
		return fmt.Errorf("session history needs a sqlite or postgres backend, have %q", storageCfg.Type)
	}
	if err != nil {
		return err
	}
	defer database.Close(db)

	store := gormstore.New(gormstore.Dependencies{DB: db, WorldName: storageCfg.WorldName, Logger: a.zlog})
	return writeSessions(ctx, store, out, 50)
}

func writeSessions(ctx context.Context, store *gormstore.Backend, out io.Writer, limit int) error {
	sessions, err := store.Sessions(ctx, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAYER\tNAME\tADDRESS\tJOINED\tDURATION\tRTT\tREASON")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.PlayerID, s.PlayerName, s.Address,
			s.JoinedAt.UTC().Format(time.RFC3339),
			s.LeftAt.Sub(s.JoinedAt).Round(time.Second),
			s.LastRTT.Round(time.Millisecond),
			s.Reason)
	}
	return tw.Flush()
}
