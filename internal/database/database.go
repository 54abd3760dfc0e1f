// Package database opens the gorm connections used by the sql storage
// backends and manages the sqlite disk dumps.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rocketsync/rocketsync/internal/config"
	"github.com/rocketsync/rocketsync/internal/model"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePragmas tune sqlite for a single writer that can lose its in-flight
// data on a crash; the periodic dump is the durable copy.
var sqlitePragmas = []string{
	"PRAGMA user_version = 1;",
	"PRAGMA journal_mode = MEMORY;",
	"PRAGMA synchronous = OFF;",
	"PRAGMA cache_size = -32000;",
	"PRAGMA temp_store = MEMORY;",
	"PRAGMA foreign_keys = ON;",
}

// PostgresDSN builds a libpq connection string.
func PostgresDSN(cfg config.DBConfig) string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
	)
}

// OpenPostgres connects to postgres and validates the connection.
func OpenPostgres(cfg config.DBConfig, log zerolog.Logger) (*gorm.DB, error) {
	log.Debug().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Connecting to Postgres DB")

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  PostgresDSN(cfg),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to validate connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)

	log.Info().Msg("Connected to Postgres DB")
	return db, nil
}

// OpenSqlite opens a sqlite database. An empty path creates a private
// in-memory database that lives until the returned DB is closed.
func OpenSqlite(path string) (*gorm.DB, error) {
	dsn := path
	if dsn == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        500,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	// one connection keeps the in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB, log zerolog.Logger) error {
	log.Info().Str("dialect", db.Name()).Msg("Migrating schema")
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.Info().Msg("Database setup complete")
	return nil
}

// Close closes the underlying sql connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DumpMemoryDBToDisk vacuums the database into a disk file, replacing any previous dump.
func DumpMemoryDBToDisk(db *gorm.DB, sqliteFilePath string) error {
	if sqliteFilePath == "" {
		return fmt.Errorf("sqlite file path not set")
	}
	if err := os.MkdirAll(filepath.Dir(sqliteFilePath), 0755); err != nil {
		return fmt.Errorf("error creating dump directory: %w", err)
	}

	// VACUUM INTO refuses to overwrite, so dump next to the target and swap
	tmp := sqliteFilePath + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error removing stale dump: %w", err)
	}
	if err := db.Exec("VACUUM INTO ?;", "file:"+tmp).Error; err != nil {
		return fmt.Errorf("error dumping memory DB to disk: %w", err)
	}
	if err := os.Rename(tmp, sqliteFilePath); err != nil {
		return fmt.Errorf("error replacing DB file: %w", err)
	}
	return nil
}

// DumpPath names the dump file of a world slot.
func DumpPath(dir, worldName string, start time.Time) string {
	name := strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(worldName)
	return filepath.Join(dir, fmt.Sprintf("rocketsync_%s_%s.db", name, start.Format("20060102_150405")))
}

// GetBackupDBPaths returns the dump files of a world slot in dir, oldest first.
func GetBackupDBPaths(dir, worldName string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	prefix := strings.TrimSuffix(filepath.Base(DumpPath(dir, worldName, time.Time{})), "00010101_000000.db")
	var dbPaths []string
	for _, file := range files {
		name := file.Name()
		stamp, ok := strings.CutPrefix(name, prefix)
		if !file.IsDir() && ok && len(stamp) == len("20060102_150405.db") && strings.HasSuffix(stamp, ".db") {
			dbPaths = append(dbPaths, filepath.Join(dir, name))
		}
	}
	sort.Strings(dbPaths)
	return dbPaths, nil
}
