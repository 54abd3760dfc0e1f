// Package gormstore implements storage.Backend on any gorm dialect. The
// sqlite and postgres backends build on it.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rocketsync/rocketsync/internal/database"
	"github.com/rocketsync/rocketsync/internal/model"
	"github.com/rocketsync/rocketsync/internal/model/convert"
	"github.com/rocketsync/rocketsync/internal/storage"
	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB        *gorm.DB
	WorldName string
	Logger    zerolog.Logger
	// Now stamps saves. Defaults to time.Now.
	Now func() time.Time
}

// Backend stores world slots, sessions and performance rows through gorm.
type Backend struct {
	deps Dependencies
}

// New creates a new GORM storage backend. It owns the DB and closes it on Close.
func New(deps Dependencies) *Backend {
	if deps.WorldName == "" {
		deps.WorldName = "default"
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Backend{deps: deps}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// WorldName returns the slot this backend saves to.
func (b *Backend) WorldName() string {
	return b.deps.WorldName
}

// Init runs schema migration.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend has no database")
	}
	return database.Migrate(b.deps.DB, b.deps.Logger)
}

// Close closes the database.
func (b *Backend) Close() error {
	return database.Close(b.deps.DB)
}

// SaveWorld replaces the slot's world and rockets in one transaction.
func (b *Backend) SaveWorld(ctx context.Context, w *core.World) error {
	gw, err := convert.CoreToWorld(b.deps.WorldName, w)
	if err != nil {
		return err
	}
	rockets := gw.Rockets
	gw.Rockets = nil
	gw.SavedAt = b.deps.Now()

	start := time.Now()
	err = b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.World
		err := tx.Where("name = ?", gw.Name).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&gw).Error; err != nil {
				return fmt.Errorf("failed to insert world: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to find world: %w", err)
		default:
			gw.ID = existing.ID
			if err := tx.Model(&existing).Updates(map[string]any{
				"world_time": gw.WorldTime,
				"difficulty": gw.Difficulty,
				"saved_at":   gw.SavedAt,
			}).Error; err != nil {
				return fmt.Errorf("failed to update world: %w", err)
			}
			if err := tx.Where("world_id = ?", gw.ID).Delete(&model.Rocket{}).Error; err != nil {
				return fmt.Errorf("failed to clear rockets: %w", err)
			}
		}

		if len(rockets) == 0 {
			return nil
		}
		for i := range rockets {
			rockets[i].WorldID = gw.ID
		}
		if err := tx.Create(&rockets).Error; err != nil {
			return fmt.Errorf("failed to insert rockets: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.deps.Logger.Debug().
		Str("world", gw.Name).
		Int("rockets", len(rockets)).
		Dur("duration", time.Since(start)).
		Msg("World saved")
	return nil
}

// LoadWorld reads the slot's world. storage.ErrNoWorld is returned when it was never saved.
func (b *Backend) LoadWorld(ctx context.Context) (*core.World, error) {
	var gw model.World
	err := b.deps.DB.WithContext(ctx).
		Preload("Rockets").
		Where("name = ?", b.deps.WorldName).
		First(&gw).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNoWorld
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load world: %w", err)
	}
	return convert.WorldToCore(gw)
}

// RecordSession inserts a finished session.
func (b *Backend) RecordSession(ctx context.Context, s *core.Session) error {
	row := convert.CoreToSession(*s)
	return b.InsertSessions(ctx, []model.PlayerSession{row})
}

// RecordPerformance inserts a health sample.
func (b *Backend) RecordPerformance(ctx context.Context, p *core.Performance) error {
	row := convert.CoreToPerformance(*p)
	return b.InsertPerformance(ctx, []model.ServerPerformance{row})
}

// InsertSessions writes session rows in one batch.
func (b *Backend) InsertSessions(ctx context.Context, rows []model.PlayerSession) error {
	if len(rows) == 0 {
		return nil
	}
	if err := b.deps.DB.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to insert sessions: %w", err)
	}
	return nil
}

// InsertPerformance writes performance rows in one batch.
func (b *Backend) InsertPerformance(ctx context.Context, rows []model.ServerPerformance) error {
	if len(rows) == 0 {
		return nil
	}
	if err := b.deps.DB.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to insert performance: %w", err)
	}
	return nil
}

// Sessions returns the most recent sessions, newest first.
func (b *Backend) Sessions(ctx context.Context, limit int) ([]core.Session, error) {
	var rows []model.PlayerSession
	if err := b.deps.DB.WithContext(ctx).Order("left_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.Session, len(rows))
	for i, r := range rows {
		out[i] = convert.SessionToCore(r)
	}
	return out, nil
}

// Performance returns samples taken at or after since, oldest first.
func (b *Backend) Performance(ctx context.Context, since time.Time) ([]core.Performance, error) {
	var rows []model.ServerPerformance
	if err := b.deps.DB.WithContext(ctx).Where("time >= ?", since).Order("time ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]core.Performance, len(rows))
	for i, r := range rows {
		out[i] = convert.PerformanceToCore(r)
	}
	return out, nil
}
