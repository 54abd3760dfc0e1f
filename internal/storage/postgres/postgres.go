// Package postgres implements the storage.Backend interface using GORM/PostgreSQL
// with internal queues and a background DB writer goroutine. World saves are
// synchronous; sessions and performance samples are batched.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rocketsync/rocketsync/internal/config"
	"github.com/rocketsync/rocketsync/internal/database"
	"github.com/rocketsync/rocketsync/internal/model"
	"github.com/rocketsync/rocketsync/internal/model/convert"
	"github.com/rocketsync/rocketsync/internal/queue"
	"github.com/rocketsync/rocketsync/internal/storage/gormstore"
	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the postgres storage backend.
type Dependencies struct {
	// DB is used as is when set, otherwise Init connects with Conn.
	DB            *gorm.DB
	Conn          config.DBConfig
	WorldName     string
	FlushInterval time.Duration
	Logger        zerolog.Logger
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Sessions    *queue.Queue[model.PlayerSession]
	Performance *queue.Queue[model.ServerPerformance]
}

func newQueues() *queues {
	return &queues{
		Sessions:    queue.New[model.PlayerSession](),
		Performance: queue.New[model.ServerPerformance](),
	}
}

// Backend implements storage.Backend using GORM/PostgreSQL with queue-based batch writes.
type Backend struct {
	*gormstore.Backend
	deps     Dependencies
	queues   *queues
	stopChan chan struct{}
	wg       sync.WaitGroup
	writeMu  sync.Mutex
}

// New creates a new postgres storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = 2 * time.Second
	}
	return &Backend{
		deps:   deps,
		queues: newQueues(),
	}
}

// Init connects if needed, runs schema migration and starts the DB writer goroutine.
func (b *Backend) Init() error {
	db := b.deps.DB
	if db == nil {
		var err error
		db, err = database.OpenPostgres(b.deps.Conn, b.deps.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}
	b.Backend = gormstore.New(gormstore.Dependencies{
		DB:        db,
		WorldName: b.deps.WorldName,
		Logger:    b.deps.Logger,
	})
	if err := b.Backend.Init(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.wg.Add(1)
	go b.writeLoop()
	return nil
}

// Close stops the writer, drains the queues and closes the database.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	select {
	case <-b.stopChan:
		return nil
	default:
		close(b.stopChan)
	}
	b.wg.Wait()

	err := b.Flush(context.Background())
	return errors.Join(err, b.Backend.Close())
}

// RecordSession converts and queues a finished session.
func (b *Backend) RecordSession(_ context.Context, s *core.Session) error {
	b.queues.Sessions.Push(convert.CoreToSession(*s))
	return nil
}

// RecordPerformance converts and queues a health sample.
func (b *Backend) RecordPerformance(_ context.Context, p *core.Performance) error {
	b.queues.Performance.Push(convert.CoreToPerformance(*p))
	return nil
}

// Pending returns the number of queued rows.
func (b *Backend) Pending() int {
	return b.queues.Sessions.Len() + b.queues.Performance.Len()
}

// Flush writes every queued row now.
func (b *Backend) Flush(ctx context.Context) error {
	if b.Backend == nil {
		return errors.New("postgres backend not initialized")
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return errors.Join(
		writeQueue(ctx, b.queues.Sessions, "sessions", b.deps.Logger, b.InsertSessions),
		writeQueue(ctx, b.queues.Performance, "performance", b.deps.Logger, b.InsertPerformance),
	)
}

// writeQueue writes all items from a queue in one batch. Failed items go back on the queue.
func writeQueue[T any](ctx context.Context, q *queue.Queue[T], name string, log zerolog.Logger, insert func(context.Context, []T) error) error {
	if q.Empty() {
		return nil
	}

	items := q.GetAndEmpty()
	if err := insert(ctx, items); err != nil {
		log.Error().Err(err).Str("queue", name).Int("items", len(items)).Msg("Error writing batch")
		q.Push(items...)
		return err
	}
	log.Trace().Str("queue", name).Int("items", len(items)).Msg("Batch written")
	return nil
}

// writeLoop periodically drains queues into the DB.
func (b *Backend) writeLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			_ = b.Flush(context.Background())
		}
	}
}
