package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rocketsync/rocketsync/internal/database"
	"github.com/rocketsync/rocketsync/internal/storage/gormstore"
	sqlitestorage "github.com/rocketsync/rocketsync/internal/storage/sqlite"
	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRocket() *core.RocketState {
	r := core.NewRocketState("Scout")
	r.Parts[1] = core.NewPartState("Capsule")
	return r
}

func testSession(name string, joined time.Time) *core.Session {
	return &core.Session{
		ID:         uuid.New(),
		PlayerID:   1,
		PlayerName: name,
		Address:    "127.0.0.1:5000",
		JoinedAt:   joined,
		LeftAt:     joined.Add(90 * time.Second),
		LastRTT:    35 * time.Millisecond,
		Reason:     "left",
	}
}

// writeDump runs one in-memory sqlite backend and leaves its dump behind.
func writeDump(t *testing.T, dir string, start time.Time, worldTime float64, player string) {
	t.Helper()
	ctx := context.Background()
	b, err := sqlitestorage.New(sqlitestorage.Config{DumpDir: dir, WorldName: "slot", Start: start}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, b.Init())

	w := &core.World{WorldTime: worldTime, Difficulty: "normal", Rockets: map[int32]*core.RocketState{1<<24 | 1: testRocket()}}
	require.NoError(t, b.SaveWorld(ctx, w))
	require.NoError(t, b.RecordSession(ctx, testSession(player, start)))
	require.NoError(t, b.RecordPerformance(ctx, &core.Performance{Time: start, WorldTime: worldTime, Rockets: 1}))
	require.NoError(t, b.Close())
}

func TestMigrateSqliteDumps(t *testing.T) {
	dir := t.TempDir()
	first := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	writeDump(t, dir, first, 100, "jeb")
	writeDump(t, dir, first.Add(time.Hour), 200, "bill")

	dst, err := database.OpenSqlite("")
	require.NoError(t, err)
	defer database.Close(dst)
	require.NoError(t, database.Migrate(dst, zerolog.Nop()))

	ctx := context.Background()
	migrated, err := migrateSqliteDumps(ctx, dst, dir, "slot", zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, migrated, 2)
	for _, p := range migrated {
		assert.FileExists(t, p+".migrated")
		assert.NoFileExists(t, p)
	}

	store := gormstore.New(gormstore.Dependencies{DB: dst, WorldName: "slot", Logger: zerolog.Nop()})
	w, err := store.LoadWorld(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200.0, w.WorldTime, "newest dump wins")
	assert.Len(t, w.Rockets, 1)

	sessions, err := store.Sessions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "bill", sessions[0].PlayerName)

	perf, err := store.Performance(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, perf, 2)

	// nothing left to migrate
	again, err := migrateSqliteDumps(ctx, dst, dir, "slot", zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestMigrateSqliteDumps_MissingDir(t *testing.T) {
	dst, err := database.OpenSqlite("")
	require.NoError(t, err)
	defer database.Close(dst)

	migrated, err := migrateSqliteDumps(context.Background(), dst, filepath.Join(t.TempDir(), "nope"), "slot", zerolog.Nop())
	assert.NoError(t, err)
	assert.Empty(t, migrated)
}

func TestWriteSessions(t *testing.T) {
	db, err := database.OpenSqlite("")
	require.NoError(t, err)
	store := gormstore.New(gormstore.Dependencies{DB: db, Logger: zerolog.Nop()})
	require.NoError(t, store.Init())
	defer store.Close()

	ctx := context.Background()
	joined := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordSession(ctx, testSession("val", joined)))

	var buf bytes.Buffer
	require.NoError(t, writeSessions(ctx, store, &buf, 10))
	out := buf.String()
	assert.Contains(t, out, "PLAYER")
	assert.Contains(t, out, "val")
	assert.Contains(t, out, "2026-01-01T10:00:00Z")
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "35ms")
}
