package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rocketsync/rocketsync/internal/config"
	"github.com/rocketsync/rocketsync/internal/logging"
	"github.com/rocketsync/rocketsync/internal/server"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_LaunchesAndFlies(t *testing.T) {
	srv, err := server.New(server.Options{
		Config: config.ServerConfig{
			MaxPlayers:   2,
			Difficulty:   "normal",
			LoadRange:    1e7,
			UpdatePeriod: 20 * time.Millisecond,
			TickInterval: 10 * time.Millisecond,
		},
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	srvCtx, stopSrv := context.WithCancel(context.Background())
	defer stopSrv()
	go func() { _ = srv.Run(srvCtx) }()

	cfg := config.ClientConfig{
		ServerURL:         "ws" + strings.TrimPrefix(ts.URL, "http"),
		PlayerName:        "tester",
		PresentationDelay: 50 * time.Millisecond,
	}
	opts := options{launch: true, fly: true, tick: 10 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, opts, quietLogger(), logging.NewDispatcherLogger(zerolog.Nop()))
	}()

	w := srv.World()
	require.Eventually(t, func() bool { return w.Len() == 1 }, 3*time.Second, 10*time.Millisecond)
	id := w.RocketIDs()[0]

	// the client owns the rocket and publishes its climb
	require.Eventually(t, func() bool {
		r, ok := w.Rocket(id)
		return ok && r.Location.Position.Y() > planet.Radius+10.5
	}, 3*time.Second, 10*time.Millisecond)

	r, _ := w.Rocket(id)
	assert.Equal(t, "tester's rocket", r.Name)
	assert.Greater(t, w.Time(), 0.0, "world clock runs while the client flies")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("client did not stop")
	}
}

func TestRun_Rejected(t *testing.T) {
	srv, err := server.New(server.Options{
		Config: config.ServerConfig{MaxPlayers: 2, Password: "secret", UpdatePeriod: 20 * time.Millisecond},
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg := config.ClientConfig{
		ServerURL:  "ws" + strings.TrimPrefix(ts.URL, "http"),
		PlayerName: "tester",
		Password:   "wrong",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = run(ctx, cfg, options{}, quietLogger(), logging.NewDispatcherLogger(zerolog.Nop()))
	assert.ErrorContains(t, err, "incorrect password")
}
