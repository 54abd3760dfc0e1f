// Command rocketsync-client joins a rocketsync server as a headless player.
// A ballistic host stands in for the physics engine, which makes the binary
// useful for smoke and load tests.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rocketsync/rocketsync/internal/client"
	"github.com/rocketsync/rocketsync/internal/config"
	"github.com/rocketsync/rocketsync/internal/dispatcher"
	"github.com/rocketsync/rocketsync/internal/extrapolate"
	"github.com/rocketsync/rocketsync/internal/logging"
	"github.com/rocketsync/rocketsync/internal/transport"
	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/spf13/pflag"
)

const serviceName = "rocketsync-client"

// planet is the environment owned rockets fly in and remote rockets are
// dead-reckoned through.
var planet = extrapolate.Planet{
	Mu:          9.72e11,
	Radius:      315000,
	SeaDensity:  1.2,
	ScaleHeight: 5000,
}

type options struct {
	configDir string
	name      string
	server    string
	launch    bool
	fly       bool
	duration  time.Duration
	tick      time.Duration
}

func main() {
	var opts options
	flags := pflag.NewFlagSet(serviceName, pflag.ExitOnError)
	flags.StringVarP(&opts.configDir, "config", "c", ".", "directory containing "+config.FileName)
	flags.StringVarP(&opts.name, "name", "n", "", "player name, overrides client.playerName")
	flags.StringVarP(&opts.server, "server", "s", "", "server url, overrides client.serverUrl")
	flags.BoolVar(&opts.launch, "launch", true, "launch a rocket after joining")
	flags.BoolVar(&opts.fly, "fly", true, "take control of the first rocket this client simulates")
	flags.DurationVar(&opts.duration, "duration", 0, "disconnect after this long; zero runs until interrupted")
	flags.DurationVar(&opts.tick, "tick", 20*time.Millisecond, "physics step")
	_ = flags.Parse(os.Args[1:])

	slogManager := logging.NewSlogManager()
	_ = slogManager.Setup(logging.Options{Service: serviceName, Level: "info"})
	logger := slogManager.Logger()

	if err := config.Load(opts.configDir); err != nil {
		logger.Warn("Failed to load config, using defaults!", "error", err)
	}
	level := config.GetString("logLevel")
	_ = slogManager.Setup(logging.Options{Service: serviceName, Level: level})
	logger = slogManager.Logger()
	defer slogManager.Close()

	cfg := config.GetClientConfig()
	if opts.name != "" {
		cfg.PlayerName = opts.name
	}
	if opts.server != "" {
		cfg.ServerURL = opts.server
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	dl := logging.NewDispatcherLogger(logging.NewZerolog(os.Stderr, level).With().Str("service", serviceName).Logger())
	if err := run(ctx, cfg, opts, logger, dl); err != nil {
		logger.Error("Client stopped", "error", err)
		slogManager.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ClientConfig, opts options, logger *slog.Logger, dl dispatcher.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	host := newBallisticHost(planet, logger)
	c, err := client.New(client.Options{
		Config:         cfg,
		Host:           host,
		Environment:    planet,
		Logger:         logger,
		DispatchLogger: dl,
		OnDisconnect:   func(error) { cancel() },
	})
	if err != nil {
		return err
	}

	resp, err := c.Connect(ctx, transport.Options{PingInterval: time.Second, Logger: logger})
	if err != nil {
		var rejected *transport.RejectedError
		if errors.As(err, &rejected) {
			return fmt.Errorf("server refused join: %s", rejected.Reason)
		}
		return err
	}
	defer c.Close()
	logger.Info("Joined", "player", resp.PlayerID, "difficulty", resp.Difficulty, "worldTime", resp.WorldTime)

	if opts.launch {
		state := launchRocket(cfg.PlayerName+"'s rocket", planet.Radius)
		local, err := c.RocketCreated(state)
		if err != nil {
			return fmt.Errorf("launch: %w", err)
		}
		host.Add(local, state)
		host.SetThrottle(local, true, 1)
		logger.Info("Launched rocket", "local", local)
	}

	return loop(ctx, c, host, opts, logger)
}

// loop steps the host and the client until ctx ends.
func loop(ctx context.Context, c *client.ClientState, host *ballisticHost, opts options, logger *slog.Logger) error {
	step := opts.tick
	if step <= 0 {
		step = 20 * time.Millisecond
	}
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			logStats(logger, c)
			return nil
		case <-report.C:
			logStats(logger, c)
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			owned := c.Authority()
			host.Step(dt, owned)
			if opts.fly && c.Controlled() == core.NoRocket && len(owned) > 0 {
				if err := c.SetControl(owned[0]); err != nil {
					logger.Debug("Could not take control", "rocket", owned[0], "error", err)
				}
			}
			c.Tick(dt)
		}
	}
}

func logStats(logger *slog.Logger, c *client.ClientState) {
	s := c.Stats()
	logger.Info("Client status",
		"worldTime", s.WorldTime,
		"rockets", s.Rockets,
		"authority", s.Authority,
		"pending", s.Pending,
		"packetsIn", s.PacketsIn,
		"packetsOut", s.PacketsOut,
		"packetsRejected", s.PacketsRejected,
		"controlled", c.Controlled())
}
