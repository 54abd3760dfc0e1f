// Command rocketsync-server hosts a shared world: it accepts players over
// websockets, relays rocket updates and assigns simulation authority.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rocketsync/rocketsync/internal/config"
	"github.com/rocketsync/rocketsync/internal/influx"
	"github.com/rocketsync/rocketsync/internal/logging"
	"github.com/rocketsync/rocketsync/internal/monitor"
	intOtel "github.com/rocketsync/rocketsync/internal/otel"
	"github.com/rocketsync/rocketsync/internal/server"
	"github.com/rocketsync/rocketsync/internal/storage"
	"github.com/rocketsync/rocketsync/internal/world"
	"github.com/rocketsync/rocketsync/pkg/core"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// BuildDate can be set at build time via ldflags
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

const serviceName = "rocketsync-server"

// app carries the process-wide services every command needs.
type app struct {
	start   time.Time
	logsDir string
	logFile *os.File

	slogManager  *logging.SlogManager
	Logger       *slog.Logger
	zlog         zerolog.Logger
	otelProvider *intOtel.Provider

	// mon is set once serving; the log context reads its latest sample.
	mon atomic.Pointer[monitor.Service]
}

// lastSample reads only the monitor, never server locks: the server logs
// with its mutex held.
func (a *app) lastSample() core.Performance {
	if m := a.mon.Load(); m != nil {
		return m.Last()
	}
	return core.Performance{}
}

func main() {
	flags := pflag.NewFlagSet(serviceName, pflag.ExitOnError)
	configDir := flags.StringP("config", "c", ".", "directory containing "+config.FileName)
	_ = flags.Parse(os.Args[1:])

	a, err := setup(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	args := flags.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd = strings.ToLower(args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = a.serve(ctx)
	case "migratebackups":
		err = a.migrateBackups(ctx)
	case "sessions":
		err = a.printSessions(ctx, os.Stdout)
	default:
		err = fmt.Errorf("unknown command %q (want serve, migratebackups or sessions)", cmd)
	}
	if err != nil {
		a.Logger.Error("Command failed", "command", cmd, "error", err)
		a.close()
		os.Exit(1)
	}
}

// setup loads configuration and builds the logging chain: console, session
// log file, optional otel bridge and optional GELF.
func setup(configDir string) (*app, error) {
	a := &app{
		start:       time.Now(),
		slogManager: logging.NewSlogManager(),
	}
	_ = a.slogManager.Setup(logging.Options{Service: serviceName, Level: "info"})
	a.Logger = a.slogManager.Logger()

	if err := config.Load(configDir); err != nil {
		a.Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		a.Logger.Info("Loaded config", "dir", configDir)
	}

	level := config.GetString("logLevel")
	a.logsDir = config.GetString("logsDir")
	if err := os.MkdirAll(a.logsDir, 0755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}

	logPath := logging.LogFilePath(a.logsDir, serviceName, a.start)
	if _, err := os.Stat(logPath); err == nil {
		_ = os.Rename(logPath, logPath+".old")
	}
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		a.Logger.Error("Failed to create/open log file!", "error", err, "path", logPath)
	} else {
		a.logFile = f
	}

	var fileSink io.Writer
	if a.logFile != nil {
		fileSink = a.logFile
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		a.otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    fileSink,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			a.Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			a.Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if a.otelProvider != nil {
		otelLogProvider = a.otelProvider.LoggerProvider()
	}
	graylogAddress := ""
	if gl := config.GetGraylogConfig(); gl.Enabled {
		graylogAddress = gl.Address
	}

	err = a.slogManager.Setup(logging.Options{
		Service:        serviceName,
		Level:          level,
		File:           fileSink,
		Provider:       otelLogProvider,
		GraylogAddress: graylogAddress,
		Context: logging.WorldContext(
			func() int { return a.lastSample().Players },
			func() int { return a.lastSample().Rockets },
			func() float64 { return a.lastSample().WorldTime },
		),
	})
	a.Logger = a.slogManager.Logger()
	if err != nil {
		a.Logger.Warn("Graylog sink disabled", "error", err)
	}

	zsink := io.Writer(os.Stdout)
	if fileSink != nil {
		zsink = fileSink
	}
	a.zlog = logging.NewZerolog(zsink, level).With().Str("service", serviceName).Logger()

	a.Logger.Info("Starting up", "version", Version, "buildDate", BuildDate, "logFile", logPath)
	return a, nil
}

func (a *app) meter(name string) metric.Meter {
	if a.otelProvider != nil {
		return a.otelProvider.Meter(name)
	}
	return otel.Meter(name)
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.otelProvider != nil {
		if err := a.otelProvider.Shutdown(ctx); err != nil {
			a.Logger.Error("Failed to shut down OTel provider", "error", err)
		}
		a.otelProvider = nil
	}
	if a.slogManager != nil {
		_ = a.slogManager.Close()
		a.slogManager = nil
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
}

// serve runs the replication server until ctx is cancelled, then saves the
// world and releases storage.
func (a *app) serve(ctx context.Context) error {
	cfg := config.GetServerConfig()
	storageCfg := config.GetStorageConfig()

	backend, err := createStorageBackend(storageCfg, config.GetDBConfig(), a.start, a.zlog)
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	a.Logger.Info("Storage backend initialized", "type", storageCfg.Type, "world", storageCfg.WorldName)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := storage.Flush(flushCtx, backend); err != nil {
			a.Logger.Error("Failed to flush storage", "error", err)
		}
		if err := backend.Close(); err != nil {
			a.Logger.Error("Failed to close storage", "error", err)
		}
	}()

	w, err := restoreWorld(ctx, backend, cfg.Difficulty, a.zlog)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Config:         cfg,
		World:          w,
		Store:          backend,
		Logger:         a.Logger,
		DispatchLogger: logging.NewDispatcherLogger(a.zlog),
	})
	if err != nil {
		return err
	}

	var perfWriter monitor.PerformanceWriter
	if influxCfg := config.GetInfluxConfig(); influxCfg.Enabled {
		backup := filepath.Join(a.logsDir, fmt.Sprintf("influx_%s.lp.gz", a.start.Format("20060102_150405")))
		im := influx.NewManager(a.zlog, backup)
		im.Tags["world"] = storageCfg.WorldName
		if err := im.Connect(ctx, influxCfg); err != nil {
			a.Logger.Error("Failed to set up InfluxDB", "error", err)
		} else {
			perfWriter = im
			defer func() {
				if err := im.Close(); err != nil {
					a.Logger.Error("Failed to close InfluxDB", "error", err)
				}
			}()
		}
	}

	mon, err := monitor.NewService(monitor.Dependencies{
		Stats:      srv.Stats,
		Recorder:   backend,
		Influx:     perfWriter,
		Meter:      a.meter("github.com/rocketsync/rocketsync/internal/monitor"),
		StatusPath: filepath.Join(a.logsDir, "status.txt"),
		Interval:   cfg.StatusInterval,
		Logger:     a.Logger,
	})
	if err != nil {
		return err
	}
	if err := mon.Start(ctx); err != nil {
		return err
	}
	a.mon.Store(mon)
	defer func() {
		a.mon.Store(nil)
		mon.Stop()
	}()

	mux := http.NewServeMux()
	mux.Handle("/ws", srv.Handler())
	httpSrv := &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info("Listening", "address", cfg.Address, "path", "/ws")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		if err := <-serveErr; err != nil {
			a.Logger.Error("HTTP server failed", "error", err)
			cancelRun()
		}
	}()

	// Run saves the world and disconnects players when runCtx ends.
	if err := srv.Run(runCtx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	a.Logger.Info("Server stopped", "rockets", w.Len(), "worldTime", w.Time())
	return nil
}

// restoreWorld loads the saved slot into a fresh world. A missing slot
// starts empty; rockets that fail validation are dropped with a warning.
func restoreWorld(ctx context.Context, backend storage.Backend, difficulty string, log zerolog.Logger) (*world.World, error) {
	w := world.New(difficulty, server.ServerEpoch)

	snap, err := backend.LoadWorld(ctx)
	if errors.Is(err, storage.ErrNoWorld) {
		log.Info().Msg("No saved world, starting empty")
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load world: %w", err)
	}

	if err := w.Restore(snap); err != nil {
		log.Warn().Err(err).Msg("Some rockets could not be restored")
	}
	log.Info().Int("rockets", w.Len()).Float64("worldTime", w.Time()).Msg("World restored")
	return w, nil
}
