// Package monitor samples server statistics on an interval and fans them
// out to the status file, storage, InfluxDB and OpenTelemetry gauges.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rocketsync/rocketsync/pkg/core"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// DefaultInterval is the sampling period when none is configured.
const DefaultInterval = time.Second

// Recorder persists performance samples.
type Recorder interface {
	RecordPerformance(ctx context.Context, p *core.Performance) error
}

// PerformanceWriter exports performance samples, e.g. to InfluxDB.
type PerformanceWriter interface {
	WritePerformance(p core.Performance) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Stats      func() core.Performance
	Recorder   Recorder
	Influx     PerformanceWriter
	Meter      metric.Meter
	StatusPath string
	Interval   time.Duration
	Logger     *slog.Logger
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
	last      core.Performance
}

// NewService creates a new monitor service. Gauges are registered on the
// meter and report the latest sample.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Stats == nil {
		return nil, fmt.Errorf("monitor needs a stats source")
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Meter == nil {
		deps.Meter = noop.Meter{}
	}
	s := &Service{deps: deps}
	if err := s.registerGauges(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) registerGauges() error {
	m := s.deps.Meter
	players, err := m.Int64ObservableGauge("replication.players",
		metric.WithDescription("Connected players"))
	if err != nil {
		return fmt.Errorf("create players gauge: %w", err)
	}
	rockets, err := m.Int64ObservableGauge("replication.rockets",
		metric.WithDescription("Rockets in the world"))
	if err != nil {
		return fmt.Errorf("create rockets gauge: %w", err)
	}
	parts, err := m.Int64ObservableGauge("replication.parts",
		metric.WithDescription("Parts across all rockets"))
	if err != nil {
		return fmt.Errorf("create parts gauge: %w", err)
	}
	worldTime, err := m.Float64ObservableGauge("replication.world_time",
		metric.WithDescription("World clock"), metric.WithUnit("s"))
	if err != nil {
		return fmt.Errorf("create world time gauge: %w", err)
	}

	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		last := s.Last()
		o.ObserveInt64(players, int64(last.Players))
		o.ObserveInt64(rockets, int64(last.Rockets))
		o.ObserveInt64(parts, int64(last.Parts))
		o.ObserveFloat64(worldTime, last.WorldTime)
		return nil
	}, players, rockets, parts, worldTime)
	if err != nil {
		return fmt.Errorf("register gauge callback: %w", err)
	}
	return nil
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Last returns the most recent sample.
func (s *Service) Last() core.Performance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// GetProgramStatus takes a sample and renders it for the status file.
func (s *Service) GetProgramStatus() (output []string, perf core.Performance) {
	perf = s.deps.Stats()

	summary := struct {
		Time             time.Time `json:"time"`
		WorldTime        float64   `json:"worldTime"`
		Players          int       `json:"players"`
		Rockets          int       `json:"rockets"`
		Parts            int       `json:"parts"`
		PacketsIn        uint64    `json:"packetsIn"`
		PacketsOut       uint64    `json:"packetsOut"`
		PacketsRejected  uint64    `json:"packetsRejected"`
		AuthorityChanges uint64    `json:"authorityChanges"`
	}{perf.Time, perf.WorldTime, perf.Players, perf.Rockets, perf.Parts,
		perf.PacketsIn, perf.PacketsOut, perf.PacketsRejected, perf.AuthorityChanges}

	summaryStr, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		summaryStr = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	output = append(output, string(summaryStr))

	for _, ps := range perf.PlayerStats {
		output = append(output, fmt.Sprintf("player %d %q rtt=%s controlled=%d authority=%d",
			ps.PlayerID, ps.Name, ps.RTT.Round(time.Millisecond), ps.Controlled, ps.Authority))
	}

	s.mu.Lock()
	s.last = perf
	s.mu.Unlock()
	return output, perf
}

// Sample takes one sample and writes it to every configured sink.
func (s *Service) Sample(ctx context.Context, statusFile *os.File) {
	logger := s.deps.Logger
	statusStr, perf := s.GetProgramStatus()

	if statusFile != nil {
		if err := writeStatus(statusFile, statusStr); err != nil {
			logger.Error("Error writing status file", "error", err)
		}
	}
	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.RecordPerformance(ctx, &perf); err != nil {
			logger.Error("Error recording performance", "error", err)
		}
	}
	if s.deps.Influx != nil {
		if err := s.deps.Influx.WritePerformance(perf); err != nil {
			logger.Debug("Error writing performance to InfluxDB", "error", err)
		}
	}
}

func writeStatus(f *os.File, lines []string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return nil
}

// Start starts the status monitor goroutine. It stops on Stop or when ctx
// is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	var statusFile *os.File
	if s.deps.StatusPath != "" {
		f, err := os.Create(s.deps.StatusPath)
		if err != nil {
			s.deps.Logger.Error("Error creating status file", "error", err)
		} else {
			statusFile = f
		}
	}

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()
		if statusFile != nil {
			defer statusFile.Close()
		}

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sample(ctx, statusFile)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		done := s.done
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	close(s.stopChan)
	s.isRunning = false
	done := s.done
	s.mu.Unlock()
	<-done
}
