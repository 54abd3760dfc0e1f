package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Options selects the sinks of a SlogManager.
type Options struct {
	// Service names the otel logger and is attached to GELF messages.
	Service string
	Level   string
	// Console defaults to os.Stdout.
	Console io.Writer
	// File receives the session log. Nil disables it.
	File io.Writer
	// Provider enables the otel bridge.
	Provider *sdklog.LoggerProvider
	// GraylogAddress enables a GELF sink over UDP when set.
	GraylogAddress string
	// Context adds live attributes to every record.
	Context ContextProvider
}

// SlogManager manages slog-based logging with optional OTel integration.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider
	gelf        *gelf.Writer
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup builds the handler chain. A Graylog address that cannot be resolved
// is reported and the other sinks still work.
func (m *SlogManager) Setup(opts Options) error {
	lvl := parseLevel(opts.Level)
	m.logProvider = opts.Provider

	// Common handler options with RFC3339 time formatting
	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	handlers := []slog.Handler{slog.NewTextHandler(console, handlerOpts)}

	if opts.File != nil {
		handlers = append(handlers, slog.NewTextHandler(opts.File, handlerOpts))
	}

	if opts.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler(opts.Service, otelslog.WithLoggerProvider(opts.Provider)))
	}

	var gelfErr error
	if opts.GraylogAddress != "" {
		w, err := gelf.NewWriter(opts.GraylogAddress)
		if err != nil {
			gelfErr = fmt.Errorf("creating gelf writer: %w", err)
		} else {
			w.Facility = opts.Service
			m.gelf = w
			handlers = append(handlers, slog.NewJSONHandler(w, handlerOpts))
		}
	}

	var h slog.Handler = NewMultiHandler(handlers...)
	if opts.Context != nil {
		h = NewContextHandler(h, opts.Context)
	}

	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", opts.Level, "graylog", m.gelf != nil)
	return gelfErr
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// Close releases the GELF connection.
func (m *SlogManager) Close() error {
	if m.gelf != nil {
		return m.gelf.Close()
	}
	return nil
}
