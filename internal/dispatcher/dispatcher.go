// Package dispatcher routes decoded packets to their handlers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rocketsync/rocketsync/pkg/protocol"
)

// ErrNoHandler is returned for a packet type without a registered handler.
var ErrNoHandler = errors.New("no handler")

// Event is one inbound packet.
type Event struct {
	Packet    protocol.Packet
	Sender    int32
	Raw       []byte
	Timestamp time.Time
}

// Type returns the packet tag.
func (e Event) Type() protocol.PacketType {
	return e.Packet.Type()
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	logged bool
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes events to registered handlers. Handlers run on the
// caller's goroutine, so packets are handled in arrival order.
type Dispatcher struct {
	handlers map[protocol.PacketType]HandlerFunc
	logger   Logger

	processed metric.Int64Counter
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[protocol.PacketType]HandlerFunc),
		logger:   logger,
	}

	var err error
	d.processed, err = meter().Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total packets handled, by packet type and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given packet type with optional configuration.
// Registration is not safe to call concurrently with Dispatch.
func (d *Dispatcher) Register(typ protocol.PacketType, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h
	if cfg.logged {
		handler = d.withLogging(typ, handler)
	}

	d.handlers[typ] = handler
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) error {
	if e.Packet == nil {
		return fmt.Errorf("%w: nil packet", ErrNoHandler)
	}
	h, ok := d.handlers[e.Type()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, e.Type())
	}
	err := h(e)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	d.processed.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("packet", e.Type().String()),
		attribute.String("outcome", outcome),
	))
	return err
}

// DispatchRaw decodes a message from sender and dispatches it.
// Decode failures wrap the protocol package errors.
func (d *Dispatcher) DispatchRaw(sender int32, raw []byte) error {
	p, err := protocol.Decode(raw)
	if err != nil {
		return err
	}
	return d.Dispatch(Event{Packet: p, Sender: sender, Raw: raw, Timestamp: time.Now()})
}

// HasHandler returns true if a handler is registered for the packet type.
func (d *Dispatcher) HasHandler(typ protocol.PacketType) bool {
	_, ok := d.handlers[typ]
	return ok
}

func (d *Dispatcher) withLogging(typ protocol.PacketType, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling packet", "packet", typ.String(), "sender", e.Sender, "bytes", len(e.Raw))

		err := h(e)

		if err != nil {
			d.logger.Error("packet failed", "packet", typ.String(), "sender", e.Sender, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("packet complete", "packet", typ.String(), "duration", time.Since(start))
		}

		return err
	}
}
