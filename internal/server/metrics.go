package server

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rocketsync/rocketsync/pkg/protocol"
)

const instrumentationName = "github.com/rocketsync/rocketsync/internal/server"

type metrics struct {
	packetsRejected    metric.Int64Counter
	authorityViolation metric.Int64Counter
	reassignments      metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	m := otel.Meter(instrumentationName)
	out := &metrics{}

	var err error
	out.packetsRejected, err = m.Int64Counter(
		"replication.packets.rejected",
		metric.WithDescription("Inbound packets dropped as protocol errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}

	out.authorityViolation, err = m.Int64Counter(
		"replication.authority.violations",
		metric.WithDescription("Updates accepted from players without authority over the rocket"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating violation counter: %w", err)
	}

	out.reassignments, err = m.Int64Counter(
		"replication.authority.reassignments",
		metric.WithDescription("Authority reassignment passes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating reassignment counter: %w", err)
	}

	return out, nil
}

func (m *metrics) rejected(typ protocol.PacketType) {
	m.packetsRejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("packet", typ.String())))
}

func (m *metrics) violation(typ protocol.PacketType) {
	m.authorityViolation.Add(context.Background(), 1, metric.WithAttributes(attribute.String("packet", typ.String())))
}

func (m *metrics) reassigned() {
	m.reassignments.Add(context.Background(), 1)
}

// slogDispatchLogger lets the dispatcher log through slog when no zerolog
// adapter is configured.
type slogDispatchLogger struct {
	l *slog.Logger
}

func (s slogDispatchLogger) Debug(msg string, kv ...any) { s.l.Debug(msg, kv...) }
func (s slogDispatchLogger) Info(msg string, kv ...any)  { s.l.Info(msg, kv...) }
func (s slogDispatchLogger) Error(msg string, kv ...any) { s.l.Error(msg, kv...) }
