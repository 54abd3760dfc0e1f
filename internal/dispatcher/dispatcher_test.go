package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/rocketsync/rocketsync/pkg/protocol"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

func destroyEvent(id int32) Event {
	return Event{Packet: &protocol.DestroyRocket{RocketID: id}, Sender: 1}
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got int32
	d.Register(protocol.TypeDestroyRocket, func(e Event) error {
		got = e.Packet.(*protocol.DestroyRocket).RocketID
		return nil
	})

	if err := d.Dispatch(destroyEvent(42)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Errorf("expected rocket 42, got %d", got)
	}
}

func TestDispatcher_HandlerError(t *testing.T) {
	d, _ := newTestDispatcher(t)

	want := errors.New("boom")
	d.Register(protocol.TypeDestroyRocket, func(e Event) error { return want })

	if err := d.Dispatch(destroyEvent(1)); !errors.Is(err, want) {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestDispatcher_UnknownPacket(t *testing.T) {
	d, _ := newTestDispatcher(t)

	err := d.Dispatch(destroyEvent(1))
	if !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}

	err = d.Dispatch(Event{})
	if !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler for nil packet, got %v", err)
	}
}

func TestDispatcher_DispatchRaw(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var seen Event
	d.Register(protocol.TypeUpdateWorldTime, func(e Event) error {
		seen = e
		return nil
	})

	raw := protocol.Encode(&protocol.UpdateWorldTime{WorldTime: 12.5})
	if err := d.DispatchRaw(7, raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen.Sender != 7 {
		t.Errorf("expected sender 7, got %d", seen.Sender)
	}
	if wt := seen.Packet.(*protocol.UpdateWorldTime).WorldTime; wt != 12.5 {
		t.Errorf("expected world time 12.5, got %v", wt)
	}
	if len(seen.Raw) != len(raw) {
		t.Errorf("expected raw bytes to be kept")
	}
	if seen.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	if err := d.DispatchRaw(7, raw[:3]); !errors.Is(err, protocol.ErrShortPacket) {
		t.Errorf("expected ErrShortPacket, got %v", err)
	}
}

func TestDispatcher_HandlesInArrivalOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var order []int32
	d.Register(protocol.TypeDestroyRocket, func(e Event) error {
		order = append(order, e.Packet.(*protocol.DestroyRocket).RocketID)
		return nil
	})

	for i := int32(0); i < 50; i++ {
		d.Dispatch(destroyEvent(i))
	}

	if len(order) != 50 {
		t.Fatalf("expected 50 packets handled, got %d", len(order))
	}
	for i, id := range order {
		if id != int32(i) {
			t.Fatalf("packet %d processed out of order: %v", i, order)
		}
	}
}

func TestDispatcher_CountsProcessed(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	d, _ := newTestDispatcher(t)
	d.Register(protocol.TypeDestroyRocket, func(e Event) error {
		if e.Packet.(*protocol.DestroyRocket).RocketID == 0 {
			return errors.New("unknown rocket")
		}
		return nil
	})
	d.Dispatch(destroyEvent(1))
	d.Dispatch(destroyEvent(2))
	d.Dispatch(destroyEvent(0))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "dispatcher.events.processed" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value(attribute.Key("outcome"))
				counts[outcome.AsString()] += dp.Value
			}
		}
	}
	if counts["ok"] != 2 || counts["error"] != 1 {
		t.Errorf("expected 2 ok and 1 error, got %v", counts)
	}
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(protocol.TypeDestroyRocket, func(e Event) error {
		return nil
	}, Logged())

	d.Dispatch(destroyEvent(1))

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected at least 2 log messages, got %d", len(logger.messages))
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(protocol.TypeDestroyRocket, func(e Event) error {
		return fmt.Errorf("test error")
	}, Logged())

	d.Dispatch(destroyEvent(1))

	logger.mu.Lock()
	defer logger.mu.Unlock()

	hasError := false
	for _, msg := range logger.messages {
		if strings.HasPrefix(msg, "ERROR") {
			hasError = true
			break
		}
	}

	if !hasError {
		t.Error("expected error log message")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(protocol.TypeCreateRocket, func(e Event) error { return nil })

	if !d.HasHandler(protocol.TypeCreateRocket) {
		t.Error("expected handler to exist")
	}

	if d.HasHandler(protocol.TypeDestroyRocket) {
		t.Error("expected handler to not exist")
	}
}
