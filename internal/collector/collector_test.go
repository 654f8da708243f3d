package collector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/oakmere/fieldgate/internal/device"
	"github.com/oakmere/fieldgate/internal/integration"
	"github.com/oakmere/fieldgate/internal/queue"
)

// memStore keeps queue state in memory; collector tests do not need
// durability.
type memStore struct{}

func (memStore) Append(context.Context, queue.Envelope) error            { return nil }
func (memStore) Remove(context.Context, []uint64) error                  { return nil }
func (memStore) IncrementAttempts(context.Context, []uint64) error       { return nil }
func (memStore) Replace(context.Context, []queue.Envelope, uint64) error { return nil }
func (memStore) ReserveSequence(context.Context, uint64) error           { return nil }
func (memStore) Load(context.Context) ([]queue.Envelope, uint64, error)  { return nil, 1, nil }

// stubIntegration hands out canned readings or a canned error.
type stubIntegration struct {
	readings []integration.Reading
	err      error
	calls    int
}

func (s *stubIntegration) Connect(context.Context) error { return nil }
func (s *stubIntegration) SendData(context.Context, string, string, map[string]any) error {
	return nil
}

func (s *stubIntegration) Readings(context.Context) ([]integration.Reading, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := s.readings
	s.readings = nil
	return out, nil
}

func (s *stubIntegration) DeviceData() map[string]any       { return nil }
func (s *stubIntegration) Disconnect(context.Context) error { return nil }

func newTestQueue(t *testing.T, maxSize int) *queue.Queue {
	t.Helper()
	q, err := queue.New(context.Background(), memStore{}, queue.Options{
		MaxSize:            maxSize,
		Policy:             queue.RejectNew,
		PersistImmediately: true,
	}, nil)
	if err != nil {
		t.Fatalf("creating queue: %v", err)
	}
	return q
}

func newCollector(t *testing.T, integ integration.Integration, q *queue.Queue) (*Collector, *integration.Registry) {
	t.Helper()

	integrations := integration.NewRegistry()
	if err := integrations.Register(integration.Descriptor{
		Name:        "stub",
		Description: "test integration",
		Factory: func(_ map[string]any, _ integration.Logger) (integration.Integration, error) {
			return integ, nil
		},
	}); err != nil {
		t.Fatalf("registering descriptor: %v", err)
	}
	if _, err := integrations.Instantiate("stub", nil); err != nil {
		t.Fatalf("instantiating stub: %v", err)
	}

	devices := device.NewRegistry()
	if err := devices.Register("temp-1", "temperature_sensor", "stub", integ,
		[]string{"report"}, nil); err != nil {
		t.Fatalf("registering device: %v", err)
	}

	c := New(integrations, devices, q, []Target{
		{Name: "stub", Integration: integ, Interval: time.Hour},
	})
	return c, integrations
}

func TestCollectOnceEnqueuesRegisteredReadings(t *testing.T) {
	observed := time.Date(2026, 1, 20, 8, 0, 0, 0, time.UTC)
	integ := &stubIntegration{readings: []integration.Reading{
		{DeviceID: "temp-1", DeviceType: "ignored_hint", Value: 21.5, ObservedAt: observed},
		{DeviceID: "ghost-9", Value: 1.0, ObservedAt: observed},
	}}

	q := newTestQueue(t, 10)
	c, _ := newCollector(t, integ, q)

	if !c.collectOnce(context.Background(), c.targets[0]) {
		t.Fatal("collectOnce stopped the loop on success")
	}

	batch, err := q.DequeueBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("DequeueBatch failed: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("queued %d entries, want 1", len(batch))
	}

	env := batch[0]
	if env.DeviceID != "temp-1" {
		t.Errorf("DeviceID = %q, want temp-1", env.DeviceID)
	}
	// The registry's type wins over the integration's hint.
	if env.DeviceType != "temperature_sensor" {
		t.Errorf("DeviceType = %q, want temperature_sensor", env.DeviceType)
	}
	if env.Value.Kind != queue.ValueNumber || env.Value.Number != 21.5 {
		t.Errorf("Value = %+v, want number 21.5", env.Value)
	}
	if !env.ObservedAt.Equal(observed) {
		t.Errorf("ObservedAt = %v, want %v", env.ObservedAt, observed)
	}

	stats := c.GetStats()
	if stats.Collected != 1 {
		t.Errorf("Collected = %d, want 1", stats.Collected)
	}
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1 for the unregistered device", stats.Dropped)
	}
}

func TestCollectOnceTransientError(t *testing.T) {
	integ := &stubIntegration{err: fmt.Errorf("%w: broker unreachable", integration.ErrConnection)}
	q := newTestQueue(t, 10)
	c, integrations := newCollector(t, integ, q)

	if !c.collectOnce(context.Background(), c.targets[0]) {
		t.Error("transient error stopped the collection loop")
	}
	if state, _ := integrations.StateOf("stub"); state == integration.StateFailed {
		t.Error("transient error marked the integration failed")
	}
}

func TestCollectOnceConfigurationErrorStopsLoop(t *testing.T) {
	integ := &stubIntegration{err: fmt.Errorf("%w: bad credentials", integration.ErrConfiguration)}
	q := newTestQueue(t, 10)
	c, integrations := newCollector(t, integ, q)

	if c.collectOnce(context.Background(), c.targets[0]) {
		t.Error("configuration error did not stop the collection loop")
	}
	if state, _ := integrations.StateOf("stub"); state != integration.StateFailed {
		t.Errorf("integration state = %v, want failed", state)
	}
}

func TestCollectOnceQueueFull(t *testing.T) {
	integ := &stubIntegration{readings: []integration.Reading{
		{DeviceID: "temp-1", Value: 1.0},
		{DeviceID: "temp-1", Value: 2.0},
	}}

	q := newTestQueue(t, 1)
	c, _ := newCollector(t, integ, q)

	if !c.collectOnce(context.Background(), c.targets[0]) {
		t.Fatal("queue overflow stopped the loop")
	}

	stats := c.GetStats()
	if stats.Collected != 1 {
		t.Errorf("Collected = %d, want 1", stats.Collected)
	}
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1 for the overflowed reading", stats.Dropped)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	integ := &stubIntegration{}
	q := newTestQueue(t, 10)
	c, _ := newCollector(t, integ, q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Let the first round run, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	if integ.calls == 0 {
		t.Error("integration was never drained")
	}
}

func TestUnrepresentableValueDropped(t *testing.T) {
	integ := &stubIntegration{readings: []integration.Reading{
		{DeviceID: "temp-1", Value: make(chan int)},
	}}

	q := newTestQueue(t, 10)
	c, _ := newCollector(t, integ, q)

	if !c.collectOnce(context.Background(), c.targets[0]) {
		t.Fatal("bad value stopped the loop")
	}
	if got := c.GetStats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
	if q.Depth() != 0 {
		t.Errorf("queue depth = %d, want 0", q.Depth())
	}
}
