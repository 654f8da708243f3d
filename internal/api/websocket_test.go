package api

import (
	"sync"
	"testing"
	"time"

	"github.com/oakmere/fieldgate/internal/infrastructure/logging"
	"github.com/oakmere/fieldgate/internal/queue"
)

func testEnvelope() queue.Envelope {
	return queue.Envelope{
		Sequence:   1,
		DeviceID:   "temp-1",
		DeviceType: "temperature_sensor",
		Value:      queue.NumberValue(21.5),
		ObservedAt: time.Now().UTC(),
	}
}

// TestConcurrentBroadcastDropsSlowClients floods the hub from several
// goroutines at once. With unbuffered send channels every client is a
// slow client, so concurrent broadcasts race to unregister the same
// clients while others still hold them in their snapshots. No
// broadcast may panic, and every client must end up dropped.
func TestConcurrentBroadcastDropsSlowClients(t *testing.T) {
	hub := NewHub(logging.Default())
	for range 100 {
		hub.register(&wsClient{hub: hub, send: make(chan []byte)})
	}

	env := testEnvelope()
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hub.BroadcastReading(env)
		}()
	}
	wg.Wait()

	if n := hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0 after dropping slow clients", n)
	}
}

// TestBroadcastAfterUnregister sends to a client whose channel was
// already closed by unregister. The send must be absorbed, not panic.
func TestBroadcastAfterUnregister(t *testing.T) {
	hub := NewHub(logging.Default())
	c := &wsClient{hub: hub, send: make(chan []byte, 1)}
	hub.register(c)
	hub.unregister(c)

	if c.trySend([]byte("x")) {
		t.Error("trySend on closed channel reported success")
	}

	// The hub no longer holds the client; broadcasting must not panic.
	hub.BroadcastReading(testEnvelope())
}

// TestUnregisterIdempotent verifies a client can be unregistered by
// both the broadcast path and its own readPump without a double close.
func TestUnregisterIdempotent(t *testing.T) {
	hub := NewHub(logging.Default())
	c := &wsClient{hub: hub, send: make(chan []byte, 1)}
	hub.register(c)

	hub.unregister(c)
	hub.unregister(c)

	if n := hub.ClientCount(); n != 0 {
		t.Errorf("ClientCount() = %d, want 0", n)
	}
}
