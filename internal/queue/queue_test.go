package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestQueue(t *testing.T, maxSize int, policy OverflowPolicy) *Queue {
	t.Helper()

	q, err := New(context.Background(), nil, Options{
		MaxSize: maxSize,
		Policy:  policy,
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return q
}

func testEnvelope(deviceID string, value float64) Envelope {
	return Envelope{
		DeviceID:   deviceID,
		DeviceType: "sensor",
		Value:      NumberValue(value),
		ObservedAt: time.Now().UTC(),
	}
}

// TestEnqueueAssignsSequence verifies sequence numbers are strictly increasing.
func TestEnqueueAssignsSequence(t *testing.T) {
	q := newTestQueue(t, 10, DropOldest)
	ctx := context.Background()

	var last uint64
	for i := 0; i < 5; i++ {
		seq, err := q.Enqueue(ctx, testEnvelope("dev-1", float64(i)))
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if seq <= last {
			t.Errorf("sequence %d not greater than previous %d", seq, last)
		}
		last = seq
	}
}

// TestDropOldestEviction verifies overflow evicts the oldest pending entry.
// With capacity 3, enqueuing four readings leaves sequences {2,3,4}.
func TestDropOldestEviction(t *testing.T) {
	q := newTestQueue(t, 3, DropOldest)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := q.Enqueue(ctx, testEnvelope("dev-1", float64(i))); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}

	if depth := q.Depth(); depth != 3 {
		t.Errorf("Depth() = %d, want 3", depth)
	}

	batch, err := q.DequeueBatch(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}

	want := []uint64{2, 3, 4}
	if len(batch) != len(want) {
		t.Fatalf("batch size = %d, want %d", len(batch), len(want))
	}
	for i, env := range batch {
		if env.Sequence != want[i] {
			t.Errorf("batch[%d].Sequence = %d, want %d", i, env.Sequence, want[i])
		}
	}

	if stats := q.GetStats(); stats.Evicted != 1 {
		t.Errorf("Evicted = %d, want 1", stats.Evicted)
	}
}

// TestRejectNewPolicy verifies ErrQueueFull under reject_new.
func TestRejectNewPolicy(t *testing.T) {
	q := newTestQueue(t, 2, RejectNew)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(ctx, testEnvelope("dev-1", float64(i))); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}

	_, err := q.Enqueue(ctx, testEnvelope("dev-1", 99))
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue() at capacity error = %v, want ErrQueueFull", err)
	}

	// Capacity invariant held: nothing was evicted to admit the reject.
	if depth := q.Depth(); depth != 2 {
		t.Errorf("Depth() = %d, want 2", depth)
	}
}

// TestDropOldestAllInFlight verifies eviction never touches in-flight
// entries: when every slot is in flight the enqueue is rejected.
func TestDropOldestAllInFlight(t *testing.T) {
	q := newTestQueue(t, 2, DropOldest)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(ctx, testEnvelope("dev-1", float64(i))); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	if _, err := q.DequeueBatch(ctx, 2); err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}

	_, err := q.Enqueue(ctx, testEnvelope("dev-1", 99))
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue() with all in flight error = %v, want ErrQueueFull", err)
	}
}

// TestDequeueOrdering verifies FIFO order across dequeue batches.
func TestDequeueOrdering(t *testing.T) {
	q := newTestQueue(t, 10, DropOldest)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := q.Enqueue(ctx, testEnvelope("dev-1", float64(i))); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}

	first, err := q.DequeueBatch(ctx, 3)
	if err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}
	second, err := q.DequeueBatch(ctx, 3)
	if err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}

	var prev uint64
	for _, env := range append(first, second...) {
		if env.Sequence <= prev {
			t.Errorf("sequence %d out of order after %d", env.Sequence, prev)
		}
		prev = env.Sequence
	}
}

// TestAcknowledgeRemovesEntries verifies acknowledged entries leave the queue.
func TestAcknowledgeRemovesEntries(t *testing.T) {
	q := newTestQueue(t, 10, DropOldest)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, testEnvelope("dev-1", float64(i))); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}

	batch, err := q.DequeueBatch(ctx, 3)
	if err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}

	seqs := make([]uint64, len(batch))
	for i, env := range batch {
		seqs[i] = env.Sequence
	}
	if err := q.Acknowledge(ctx, seqs); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}

	if depth := q.Depth(); depth != 0 {
		t.Errorf("Depth() after acknowledge = %d, want 0", depth)
	}

	// Acknowledging again is a no-op, not an error (idempotent replay).
	if err := q.Acknowledge(ctx, seqs); err != nil {
		t.Errorf("repeat Acknowledge() error = %v", err)
	}
}

// TestRequeueIncrementsAttempts verifies failed batches return to pending
// with bumped delivery attempts, ahead of newer entries.
func TestRequeueIncrementsAttempts(t *testing.T) {
	q := newTestQueue(t, 10, DropOldest)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(ctx, testEnvelope("dev-1", float64(i))); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}

	batch, err := q.DequeueBatch(ctx, 2)
	if err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}

	// A newer reading arrives while the batch is in flight.
	if _, err := q.Enqueue(ctx, testEnvelope("dev-2", 42)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	seqs := []uint64{batch[0].Sequence, batch[1].Sequence}
	if err := q.Requeue(ctx, seqs); err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}

	redelivered, err := q.DequeueBatch(ctx, 3)
	if err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}
	if len(redelivered) != 3 {
		t.Fatalf("batch size = %d, want 3", len(redelivered))
	}

	// Requeued entries drain first, in original order, with attempts bumped.
	if redelivered[0].Sequence != seqs[0] || redelivered[1].Sequence != seqs[1] {
		t.Errorf("requeued entries not ordered first: got %d, %d",
			redelivered[0].Sequence, redelivered[1].Sequence)
	}
	for i := 0; i < 2; i++ {
		if redelivered[i].DeliveryAttempts != 1 {
			t.Errorf("redelivered[%d].DeliveryAttempts = %d, want 1",
				i, redelivered[i].DeliveryAttempts)
		}
	}
	if redelivered[2].DeliveryAttempts != 0 {
		t.Errorf("fresh entry DeliveryAttempts = %d, want 0", redelivered[2].DeliveryAttempts)
	}
}

// TestCapacityCountsInFlight verifies pending plus in-flight respects the bound.
func TestCapacityCountsInFlight(t *testing.T) {
	q := newTestQueue(t, 3, DropOldest)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, testEnvelope("dev-1", float64(i))); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}
	if _, err := q.DequeueBatch(ctx, 2); err != nil {
		t.Fatalf("DequeueBatch() error = %v", err)
	}

	// Two in flight, one pending: queue is still full, so the single
	// pending entry is the eviction candidate.
	if _, err := q.Enqueue(ctx, testEnvelope("dev-1", 99)); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	stats := q.GetStats()
	if stats.Pending+stats.InFlight != 3 {
		t.Errorf("pending+inflight = %d, want 3", stats.Pending+stats.InFlight)
	}
	if stats.Evicted != 1 {
		t.Errorf("Evicted = %d, want 1", stats.Evicted)
	}
}

// TestClosedQueue verifies operations fail after Close.
func TestClosedQueue(t *testing.T) {
	q := newTestQueue(t, 10, DropOldest)
	ctx := context.Background()

	if err := q.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := q.Enqueue(ctx, testEnvelope("dev-1", 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue() after close error = %v, want ErrClosed", err)
	}
	if _, err := q.DequeueBatch(ctx, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("DequeueBatch() after close error = %v, want ErrClosed", err)
	}

	// Double close is safe.
	if err := q.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

// TestNewRejectsInvalidSize verifies configuration validation.
func TestNewRejectsInvalidSize(t *testing.T) {
	_, err := New(context.Background(), nil, Options{MaxSize: 0}, nil)
	if err == nil {
		t.Error("New() with zero max size succeeded, want error")
	}
}
