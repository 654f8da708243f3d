package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Queue.
// This allows the queue to work with any logging implementation.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// OverflowPolicy controls behaviour when the queue is at capacity.
type OverflowPolicy string

// Supported overflow policies.
const (
	// DropOldest evicts the oldest pending entry to admit the new one.
	// The eviction is logged as data loss, never silent.
	DropOldest OverflowPolicy = "drop_oldest"

	// RejectNew refuses the new entry with ErrQueueFull.
	RejectNew OverflowPolicy = "reject_new"
)

// sequenceReserveBlock is how far past the current sequence the queue
// advances the persisted high-water mark when immediate persistence is
// off. A crash before the next flush then loses at most one block of
// sequence numbers, never reuses one.
const sequenceReserveBlock = 1024

// Options configures a Queue.
type Options struct {
	// MaxSize bounds pending plus in-flight entries.
	MaxSize int

	// Policy selects the overflow behaviour. Defaults to DropOldest.
	Policy OverflowPolicy

	// PersistImmediately writes every mutation through to the store.
	// When false, state is flushed on FlushInterval instead.
	PersistImmediately bool

	// FlushInterval is the period of the background flush when
	// immediate persistence is off.
	FlushInterval time.Duration
}

// Stats is a point-in-time snapshot of queue state for the admin API.
type Stats struct {
	Pending      int    `json:"pending"`
	InFlight     int    `json:"in_flight"`
	Capacity     int    `json:"capacity"`
	Evicted      uint64 `json:"evicted"`
	NextSequence uint64 `json:"next_sequence"`
}

// Queue is the durable FIFO buffer between collectors and the
// transmitter. All operations are atomic with respect to one another;
// concurrent producers and the single consumer never observe a state
// violating the capacity or ordering invariants.
type Queue struct {
	mu          sync.Mutex
	pending     []Envelope
	inflight    map[uint64]Envelope
	nextSeq     uint64
	reservedSeq uint64
	evicted     uint64
	closed      bool
	dirty       bool

	opts   Options
	store  Store
	logger Logger

	stopFlush chan struct{}
	flushDone chan struct{}
}

// New creates a queue, reloading any unacknowledged entries from the
// store. Entries that were in flight when the process died reload as
// pending in their original sequence order.
//
// A store failure here is the one unrecoverable persistence error:
// the caller should treat it as fatal rather than run without the
// crash-recovery guarantee.
//
// Parameters:
//   - ctx: Context for the initial load
//   - store: Durable backing store (nil disables persistence)
//   - opts: Capacity, overflow policy and flush behaviour
//   - logger: Structured logger (nil for no-op)
//
// Returns:
//   - *Queue: Ready queue with recovered state
//   - error: If the store cannot be read
func New(ctx context.Context, store Store, opts Options, logger Logger) (*Queue, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	if opts.Policy == "" {
		opts.Policy = DropOldest
	}
	if opts.MaxSize <= 0 {
		return nil, fmt.Errorf("queue: max size must be positive, got %d", opts.MaxSize)
	}

	q := &Queue{
		inflight: make(map[uint64]Envelope),
		nextSeq:  1,
		opts:     opts,
		store:    store,
		logger:   logger,
	}

	if store != nil {
		entries, nextSeq, err := store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("queue: recovering persisted state: %w", err)
		}
		q.pending = entries
		q.nextSeq = nextSeq
		q.reservedSeq = nextSeq
		if len(entries) > 0 {
			logger.Info("recovered queue entries from storage",
				"count", len(entries),
				"first_sequence", entries[0].Sequence,
				"next_sequence", nextSeq,
			)
		}

		if !opts.PersistImmediately && opts.FlushInterval > 0 {
			q.stopFlush = make(chan struct{})
			q.flushDone = make(chan struct{})
			go q.flushLoop()
		}
	}

	return q, nil
}

// Enqueue assigns the next sequence number and appends the envelope.
//
// At capacity, DropOldest evicts the oldest pending entry (logged as
// data loss) and RejectNew returns ErrQueueFull. Eviction only ever
// removes pending entries; if every slot is in flight the enqueue is
// rejected regardless of policy.
//
// Returns:
//   - uint64: The assigned sequence number
//   - error: ErrQueueFull, ErrClosed, or a store failure
func (q *Queue) Enqueue(ctx context.Context, env Envelope) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}

	if len(q.pending)+len(q.inflight) >= q.opts.MaxSize {
		if q.opts.Policy == RejectNew || len(q.pending) == 0 {
			return 0, fmt.Errorf("queue: at capacity %d: %w", q.opts.MaxSize, ErrQueueFull)
		}

		evictedEnv := q.pending[0]
		q.pending = q.pending[1:]
		q.evicted++
		q.logger.Warn("queue full, evicted oldest pending reading",
			"evicted_sequence", evictedEnv.Sequence,
			"device_id", evictedEnv.DeviceID,
			"capacity", q.opts.MaxSize,
		)
		q.persistRemove(ctx, []uint64{evictedEnv.Sequence})
	}

	env.Sequence = q.nextSeq
	q.nextSeq++
	if env.EnqueuedAt.IsZero() {
		env.EnqueuedAt = time.Now().UTC()
	}

	// In interval-flush mode the mark on disk lags memory, so a crash
	// between flushes could hand out this sequence again on restart.
	// Push the persisted mark a block ahead before releasing it.
	if q.store != nil && !q.opts.PersistImmediately && env.Sequence >= q.reservedSeq {
		reserve := env.Sequence + sequenceReserveBlock
		if err := q.store.ReserveSequence(ctx, reserve); err != nil {
			q.logger.Error("failed to reserve sequence block",
				"through", reserve, "error", err)
		}
		q.reservedSeq = reserve
	}

	q.pending = append(q.pending, env)
	q.dirty = true

	if q.store != nil && q.opts.PersistImmediately {
		if err := q.store.Append(ctx, env); err != nil {
			// Memory remains authoritative; durability degrades until
			// the next successful write.
			q.logger.Error("failed to persist queue entry",
				"sequence", env.Sequence, "error", err)
		}
	}

	return env.Sequence, nil
}

// DequeueBatch returns up to max of the oldest pending entries in
// ascending sequence order. Returned entries move to the in-flight
// set and stay there until Acknowledge or Requeue.
func (q *Queue) DequeueBatch(ctx context.Context, max int) ([]Envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	if max <= 0 || len(q.pending) == 0 {
		return nil, nil
	}

	n := max
	if n > len(q.pending) {
		n = len(q.pending)
	}

	batch := make([]Envelope, n)
	copy(batch, q.pending[:n])
	q.pending = q.pending[n:]
	for _, env := range batch {
		q.inflight[env.Sequence] = env
	}

	return batch, nil
}

// Acknowledge removes delivered entries. Unknown sequences are
// ignored so a post-crash replay that acknowledges already-removed
// entries converges to the same end state.
func (q *Queue) Acknowledge(ctx context.Context, seqs []uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	removed := make([]uint64, 0, len(seqs))
	for _, seq := range seqs {
		if _, ok := q.inflight[seq]; ok {
			delete(q.inflight, seq)
			removed = append(removed, seq)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	q.dirty = true

	if q.store != nil && q.opts.PersistImmediately {
		if err := q.store.Remove(ctx, removed); err != nil {
			q.logger.Error("failed to remove acknowledged entries",
				"count", len(removed), "error", err)
		}
	}
	return nil
}

// Requeue returns in-flight entries to the pending set after a failed
// transmission, incrementing each entry's delivery attempts. Pending
// order stays ascending by sequence so requeued entries drain before
// anything enqueued while they were in flight.
func (q *Queue) Requeue(ctx context.Context, seqs []uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	returned := make([]uint64, 0, len(seqs))
	for _, seq := range seqs {
		env, ok := q.inflight[seq]
		if !ok {
			continue
		}
		delete(q.inflight, seq)
		env.DeliveryAttempts++
		q.pending = append(q.pending, env)
		returned = append(returned, seq)
	}
	if len(returned) == 0 {
		return nil
	}

	sort.Slice(q.pending, func(i, j int) bool {
		return q.pending[i].Sequence < q.pending[j].Sequence
	})
	q.dirty = true

	if q.store != nil && q.opts.PersistImmediately {
		if err := q.store.IncrementAttempts(ctx, returned); err != nil {
			q.logger.Error("failed to persist requeue",
				"count", len(returned), "error", err)
		}
	}
	return nil
}

// Depth returns the number of unacknowledged entries (pending plus
// in flight).
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.inflight)
}

// GetStats returns a snapshot of queue state.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:      len(q.pending),
		InFlight:     len(q.inflight),
		Capacity:     q.opts.MaxSize,
		Evicted:      q.evicted,
		NextSequence: q.nextSeq,
	}
}

// Close stops the background flush and writes a final snapshot so the
// recorded state matches memory exactly. The queue rejects all
// operations afterwards.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	if q.stopFlush != nil {
		close(q.stopFlush)
		<-q.flushDone
	}

	return q.flush(ctx)
}

// flushLoop periodically writes a full snapshot while immediate
// persistence is disabled.
func (q *Queue) flushLoop() {
	defer close(q.flushDone)

	ticker := time.NewTicker(q.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := q.flush(context.Background()); err != nil {
				q.logger.Error("queue flush failed", "error", err)
			}
		case <-q.stopFlush:
			return
		}
	}
}

// flush writes the current state to the store if anything changed
// since the last write.
func (q *Queue) flush(ctx context.Context) error {
	if q.store == nil {
		return nil
	}

	q.mu.Lock()
	if !q.dirty {
		q.mu.Unlock()
		return nil
	}

	// In-flight entries snapshot as pending: on reload they replay,
	// which is the at-least-once contract.
	entries := make([]Envelope, 0, len(q.pending)+len(q.inflight))
	entries = append(entries, q.pending...)
	for _, env := range q.inflight {
		entries = append(entries, env)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Sequence < entries[j].Sequence
	})
	// Never let a snapshot regress the reserved high-water mark.
	nextSeq := q.nextSeq
	if q.reservedSeq > nextSeq {
		nextSeq = q.reservedSeq
	}
	q.dirty = false
	q.mu.Unlock()

	if err := q.store.Replace(ctx, entries, nextSeq); err != nil {
		q.mu.Lock()
		q.dirty = true
		q.mu.Unlock()
		return fmt.Errorf("queue: writing snapshot: %w", err)
	}
	return nil
}

// persistRemove deletes evicted entries from the store when immediate
// persistence is on. Caller holds the mutex.
func (q *Queue) persistRemove(ctx context.Context, seqs []uint64) {
	if q.store == nil || !q.opts.PersistImmediately {
		return
	}
	if err := q.store.Remove(ctx, seqs); err != nil {
		q.logger.Error("failed to remove evicted entries",
			"count", len(seqs), "error", err)
	}
}
