// Package queue implements the durable FIFO buffer at the centre of
// the gateway pipeline.
//
// Collectors enqueue normalized reading envelopes; the transmitter
// drains them in batches. Entries carry a strictly increasing
// sequence number assigned at enqueue time and preserved across
// restarts via a persisted high-water mark.
//
// Delivery semantics:
//   - At-least-once: dequeued entries stay in flight until
//     acknowledged; a crash between dequeue and acknowledge replays
//     the batch after restart.
//   - Bounded: pending plus in-flight never exceeds the configured
//     capacity. Overflow either evicts the oldest pending entry
//     (drop_oldest, logged as data loss) or rejects the producer
//     (reject_new).
//   - Durable: with immediate persistence every mutation writes
//     through to SQLite; otherwise a background flush snapshots state
//     within the configured interval.
//
// Usage:
//
//	store := queue.NewSQLiteStore(db)
//	q, err := queue.New(ctx, store, queue.Options{
//	    MaxSize:            cfg.Queue.MaxQueueSize,
//	    Policy:             queue.OverflowPolicy(cfg.Queue.OverflowPolicy),
//	    PersistImmediately: cfg.Queue.PersistenceEnabled,
//	    FlushInterval:      cfg.Queue.GetFlushInterval(),
//	}, logger)
package queue
