// Package transmitter drains the durable queue and delivers batches
// to the remote collection service.
//
// Each cycle dequeues up to one batch and attempts delivery. Failures
// split on the remote package's classification: retryable failures are
// retried within the cycle under exponential backoff and requeued once
// the attempt budget is spent, while a rejection means the batch can
// never be accepted, so it is logged in full and acknowledged to keep
// the queue moving. Queue entries are only acknowledged after the
// service has accepted them or rejection has made them undeliverable,
// which preserves at-least-once delivery across crashes.
//
// When the per-value audit trail is enabled, every delivery attempt
// writes one audit record per value. When the local telemetry mirror
// is enabled, numeric values from accepted batches are mirrored into
// InfluxDB.
package transmitter
