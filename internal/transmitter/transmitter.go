package transmitter

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/oakmere/fieldgate/internal/audit"
	"github.com/oakmere/fieldgate/internal/infrastructure/config"
	"github.com/oakmere/fieldgate/internal/infrastructure/influxdb"
	"github.com/oakmere/fieldgate/internal/queue"
	"github.com/oakmere/fieldgate/internal/remote"
)

// Logger defines the logging interface used by the Transmitter.
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

// Sender delivers one batch upstream. Satisfied by *remote.Client.
type Sender interface {
	SendBatch(ctx context.Context, entries []queue.Envelope) error
}

// Stats reports transmitter counters for the admin API.
type Stats struct {
	Delivered      uint64     `json:"delivered"`
	Rejected       uint64     `json:"rejected"`
	Requeued       uint64     `json:"requeued"`
	LastDeliveryAt *time.Time `json:"last_delivery_at,omitempty"`
}

// Transmitter runs the delivery cycle against the remote service.
type Transmitter struct {
	q      *queue.Queue
	sender Sender
	cfg    config.RemoteConfig
	logger Logger

	// auditRepo is nil unless remote.audit_values is enabled.
	auditRepo audit.Repository

	// mirror is nil unless the local telemetry mirror is enabled.
	// All its write methods are nil-safe.
	mirror    *influxdb.Client
	gatewayID string

	delivered    atomic.Uint64
	rejected     atomic.Uint64
	requeued     atomic.Uint64
	lastDelivery atomic.Pointer[time.Time]
}

// New creates a transmitter.
//
// Parameters:
//   - q: the durable queue to drain
//   - sender: the remote client batches go to
//   - cfg: remote section of config.yaml (batch size, intervals, retry budget)
func New(q *queue.Queue, sender Sender, cfg config.RemoteConfig) *Transmitter {
	return &Transmitter{
		q:      q,
		sender: sender,
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the transmitter.
func (t *Transmitter) SetLogger(logger Logger) {
	t.logger = logger
}

// SetAudit enables the per-value transmission audit trail.
func (t *Transmitter) SetAudit(repo audit.Repository) {
	t.auditRepo = repo
}

// SetMirror enables the local telemetry mirror for accepted batches
// and per-cycle gateway stats, tagged with this gateway's identity.
func (t *Transmitter) SetMirror(mirror *influxdb.Client, gatewayID string) {
	t.mirror = mirror
	t.gatewayID = gatewayID
}

// Run transmits on the configured interval until the context is
// cancelled. The first cycle runs immediately.
func (t *Transmitter) Run(ctx context.Context) error {
	t.logger.Info("transmitter started",
		"interval", t.cfg.GetTransmissionInterval(),
		"batch_size", t.cfg.BatchSize)

	ticker := time.NewTicker(t.cfg.GetTransmissionInterval())
	defer ticker.Stop()

	t.transmitOnce(ctx)
	t.mirrorStats()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("transmitter stopped")
			return nil
		case <-ticker.C:
			t.transmitOnce(ctx)
			t.mirrorStats()
		}
	}
}

// GetStats returns current delivery counters.
func (t *Transmitter) GetStats() Stats {
	return Stats{
		Delivered:      t.delivered.Load(),
		Rejected:       t.rejected.Load(),
		Requeued:       t.requeued.Load(),
		LastDeliveryAt: t.lastDelivery.Load(),
	}
}

// transmitOnce runs one delivery cycle: dequeue a batch and push it
// until it is accepted, rejected, or the retry budget is spent.
func (t *Transmitter) transmitOnce(ctx context.Context) {
	batch, err := t.q.DequeueBatch(ctx, t.cfg.BatchSize)
	if err != nil {
		t.logger.Error("dequeue failed", "error", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	seqs := sequences(batch)

	for attempt := 1; ; attempt++ {
		err := t.sender.SendBatch(ctx, batch)
		if err == nil {
			t.recordBatch(ctx, batch, audit.OutcomeDelivered, "", attempt)
			t.mirrorBatch(batch)
			if ackErr := t.q.Acknowledge(ctx, seqs); ackErr != nil {
				t.logger.Error("acknowledge failed", "error", ackErr)
			}
			t.delivered.Add(uint64(len(batch)))
			now := time.Now().UTC()
			t.lastDelivery.Store(&now)
			t.logger.Debug("batch delivered",
				"entries", len(batch),
				"attempts", attempt)
			return
		}

		if errors.Is(err, remote.ErrRejected) {
			// The service will never accept this batch. Log the full
			// content so nothing is lost silently, then drop it.
			t.logBatchContent(batch, err)
			t.recordBatch(ctx, batch, audit.OutcomeRejected, err.Error(), attempt)
			if ackErr := t.q.Acknowledge(ctx, seqs); ackErr != nil {
				t.logger.Error("acknowledge failed", "error", ackErr)
			}
			t.rejected.Add(uint64(len(batch)))
			return
		}

		// Retryable: back off within the cycle while budget remains.
		if attempt >= t.cfg.RetryMaxAttempts {
			t.recordBatch(ctx, batch, audit.OutcomeFailed, err.Error(), attempt)
			if reqErr := t.q.Requeue(ctx, seqs); reqErr != nil {
				t.logger.Error("requeue failed", "error", reqErr)
			}
			t.requeued.Add(uint64(len(batch)))
			t.logger.Warn("retry budget spent, batch requeued",
				"entries", len(batch),
				"attempts", attempt,
				"error", err)
			return
		}

		t.recordBatch(ctx, batch, audit.OutcomeRetrying, err.Error(), attempt)
		delay := t.backoff(attempt)
		t.logger.Debug("batch delivery failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			if reqErr := t.q.Requeue(ctx, seqs); reqErr != nil {
				t.logger.Error("requeue on shutdown failed", "error", reqErr)
			}
			return
		case <-time.After(delay):
		}
	}
}

// backoff returns the delay before the next in-cycle retry:
// minimum backoff doubled per attempt, capped at the maximum.
func (t *Transmitter) backoff(attempt int) time.Duration {
	minDelay := t.cfg.GetRetryMinBackoff()
	maxDelay := t.cfg.GetRetryMaxBackoff()

	const maxShift = 32
	if attempt-1 >= maxShift {
		return maxDelay
	}
	delay := minDelay << (attempt - 1)
	if delay <= 0 || delay > maxDelay {
		return maxDelay
	}
	return delay
}

// recordBatch writes one audit record per value when auditing is on.
// Audit failures are logged, never fatal to delivery.
func (t *Transmitter) recordBatch(ctx context.Context, batch []queue.Envelope, outcome, errText string, attempt int) {
	if t.auditRepo == nil {
		return
	}

	for _, env := range batch {
		rec := audit.Record{
			Sequence:   env.Sequence,
			DeviceID:   env.DeviceID,
			DeviceType: env.DeviceType,
			Value:      env.Value,
			Target:     t.cfg.URL,
			Outcome:    outcome,
			Error:      errText,
			Attempt:    attempt,
		}
		if err := t.auditRepo.Create(ctx, &rec); err != nil {
			t.logger.Error("audit write failed",
				"sequence", env.Sequence,
				"error", err)
		}
	}
}

// mirrorBatch writes numeric values from an accepted batch into the
// local telemetry mirror. Non-numeric values are skipped.
func (t *Transmitter) mirrorBatch(batch []queue.Envelope) {
	for _, env := range batch {
		if env.Value.Kind != queue.ValueNumber {
			continue
		}
		t.mirror.WriteReading(env.DeviceID, env.DeviceType, env.Value.Number, env.ObservedAt)
	}
}

// mirrorStats records queue health into the local telemetry mirror
// after each delivery cycle.
func (t *Transmitter) mirrorStats() {
	if t.mirror == nil {
		return
	}

	stats := t.q.GetStats()
	t.mirror.WriteGatewayStat(t.gatewayID, "queue_depth", float64(stats.Pending+stats.InFlight))
	t.mirror.WriteGatewayStat(t.gatewayID, "queue_evicted", float64(stats.Evicted))
}

// logBatchContent logs every value in a rejected batch.
func (t *Transmitter) logBatchContent(batch []queue.Envelope, cause error) {
	t.logger.Error("batch rejected by remote service, dropping",
		"entries", len(batch),
		"error", cause)
	for _, env := range batch {
		t.logger.Error("rejected entry",
			"sequence", env.Sequence,
			"device_id", env.DeviceID,
			"device_type", env.DeviceType,
			"value", env.Value.String(),
			"observed_at", env.ObservedAt)
	}
}

func sequences(batch []queue.Envelope) []uint64 {
	seqs := make([]uint64, len(batch))
	for i, env := range batch {
		seqs[i] = env.Sequence
	}
	return seqs
}
