package collector

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oakmere/fieldgate/internal/device"
	"github.com/oakmere/fieldgate/internal/integration"
	"github.com/oakmere/fieldgate/internal/queue"
)

// Logger defines the logging interface used by the Collector.
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

// Target is one integration the collector drains, with its effective
// collection interval already resolved from configuration.
type Target struct {
	Name        string
	Integration integration.Integration
	Interval    time.Duration
}

// Stats reports collector counters for the admin API.
type Stats struct {
	Collected uint64 `json:"collected"`
	Dropped   uint64 `json:"dropped"`
}

// Collector runs one collection loop per integration and enqueues
// every routable reading.
type Collector struct {
	targets      []Target
	integrations *integration.Registry
	devices      *device.Registry
	q            *queue.Queue
	logger       Logger

	collected atomic.Uint64
	dropped   atomic.Uint64

	// onReading, when set, observes every successfully queued reading.
	// Used by the admin API's live feed.
	onReading func(queue.Envelope)
}

// New creates a collector over the given targets.
//
// Parameters:
//   - integrations: used to mark an integration failed on fatal errors
//   - devices: routing table readings are resolved against
//   - q: the durable queue readings are written to
//   - targets: integrations to collect from, with their intervals
func New(integrations *integration.Registry, devices *device.Registry, q *queue.Queue, targets []Target) *Collector {
	return &Collector{
		targets:      targets,
		integrations: integrations,
		devices:      devices,
		q:            q,
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the collector.
func (c *Collector) SetLogger(logger Logger) {
	c.logger = logger
}

// SetOnReading registers an observer called once per queued reading.
// Must be set before Run.
func (c *Collector) SetOnReading(fn func(queue.Envelope)) {
	c.onReading = fn
}

// Run starts one collection loop per target and blocks until the
// context is cancelled and all loops have drained.
func (c *Collector) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, target := range c.targets {
		g.Go(func() error {
			c.collectLoop(ctx, target)
			return nil
		})
	}

	return g.Wait()
}

// GetStats returns current collection counters.
func (c *Collector) GetStats() Stats {
	return Stats{
		Collected: c.collected.Load(),
		Dropped:   c.dropped.Load(),
	}
}

// collectLoop drains one integration on its interval until the
// context is cancelled or the integration fails fatally.
func (c *Collector) collectLoop(ctx context.Context, target Target) {
	c.logger.Info("collection loop started",
		"integration", target.Name,
		"interval", target.Interval)

	ticker := time.NewTicker(target.Interval)
	defer ticker.Stop()

	// First round immediately so a fresh start does not wait a full
	// interval before producing data.
	if !c.collectOnce(ctx, target) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("collection loop stopped", "integration", target.Name)
			return
		case <-ticker.C:
			if !c.collectOnce(ctx, target) {
				return
			}
		}
	}
}

// collectOnce performs a single drain-and-enqueue round.
// Returns false when the loop must stop.
func (c *Collector) collectOnce(ctx context.Context, target Target) bool {
	readings, err := target.Integration.Readings(ctx)
	if err != nil {
		if errors.Is(err, integration.ErrConfiguration) {
			c.logger.Error("integration failed, stopping collection",
				"integration", target.Name,
				"error", err)
			c.integrations.MarkFailed(target.Name, err)
			return false
		}
		// Transient: the integration reconnects on its own.
		c.logger.Warn("collection round failed",
			"integration", target.Name,
			"error", err)
		return true
	}

	for _, reading := range readings {
		c.enqueueReading(ctx, target.Name, reading)
	}
	return true
}

// enqueueReading resolves, normalises, and queues one reading.
func (c *Collector) enqueueReading(ctx context.Context, integrationName string, reading integration.Reading) {
	route, err := c.devices.Resolve(reading.DeviceID)
	if err != nil {
		c.dropped.Add(1)
		c.logger.Warn("dropping reading from unregistered device",
			"integration", integrationName,
			"device_id", reading.DeviceID)
		return
	}

	value, err := queue.Normalize(reading.Value)
	if err != nil {
		c.dropped.Add(1)
		c.logger.Warn("dropping unrepresentable reading",
			"integration", integrationName,
			"device_id", reading.DeviceID,
			"error", err)
		return
	}

	observedAt := reading.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	env := queue.Envelope{
		DeviceID:   route.DeviceID,
		DeviceType: route.DeviceType,
		Value:      value,
		ObservedAt: observedAt,
	}
	seq, err := c.q.Enqueue(ctx, env)
	if err != nil {
		c.dropped.Add(1)
		if errors.Is(err, queue.ErrQueueFull) {
			c.logger.Warn("queue full, dropping reading",
				"device_id", reading.DeviceID)
			return
		}
		c.logger.Error("enqueue failed",
			"device_id", reading.DeviceID,
			"error", err)
		return
	}

	c.collected.Add(1)
	if c.onReading != nil {
		env.Sequence = seq
		c.onReading(env)
	}
}
