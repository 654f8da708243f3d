package integration

import (
	"context"
	"time"
)

// Logger defines the logging interface used by this package.
// This allows the registry to work with any logging implementation.
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

// Reading is one raw data point produced by an integration. The
// collector normalizes it into a queue envelope; integrations never
// build envelopes themselves so normalization stays centralized.
type Reading struct {
	// DeviceID identifies the originating device.
	DeviceID string

	// DeviceType is an optional hint. The device registry's route
	// type takes precedence during normalization.
	DeviceType string

	// Value is the raw payload: a number, bool, string or
	// map[string]any.
	Value any

	// ObservedAt is the instant the reading was observed, not when
	// it was queued or sent.
	ObservedAt time.Time
}

// Integration is the capability contract every device backend
// implements.
type Integration interface {
	// Connect establishes the underlying connection or session.
	// Idempotent: calling it while connected is a no-op success.
	Connect(ctx context.Context) error

	// SendData performs one outbound command against a device.
	// Bounded by a transport-level timeout the integration owns;
	// it must not block indefinitely.
	SendData(ctx context.Context, deviceID, action string, payload map[string]any) error

	// Readings drains whatever the integration has produced since
	// the last call. Non-blocking; an empty slice means no data yet.
	// The stream restarts transparently across reconnects.
	Readings(ctx context.Context) ([]Reading, error)

	// DeviceData returns a snapshot of last-known values per device.
	// Never performs new I/O, only returns cached state.
	DeviceData() map[string]any

	// Disconnect releases all resources. Safe to call repeatedly and
	// after a failed Connect.
	Disconnect(ctx context.Context) error
}

// Factory constructs an integration instance from its configured
// parameter map.
type Factory func(params map[string]any, logger Logger) (Integration, error)

// Descriptor registers an integration type with the registry.
// Built-ins ship in a static manifest; external integrations arrive
// as pre-built descriptors from the embedding process.
type Descriptor struct {
	// Name is the unique registration name referenced by
	// configuration.
	Name string

	// Description is a short human-readable summary for status
	// surfaces.
	Description string

	// Factory builds instances of this integration type.
	Factory Factory
}

// State describes an instantiated integration's lifecycle position.
type State string

// Lifecycle states. Unloaded instances exist but have never
// connected; started is the transitional state while Connect runs,
// as stopping is while Disconnect runs.
const (
	StateUnloaded State = "unloaded"
	StateStarted  State = "started"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Status is a point-in-time snapshot of one instance for the admin
// API.
type Status struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	State       State  `json:"state"`
	Error       string `json:"error,omitempty"`
}
