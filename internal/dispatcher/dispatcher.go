package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oakmere/fieldgate/internal/device"
	"github.com/oakmere/fieldgate/internal/infrastructure/config"
	"github.com/oakmere/fieldgate/internal/remote"
)

// Logger defines the logging interface used by the Dispatcher.
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

// Remote is the slice of the remote client the dispatcher needs.
// Satisfied by *remote.Client.
type Remote interface {
	PollCommands(ctx context.Context, cursor string) ([]remote.Command, string, error)
	AckCommand(ctx context.Context, commandID string, result remote.CommandResult) error
}

// Stats reports dispatcher counters for the admin API.
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Failed     uint64 `json:"failed"`
	Cursor     string `json:"cursor,omitempty"`
}

// Dispatcher runs the command poll loop.
type Dispatcher struct {
	client  Remote
	devices *device.Registry
	cfg     config.RemoteConfig
	logger  Logger

	mu     sync.Mutex
	cursor string

	dispatched atomic.Uint64
	failed     atomic.Uint64
}

// New creates a dispatcher.
//
// Parameters:
//   - client: the remote client commands are polled from
//   - devices: routing table commands are resolved against
//   - cfg: remote section of config.yaml (poll interval)
func New(client Remote, devices *device.Registry, cfg config.RemoteConfig) *Dispatcher {
	return &Dispatcher{
		client:  client,
		devices: devices,
		cfg:     cfg,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Run polls on the configured interval until the context is
// cancelled. The first poll runs immediately.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "interval", d.cfg.GetPollInterval())

	ticker := time.NewTicker(d.cfg.GetPollInterval())
	defer ticker.Stop()

	d.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
			d.pollOnce(ctx)
		}
	}
}

// GetStats returns current dispatch counters.
func (d *Dispatcher) GetStats() Stats {
	d.mu.Lock()
	cursor := d.cursor
	d.mu.Unlock()

	return Stats{
		Dispatched: d.dispatched.Load(),
		Failed:     d.failed.Load(),
		Cursor:     cursor,
	}
}

// pollOnce fetches and dispatches one round of commands.
func (d *Dispatcher) pollOnce(ctx context.Context) {
	d.mu.Lock()
	cursor := d.cursor
	d.mu.Unlock()

	commands, next, err := d.client.PollCommands(ctx, cursor)
	if err != nil {
		// The cursor is not advanced; the next poll retries the same
		// window.
		d.logger.Warn("command poll failed", "error", err)
		return
	}

	d.mu.Lock()
	d.cursor = next
	d.mu.Unlock()

	for _, cmd := range commands {
		d.dispatch(ctx, cmd)
	}
}

// dispatch handles one command end to end and acks its outcome.
func (d *Dispatcher) dispatch(ctx context.Context, cmd remote.Command) {
	if err := d.execute(ctx, cmd); err != nil {
		d.failed.Add(1)
		d.logger.Warn("command failed",
			"command_id", cmd.ID,
			"device_id", cmd.DeviceID,
			"action", cmd.Action,
			"error", err)
		d.ack(ctx, cmd.ID, remote.CommandResult{
			Status: remote.CommandStatusFailed,
			Error:  err.Error(),
		})
		return
	}

	d.dispatched.Add(1)
	d.logger.Debug("command dispatched",
		"command_id", cmd.ID,
		"device_id", cmd.DeviceID,
		"action", cmd.Action)
	d.ack(ctx, cmd.ID, remote.CommandResult{
		Status: remote.CommandStatusAcknowledged,
	})
}

// execute resolves, authorises, and performs one command.
func (d *Dispatcher) execute(ctx context.Context, cmd remote.Command) error {
	route, err := d.devices.Resolve(cmd.DeviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return fmt.Errorf("unknown device %q", cmd.DeviceID)
		}
		return err
	}

	// Authorisation gate: the integration is never invoked for an
	// action the device's registration does not grant.
	if !route.SupportsSend(cmd.Action) {
		return fmt.Errorf("action %q not permitted for device %q", cmd.Action, cmd.DeviceID)
	}

	if err := route.Integration.SendData(ctx, cmd.DeviceID, cmd.Action, cmd.Payload); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	return nil
}

// ack reports a command outcome. Ack failures are logged; the service
// re-delivers unacked commands on a later poll.
func (d *Dispatcher) ack(ctx context.Context, commandID string, result remote.CommandResult) {
	if err := d.client.AckCommand(ctx, commandID, result); err != nil {
		d.logger.Error("command ack failed",
			"command_id", commandID,
			"status", result.Status,
			"error", err)
	}
}
