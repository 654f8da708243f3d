// Package gpiodev implements the GPIO built-in integration.
//
// Devices map to sysfs-style value files. Input devices are sampled
// by reading the file and parsing its contents as a number; output
// devices accept a "write" action whose payload value is written
// back. This covers kernel GPIO exports and any file-backed sensor
// (one-wire temperature exports, count files, test fixtures).
//
// Parameters:
//
//	devices:       mapping of device id to value file path (required)
//	poll_interval: seconds between samples (default 10)
package gpiodev

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oakmere/fieldgate/internal/integration"
)

// Name is the registration name referenced by configuration.
const Name = "gpio"

// defaultPollInterval is used when poll_interval is absent.
const defaultPollInterval = 10 * time.Second

// writeFilePermissions for values written to output files.
const writeFilePermissions = 0600

// maxBufferedReadings bounds the internal reading buffer. When the
// collector falls behind, the oldest buffered samples are dropped
// and counted.
const maxBufferedReadings = 4096

// GPIODev samples file-backed pins into readings.
type GPIODev struct {
	paths        map[string]string
	pollInterval time.Duration
	logger       integration.Logger

	mu        sync.Mutex
	buffer    []integration.Reading
	lastKnown map[string]any
	dropped   uint64
	stop      chan struct{}
	done      chan struct{}
}

// Descriptor returns the registry descriptor for this integration.
func Descriptor() integration.Descriptor {
	return integration.Descriptor{
		Name:        Name,
		Description: "GPIO and file-backed pin devices",
		Factory:     newFromParams,
	}
}

func newFromParams(params map[string]any, logger integration.Logger) (integration.Integration, error) {
	paths, err := integration.StringMapParam(params, "devices")
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("gpio integration has no devices: %w", integration.ErrConfiguration)
	}
	pollSecs, err := integration.IntParam(params, "poll_interval", 0)
	if err != nil {
		return nil, err
	}

	pollInterval := defaultPollInterval
	if pollSecs > 0 {
		pollInterval = time.Duration(pollSecs) * time.Second
	}

	return &GPIODev{
		paths:        paths,
		pollInterval: pollInterval,
		logger:       logger,
		lastKnown:    make(map[string]any),
	}, nil
}

// Connect verifies every value file exists, then starts the sampling
// goroutine. A missing file is a configuration error: the pin was
// never exported, retrying will not help.
func (g *GPIODev) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stop != nil {
		return nil
	}

	for deviceID, path := range g.paths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("device %q value file %s: %w: %w",
				deviceID, path, integration.ErrConfiguration, err)
		}
	}

	g.stop = make(chan struct{})
	g.done = make(chan struct{})
	go g.sampleLoop(g.stop, g.done)
	return nil
}

// sampleLoop reads every pin each interval. Read errors are logged
// and retried next round.
func (g *GPIODev) sampleLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	g.sampleOnce()

	for {
		select {
		case <-ticker.C:
			g.sampleOnce()
		case <-stop:
			return
		}
	}
}

func (g *GPIODev) sampleOnce() {
	for deviceID, path := range g.paths {
		value, err := readValueFile(path)
		if err != nil {
			g.logger.Warn("gpio sample failed",
				"device_id", deviceID, "path", path, "error", err)
			continue
		}

		g.mu.Lock()
		if len(g.buffer) >= maxBufferedReadings {
			g.buffer = g.buffer[1:]
			g.dropped++
		}
		g.buffer = append(g.buffer, integration.Reading{
			DeviceID:   deviceID,
			Value:      value,
			ObservedAt: time.Now().UTC(),
		})
		g.lastKnown[deviceID] = value
		g.mu.Unlock()
	}
}

// readValueFile parses a value file's contents as a number.
func readValueFile(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", integration.ErrConnection, err)
	}

	text := strings.TrimSpace(string(data))
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric value %q: %w", text, err)
	}
	return value, nil
}

// SendData writes the payload value to an output device's file.
// The only supported action is "write" with a payload value of
// number, bool or string.
func (g *GPIODev) SendData(ctx context.Context, deviceID, action string, payload map[string]any) error {
	path, ok := g.paths[deviceID]
	if !ok {
		return fmt.Errorf("device %q not mapped to a value file: %w", deviceID, integration.ErrConfiguration)
	}
	if action != "write" {
		return fmt.Errorf("gpio action %q not supported: %w", action, integration.ErrConfiguration)
	}

	text, err := formatValue(payload["value"])
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(text+"\n"), writeFilePermissions); err != nil {
		return fmt.Errorf("writing %s: %w: %w", path, integration.ErrConnection, err)
	}

	g.mu.Lock()
	g.lastKnown[deviceID] = payload["value"]
	g.mu.Unlock()
	return nil
}

// formatValue renders a command payload value as file text.
func formatValue(raw any) (string, error) {
	switch v := raw.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case bool:
		if v {
			return "1", nil
		}
		return "0", nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("payload value %T not writable: %w", raw, integration.ErrConfiguration)
	}
}

// Readings drains the buffered samples accumulated since the last
// call.
func (g *GPIODev) Readings(ctx context.Context) ([]integration.Reading, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.dropped > 0 {
		g.logger.Warn("gpio reading buffer overflowed since last drain",
			"dropped", g.dropped)
		g.dropped = 0
	}

	out := g.buffer
	g.buffer = nil
	return out, nil
}

// DeviceData returns the last sampled value per device. No I/O.
func (g *GPIODev) DeviceData() map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[string]any, len(g.lastKnown))
	for k, v := range g.lastKnown {
		out[k] = v
	}
	return out
}

// Disconnect stops the sampling goroutine. Safe to call repeatedly
// and after a failed Connect.
func (g *GPIODev) Disconnect(ctx context.Context) error {
	g.mu.Lock()
	stop, done := g.stop, g.done
	g.stop, g.done = nil, nil
	g.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sample loop to stop: %w", ctx.Err())
	}
}
