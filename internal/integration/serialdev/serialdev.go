// Package serialdev implements the serial line built-in integration.
//
// The integration reads newline-delimited frames from a serial device
// file (a tty configured out of band, or any line-oriented device
// node). Each frame is "device_id:value", where value parses as a
// number, boolean or raw text. Commands are written back as
// "device_id:action:json" frames.
//
// Parameters:
//
//	device:            device file path (required)
//	reconnect_backoff: seconds between reopen attempts (default 5)
package serialdev

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oakmere/fieldgate/internal/integration"
)

// Name is the registration name referenced by configuration.
const Name = "serial"

// defaultReconnectBackoff is used when reconnect_backoff is absent.
const defaultReconnectBackoff = 5 * time.Second

// maxFrameSize bounds one serial line.
const maxFrameSize = 4096

// maxBufferedReadings bounds the internal reading buffer. When the
// collector falls behind, the oldest buffered readings are dropped
// and counted.
const maxBufferedReadings = 4096

// SerialDev reads line frames from a device file.
type SerialDev struct {
	path    string
	backoff time.Duration
	logger  integration.Logger

	mu        sync.Mutex
	file      *os.File
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
		Description: "serial line devices (device_id:value frames)",
		Factory:     newFromParams,
	}
}

func newFromParams(params map[string]any, logger integration.Logger) (integration.Integration, error) {
	path, err := integration.RequiredStringParam(params, "device")
	if err != nil {
		return nil, err
	}
	backoffSecs, err := integration.IntParam(params, "reconnect_backoff", 0)
	if err != nil {
		return nil, err
	}

	backoff := defaultReconnectBackoff
	if backoffSecs > 0 {
		backoff = time.Duration(backoffSecs) * time.Second
	}

	return &SerialDev{
		path:      path,
		backoff:   backoff,
		logger:    logger,
		lastKnown: make(map[string]any),
	}, nil
}

// Connect opens the device file and starts the read loop. Idempotent
// while running.
func (s *SerialDev) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return nil
	}

	file, err := os.OpenFile(s.path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("serial device %s: %w: %w", s.path, integration.ErrConfiguration, err)
		}
		return fmt.Errorf("opening serial device %s: %w: %w", s.path, integration.ErrConnection, err)
	}

	s.file = file
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.readLoop(file, s.stop, s.done)
	return nil
}

// readLoop scans frames until stopped, reopening the device with
// backoff after read failures. The stream restarts transparently
// across reconnects.
func (s *SerialDev) readLoop(file *os.File, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		s.scanFrames(file)

		select {
		case <-stop:
			return
		case <-time.After(s.backoff):
		}
		// The backoff timer and stop can fire together; never reopen
		// once stopped.
		select {
		case <-stop:
			return
		default:
		}

		reopened, err := os.OpenFile(s.path, os.O_RDWR, 0)
		if err != nil {
			s.logger.Warn("serial reopen failed", "path", s.path, "error", err)
			continue
		}

		s.mu.Lock()
		if s.file != nil {
			s.file.Close() //nolint:errcheck // Replacing a dead handle
		}
		s.file = reopened
		s.mu.Unlock()

		file = reopened
		s.logger.Info("serial device reopened", "path", s.path)
	}
}

// scanFrames consumes lines until the stream errors or closes.
func (s *SerialDev) scanFrames(file *os.File) {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, maxFrameSize), maxFrameSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		reading, err := parseFrame(line)
		if err != nil {
			s.logger.Warn("discarding malformed serial frame",
				"frame", line, "error", err)
			continue
		}

		s.mu.Lock()
		if len(s.buffer) >= maxBufferedReadings {
			s.buffer = s.buffer[1:]
			s.dropped++
		}
		s.buffer = append(s.buffer, reading)
		s.lastKnown[reading.DeviceID] = reading.Value
		s.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		s.logger.Warn("serial read failed", "path", s.path, "error", err)
	}
}

// parseFrame decodes one "device_id:value" line.
func parseFrame(line string) (integration.Reading, error) {
	deviceID, raw, ok := strings.Cut(line, ":")
	if !ok || deviceID == "" || raw == "" {
		return integration.Reading{}, fmt.Errorf("frame %q is not device_id:value", line)
	}

	var value any
	switch {
	case raw == "true" || raw == "false":
		value = raw == "true"
	default:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			value = f
		} else {
			value = raw
		}
	}

	return integration.Reading{
		DeviceID:   deviceID,
		Value:      value,
		ObservedAt: time.Now().UTC(),
	}, nil
}

// SendData writes one command frame to the device.
func (s *SerialDev) SendData(ctx context.Context, deviceID, action string, payload map[string]any) error {
	s.mu.Lock()
	file := s.file
	s.mu.Unlock()

	if file == nil {
		return fmt.Errorf("serial integration not connected: %w", integration.ErrConnection)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding command payload: %w", err)
	}

	frame := fmt.Sprintf("%s:%s:%s\n", deviceID, action, body)
	if _, err := file.WriteString(frame); err != nil {
		return fmt.Errorf("writing command frame: %w: %w", integration.ErrConnection, err)
	}
	return nil
}

// Readings drains the buffered frames accumulated since the last
// call.
func (s *SerialDev) Readings(ctx context.Context) ([]integration.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped > 0 {
		s.logger.Warn("serial reading buffer overflowed since last drain",
			"dropped", s.dropped)
		s.dropped = 0
	}

	out := s.buffer
	s.buffer = nil
	return out, nil
}

// DeviceData returns the last framed value per device. No I/O.
func (s *SerialDev) DeviceData() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]any, len(s.lastKnown))
	for k, v := range s.lastKnown {
		out[k] = v
	}
	return out
}

// Disconnect stops the read loop and closes the device. Safe to call
// repeatedly and after a failed Connect.
func (s *SerialDev) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	stop, done, file := s.stop, s.done, s.file
	s.stop, s.done, s.file = nil, nil, nil
	s.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	// Closing the file unblocks the scanner so the loop can exit.
	if file != nil {
		file.Close() //nolint:errcheck // Shutdown path
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for read loop to stop: %w", ctx.Err())
	}
}
