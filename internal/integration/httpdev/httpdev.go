// Package httpdev implements the HTTP polling built-in integration.
//
// Each configured device is polled with GET {base_url}/devices/{id};
// the endpoint returns a JSON body of either a bare value or an
// object with "value" and optional "observed_at" (RFC3339) fields.
// Commands POST to {base_url}/devices/{id}/{action}.
//
// Parameters:
//
//	base_url:      endpoint root (required)
//	devices:       list of device ids to poll (required)
//	poll_interval: seconds between poll rounds (default 30)
//	timeout:       per-request timeout in seconds (default 10)
package httpdev

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/oakmere/fieldgate/internal/integration"
)

// Name is the registration name referenced by configuration.
const Name = "http"

// Defaults for optional parameters.
const (
	defaultPollInterval = 30 * time.Second
	defaultTimeout      = 10 * time.Second

	// maxResponseSize bounds poll response bodies.
	maxResponseSize = 1 << 20 // 1MB

	// maxBufferedReadings bounds the internal reading buffer. When
	// the collector falls behind, the oldest buffered readings are
	// dropped and counted.
	maxBufferedReadings = 4096
)

// HTTPDev polls HTTP endpoints for readings and posts commands back.
type HTTPDev struct {
	baseURL      string
	devices      []string
	pollInterval time.Duration
	client       *http.Client
	logger       integration.Logger

	mu        sync.Mutex
	buffer    []integration.Reading
	lastKnown map[string]any
	dropped   uint64
	stop      chan struct{}
	done      chan struct{}
}

// pollResponse is the structured form of a poll body.
type pollResponse struct {
	Value      any    `json:"value"`
	ObservedAt string `json:"observed_at"`
}

// Descriptor returns the registry descriptor for this integration.
func Descriptor() integration.Descriptor {
	return integration.Descriptor{
		Name:        Name,
		Description: "HTTP endpoint polling devices",
		Factory:     newFromParams,
	}
}

func newFromParams(params map[string]any, logger integration.Logger) (integration.Integration, error) {
	baseURL, err := integration.RequiredStringParam(params, "base_url")
	if err != nil {
		return nil, err
	}
	devices, err := integration.StringListParam(params, "devices")
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("http integration has no devices to poll: %w", integration.ErrConfiguration)
	}
	pollSecs, err := integration.IntParam(params, "poll_interval", 0)
	if err != nil {
		return nil, err
	}
	timeoutSecs, err := integration.IntParam(params, "timeout", 0)
	if err != nil {
		return nil, err
	}

	pollInterval := defaultPollInterval
	if pollSecs > 0 {
		pollInterval = time.Duration(pollSecs) * time.Second
	}
	timeout := defaultTimeout
	if timeoutSecs > 0 {
		timeout = time.Duration(timeoutSecs) * time.Second
	}

	return &HTTPDev{
		baseURL:      baseURL,
		devices:      devices,
		pollInterval: pollInterval,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
		lastKnown:    make(map[string]any),
	}, nil
}

// Connect starts the polling goroutine. Idempotent while running.
func (h *HTTPDev) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stop != nil {
		return nil
	}

	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go h.pollLoop(h.stop, h.done)
	return nil
}

// pollLoop polls every configured device each interval into the
// reading buffer. Transport errors are logged and retried next round;
// they never terminate the loop.
func (h *HTTPDev) pollLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	// First round immediately so readings appear without waiting a
	// full interval.
	h.pollOnce()

	for {
		select {
		case <-ticker.C:
			h.pollOnce()
		case <-stop:
			return
		}
	}
}

func (h *HTTPDev) pollOnce() {
	for _, deviceID := range h.devices {
		reading, err := h.pollDevice(deviceID)
		if err != nil {
			h.logger.Warn("http poll failed",
				"device_id", deviceID, "error", err)
			continue
		}

		h.mu.Lock()
		if len(h.buffer) >= maxBufferedReadings {
			h.buffer = h.buffer[1:]
			h.dropped++
		}
		h.buffer = append(h.buffer, reading)
		h.lastKnown[deviceID] = reading.Value
		h.mu.Unlock()
	}
}

func (h *HTTPDev) pollDevice(deviceID string) (integration.Reading, error) {
	url := fmt.Sprintf("%s/devices/%s", h.baseURL, deviceID)
	resp, err := h.client.Get(url)
	if err != nil {
		return integration.Reading{}, fmt.Errorf("%w: %w", integration.ErrConnection, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Read-only body

	if resp.StatusCode != http.StatusOK {
		return integration.Reading{}, fmt.Errorf("%w: %s returned %d", integration.ErrConnection, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return integration.Reading{}, fmt.Errorf("%w: reading body: %w", integration.ErrConnection, err)
	}

	value, observedAt, err := parsePollBody(body)
	if err != nil {
		return integration.Reading{}, err
	}

	return integration.Reading{
		DeviceID:   deviceID,
		Value:      value,
		ObservedAt: observedAt,
	}, nil
}

// parsePollBody decodes a poll response into a value and timestamp.
func parsePollBody(body []byte) (any, time.Time, error) {
	now := time.Now().UTC()

	// Structured form first: {"value": ..., "observed_at": "..."}
	var structured pollResponse
	if err := json.Unmarshal(body, &structured); err == nil && structured.Value != nil {
		observedAt := now
		if structured.ObservedAt != "" {
			parsed, err := time.Parse(time.RFC3339, structured.ObservedAt)
			if err != nil {
				return nil, time.Time{}, fmt.Errorf("invalid observed_at %q: %w", structured.ObservedAt, err)
			}
			observedAt = parsed
		}
		return structured.Value, observedAt, nil
	}

	// Bare JSON value.
	var bare any
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, time.Time{}, fmt.Errorf("unparseable poll body: %w", err)
	}
	return bare, now, nil
}

// SendData posts one command to the device endpoint.
func (h *HTTPDev) SendData(ctx context.Context, deviceID, action string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding command payload: %w", err)
	}

	url := fmt.Sprintf("%s/devices/%s/%s", h.baseURL, deviceID, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", integration.ErrConnection, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Response body unused

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: command %s returned %d", integration.ErrConnection, url, resp.StatusCode)
	}
	return nil
}

// Readings drains the buffered readings accumulated since the last
// call.
func (h *HTTPDev) Readings(ctx context.Context) ([]integration.Reading, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dropped > 0 {
		h.logger.Warn("http reading buffer overflowed since last drain",
			"dropped", h.dropped)
		h.dropped = 0
	}

	out := h.buffer
	h.buffer = nil
	return out, nil
}

// DeviceData returns the last polled value per device. No I/O.
func (h *HTTPDev) DeviceData() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]any, len(h.lastKnown))
	for k, v := range h.lastKnown {
		out[k] = v
	}
	return out
}

// Disconnect stops the polling goroutine. Safe to call repeatedly and
// after a failed Connect.
func (h *HTTPDev) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop, h.done = nil, nil
	h.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for poll loop to stop: %w", ctx.Err())
	}
}
