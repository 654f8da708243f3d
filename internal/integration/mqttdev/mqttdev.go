// Package mqttdev implements the MQTT built-in integration.
//
// Devices publish readings on fieldgate/device/{device_id}/state and
// accept commands on fieldgate/device/{device_id}/command/{action}.
// Payloads are JSON values (number, bool, string or object); payloads
// that fail to parse as JSON pass through as text.
package mqttdev

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oakmere/fieldgate/internal/infrastructure/config"
	"github.com/oakmere/fieldgate/internal/infrastructure/mqtt"
	"github.com/oakmere/fieldgate/internal/integration"
)

// Name is the registration name referenced by configuration.
const Name = "mqtt"

// maxBufferedReadings bounds the internal reading buffer. When the
// collector falls behind, the oldest buffered readings are dropped
// and counted.
const maxBufferedReadings = 4096

// MQTTDev bridges MQTT device topics into the integration contract.
type MQTTDev struct {
	cfg    config.MQTTConfig
	logger integration.Logger
	topics mqtt.Topics

	mu        sync.Mutex
	client    *mqtt.Client
	buffer    []integration.Reading
	lastKnown map[string]any
	dropped   uint64
}

// Descriptor returns the registry descriptor for this integration.
// The broker configuration is captured at wiring time; per-instance
// parameters are not used.
func Descriptor(cfg config.MQTTConfig) integration.Descriptor {
	return integration.Descriptor{
		Name:        Name,
		Description: "MQTT topic devices (state subscribe, command publish)",
		Factory: func(_ map[string]any, logger integration.Logger) (integration.Integration, error) {
			if cfg.Broker.Host == "" {
				return nil, fmt.Errorf("mqtt broker host not configured: %w", integration.ErrConfiguration)
			}
			return &MQTTDev{
				cfg:       cfg,
				logger:    logger,
				lastKnown: make(map[string]any),
			}, nil
		},
	}
}

// Connect establishes the broker session and subscribes to device
// state topics. Idempotent: a second call while connected is a no-op.
func (m *MQTTDev) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil && m.client.IsConnected() {
		return nil
	}

	client, err := mqtt.Connect(m.cfg)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w: %w", integration.ErrConnection, err)
	}
	client.SetLogger(m.logger)

	if err := client.Subscribe(m.topics.AllDeviceStates(), byte(m.cfg.QoS), m.handleState); err != nil {
		client.Close() //nolint:errcheck // Best-effort cleanup on failed setup
		return fmt.Errorf("subscribing to device states: %w: %w", integration.ErrConnection, err)
	}

	m.client = client
	return nil
}

// handleState buffers one reading from a device state message.
func (m *MQTTDev) handleState(topic string, payload []byte) error {
	deviceID, ok := m.topics.ParseDeviceState(topic)
	if !ok {
		return fmt.Errorf("unexpected state topic %q", topic)
	}

	value := decodePayload(payload)
	reading := integration.Reading{
		DeviceID:   deviceID,
		Value:      value,
		ObservedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.buffer) >= maxBufferedReadings {
		m.buffer = m.buffer[1:]
		m.dropped++
	}
	m.buffer = append(m.buffer, reading)
	m.lastKnown[deviceID] = value
	return nil
}

// SendData publishes one command to a device command topic.
func (m *MQTTDev) SendData(ctx context.Context, deviceID, action string, payload map[string]any) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return fmt.Errorf("mqtt integration not connected: %w", integration.ErrConnection)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding command payload: %w", err)
	}

	topic := m.topics.DeviceCommand(deviceID, action)
	if err := client.Publish(topic, body, byte(m.cfg.QoS), false); err != nil {
		return fmt.Errorf("publishing command to %s: %w: %w", topic, integration.ErrConnection, err)
	}
	return nil
}

// Readings drains the buffered readings accumulated since the last
// call.
func (m *MQTTDev) Readings(ctx context.Context) ([]integration.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dropped > 0 {
		m.logger.Warn("mqtt reading buffer overflowed since last drain",
			"dropped", m.dropped)
		m.dropped = 0
	}

	out := m.buffer
	m.buffer = nil
	return out, nil
}

// DeviceData returns the last-known value per device. No I/O.
func (m *MQTTDev) DeviceData() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]any, len(m.lastKnown))
	for k, v := range m.lastKnown {
		out[k] = v
	}
	return out
}

// Disconnect closes the broker session. Safe to call repeatedly and
// after a failed Connect.
func (m *MQTTDev) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// decodePayload parses a state payload as JSON, falling back to the
// raw text for non-JSON values.
func decodePayload(payload []byte) any {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return string(payload)
	}
	if n, ok := raw.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return raw
}
