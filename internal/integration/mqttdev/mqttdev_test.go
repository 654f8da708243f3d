package mqttdev

import (
	"context"
	"errors"
	"testing"

	"github.com/oakmere/fieldgate/internal/infrastructure/config"
	"github.com/oakmere/fieldgate/internal/integration"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

// TestDescriptorRequiresBroker verifies factory validation.
func TestDescriptorRequiresBroker(t *testing.T) {
	desc := Descriptor(config.MQTTConfig{})
	if desc.Name != Name {
		t.Errorf("descriptor name = %q, want %q", desc.Name, Name)
	}

	_, err := desc.Factory(nil, testLogger{})
	if !errors.Is(err, integration.ErrConfiguration) {
		t.Errorf("Factory() without broker error = %v, want ErrConfiguration", err)
	}
}

// TestDescriptorBuildsIntegration verifies a configured broker yields
// an instance.
func TestDescriptorBuildsIntegration(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "test"},
		QoS:    1,
	}

	integ, err := Descriptor(cfg).Factory(nil, testLogger{})
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}
	if integ == nil {
		t.Fatal("Factory() returned nil integration")
	}
}

// TestDecodePayload verifies payload type mapping.
func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    any
	}{
		{"number", "21.5", 21.5},
		{"integer", "42", 42.0},
		{"bool", "true", true},
		{"quoted string", `"open"`, "open"},
		{"raw text fallback", "OK", "OK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodePayload([]byte(tt.payload))
			if got != tt.want {
				t.Errorf("decodePayload(%q) = %v (%T), want %v (%T)",
					tt.payload, got, got, tt.want, tt.want)
			}
		})
	}

	t.Run("object", func(t *testing.T) {
		got := decodePayload([]byte(`{"lux": 120}`))
		m, ok := got.(map[string]any)
		if !ok {
			t.Fatalf("decodePayload(object) = %T, want map", got)
		}
		if _, ok := m["lux"]; !ok {
			t.Error("decoded object missing lux key")
		}
	})
}

// TestHandleStateBuffersReadings verifies message-to-reading conversion
// and the drain contract.
func TestHandleStateBuffersReadings(t *testing.T) {
	m := &MQTTDev{logger: testLogger{}, lastKnown: make(map[string]any)}

	if err := m.handleState("fieldgate/device/soil-1/state", []byte("0.42")); err != nil {
		t.Fatalf("handleState() error = %v", err)
	}
	if err := m.handleState("fieldgate/device/door-1/state", []byte("true")); err != nil {
		t.Fatalf("handleState() error = %v", err)
	}

	readings, err := m.Readings(context.Background())
	if err != nil {
		t.Fatalf("Readings() error = %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("Readings() len = %d, want 2", len(readings))
	}
	if readings[0].DeviceID != "soil-1" || readings[0].Value != 0.42 {
		t.Errorf("readings[0] = %+v, want soil-1 0.42", readings[0])
	}

	// Drained: second call is empty.
	again, err := m.Readings(context.Background())
	if err != nil || len(again) != 0 {
		t.Errorf("second Readings() = %v, %v, want empty", again, err)
	}

	// Snapshot retains last-known values without I/O.
	data := m.DeviceData()
	if data["door-1"] != true {
		t.Errorf("DeviceData()[door-1] = %v, want true", data["door-1"])
	}
}

// TestHandleStateRejectsForeignTopics verifies non-state topics error.
func TestHandleStateRejectsForeignTopics(t *testing.T) {
	m := &MQTTDev{logger: testLogger{}, lastKnown: make(map[string]any)}

	if err := m.handleState("fieldgate/system/status", []byte("{}")); err == nil {
		t.Error("handleState() accepted a non-device topic")
	}
}

// TestBufferOverflowDropsOldest verifies the buffer bound.
func TestBufferOverflowDropsOldest(t *testing.T) {
	m := &MQTTDev{logger: testLogger{}, lastKnown: make(map[string]any)}

	for i := 0; i <= maxBufferedReadings; i++ {
		if err := m.handleState("fieldgate/device/s/state", []byte("1")); err != nil {
			t.Fatalf("handleState() error = %v", err)
		}
	}

	readings, err := m.Readings(context.Background())
	if err != nil {
		t.Fatalf("Readings() error = %v", err)
	}
	if len(readings) != maxBufferedReadings {
		t.Errorf("buffered %d readings, want %d", len(readings), maxBufferedReadings)
	}
}

// TestSendDataRequiresConnection verifies the disconnected error path.
func TestSendDataRequiresConnection(t *testing.T) {
	m := &MQTTDev{logger: testLogger{}, lastKnown: make(map[string]any)}

	err := m.SendData(context.Background(), "pump-1", "set_state", map[string]any{"on": true})
	if !errors.Is(err, integration.ErrConnection) {
		t.Errorf("SendData() disconnected error = %v, want ErrConnection", err)
	}
}

// TestDisconnectIdempotent verifies repeated disconnects are safe.
func TestDisconnectIdempotent(t *testing.T) {
	m := &MQTTDev{logger: testLogger{}, lastKnown: make(map[string]any)}

	for i := 0; i < 2; i++ {
		if err := m.Disconnect(context.Background()); err != nil {
			t.Errorf("Disconnect() #%d error = %v", i+1, err)
		}
	}
}
