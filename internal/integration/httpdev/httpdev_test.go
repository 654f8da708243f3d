package httpdev

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oakmere/fieldgate/internal/integration"
)

type testLogger struct{}

func (testLogger) Debug(string, ...any) {}
func (testLogger) Info(string, ...any)  {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Error(string, ...any) {}

// TestFactoryValidation verifies parameter requirements.
func TestFactoryValidation(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
	}{
		{name: "missing base_url", params: map[string]any{"devices": []any{"d1"}}},
		{name: "missing devices", params: map[string]any{"base_url": "http://x"}},
		{name: "bad poll_interval type", params: map[string]any{
			"base_url": "http://x", "devices": []any{"d1"}, "poll_interval": "soon",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Descriptor().Factory(tt.params, testLogger{})
			if !errors.Is(err, integration.ErrConfiguration) {
				t.Errorf("Factory() error = %v, want ErrConfiguration", err)
			}
		})
	}
}

// TestParsePollBody verifies both accepted response shapes.
func TestParsePollBody(t *testing.T) {
	t.Run("bare value", func(t *testing.T) {
		value, _, err := parsePollBody([]byte("21.5"))
		if err != nil {
			t.Fatalf("parsePollBody() error = %v", err)
		}
		if value != 21.5 {
			t.Errorf("value = %v, want 21.5", value)
		}
	})

	t.Run("structured with timestamp", func(t *testing.T) {
		body := []byte(`{"value": true, "observed_at": "2026-03-01T12:00:00Z"}`)
		value, observedAt, err := parsePollBody(body)
		if err != nil {
			t.Fatalf("parsePollBody() error = %v", err)
		}
		if value != true {
			t.Errorf("value = %v, want true", value)
		}
		want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		if !observedAt.Equal(want) {
			t.Errorf("observedAt = %v, want %v", observedAt, want)
		}
	})

	t.Run("invalid timestamp", func(t *testing.T) {
		body := []byte(`{"value": 1, "observed_at": "yesterday"}`)
		if _, _, err := parsePollBody(body); err == nil {
			t.Error("parsePollBody() accepted invalid timestamp")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, _, err := parsePollBody([]byte("not json at all {")); err == nil {
			t.Error("parsePollBody() accepted garbage")
		}
	})
}

// TestPollCycle verifies the end-to-end poll against a test server.
func TestPollCycle(t *testing.T) {
	var polls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		switch r.URL.Path {
		case "/devices/soil-1":
			json.NewEncoder(w).Encode(map[string]any{"value": 0.37}) //nolint:errcheck // Test handler
		case "/devices/broken-1":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	integ, err := Descriptor().Factory(map[string]any{
		"base_url":      srv.URL,
		"devices":       []any{"soil-1", "broken-1"},
		"poll_interval": 3600, // Only the initial round runs during the test.
	}, testLogger{})
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}

	ctx := context.Background()
	if err := integ.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer integ.Disconnect(ctx) //nolint:errcheck // Test cleanup

	// Wait for the initial poll round to land.
	deadline := time.After(2 * time.Second)
	var readings []integration.Reading
	for len(readings) == 0 {
		select {
		case <-deadline:
			t.Fatal("no readings after initial poll round")
		case <-time.After(10 * time.Millisecond):
		}
		readings, err = integ.Readings(ctx)
		if err != nil {
			t.Fatalf("Readings() error = %v", err)
		}
	}

	// The failing device is skipped, the healthy one delivered.
	if len(readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(readings))
	}
	if readings[0].DeviceID != "soil-1" || readings[0].Value != 0.37 {
		t.Errorf("reading = %+v, want soil-1 0.37", readings[0])
	}
	if polls.Load() < 2 {
		t.Errorf("polls = %d, want both devices attempted", polls.Load())
	}

	if data := integ.DeviceData(); data["soil-1"] != 0.37 {
		t.Errorf("DeviceData()[soil-1] = %v, want 0.37", data["soil-1"])
	}
}

// TestSendData verifies command POSTs.
func TestSendData(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck // Test handler
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	integ, err := Descriptor().Factory(map[string]any{
		"base_url": srv.URL,
		"devices":  []any{"pump-1"},
	}, testLogger{})
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}

	err = integ.SendData(context.Background(), "pump-1", "set_state", map[string]any{"on": true})
	if err != nil {
		t.Fatalf("SendData() error = %v", err)
	}
	if gotPath != "/devices/pump-1/set_state" {
		t.Errorf("path = %q, want /devices/pump-1/set_state", gotPath)
	}
	if gotBody["on"] != true {
		t.Errorf("body = %v, want on:true", gotBody)
	}
}

// TestSendDataFailure verifies non-2xx responses surface as connection errors.
func TestSendDataFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	integ, err := Descriptor().Factory(map[string]any{
		"base_url": srv.URL,
		"devices":  []any{"pump-1"},
	}, testLogger{})
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}

	err = integ.SendData(context.Background(), "pump-1", "set_state", nil)
	if !errors.Is(err, integration.ErrConnection) {
		t.Errorf("SendData() error = %v, want ErrConnection", err)
	}
}

// TestDisconnectIdempotent verifies repeated disconnects are safe,
// including before any connect.
func TestDisconnectIdempotent(t *testing.T) {
	integ, err := Descriptor().Factory(map[string]any{
		"base_url": "http://localhost:0",
		"devices":  []any{"d1"},
	}, testLogger{})
	if err != nil {
		t.Fatalf("Factory() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := integ.Disconnect(ctx); err != nil {
			t.Errorf("Disconnect() #%d error = %v", i+1, err)
		}
	}
}

// TestBufferOverflowDropsOldest verifies the buffer bound.
func TestBufferOverflowDropsOldest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"value": 0.37}) //nolint:errcheck // Test handler
	}))
	defer srv.Close()

	h := &HTTPDev{
		baseURL:   srv.URL,
		devices:   []string{"soil-1"},
		client:    srv.Client(),
		logger:    testLogger{},
		lastKnown: make(map[string]any),
	}
	h.buffer = make([]integration.Reading, 0, maxBufferedReadings)
	for i := 0; i < maxBufferedReadings; i++ {
		h.buffer = append(h.buffer, integration.Reading{DeviceID: "stale"})
	}

	h.pollOnce()

	readings, err := h.Readings(context.Background())
	if err != nil {
		t.Fatalf("Readings() error = %v", err)
	}
	if len(readings) != maxBufferedReadings {
		t.Errorf("buffered %d readings, want %d", len(readings), maxBufferedReadings)
	}
	if got := readings[len(readings)-1].DeviceID; got != "soil-1" {
		t.Errorf("newest reading device = %q, want %q", got, "soil-1")
	}
}
