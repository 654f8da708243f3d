package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oakmere/fieldgate/internal/infrastructure/config"
	"github.com/oakmere/fieldgate/internal/queue"
)

func testConfig(url string) config.RemoteConfig {
	return config.RemoteConfig{
		URL:          url,
		ClientID:     "gw-client",
		ClientSecret: "test-secret",
	}
}

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := New(testConfig(url), "fieldgate-001")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client
}

func testEntries() []queue.Envelope {
	now := time.Date(2026, 1, 20, 9, 30, 0, 0, time.UTC)
	return []queue.Envelope{
		{
			Sequence:   1,
			DeviceID:   "temp-1",
			DeviceType: "temperature_sensor",
			Value:      queue.NumberValue(21.5),
			ObservedAt: now,
			EnqueuedAt: now,
		},
		{
			Sequence:   2,
			DeviceID:   "relay-1",
			DeviceType: "relay",
			Value:      queue.BoolValue(true),
			ObservedAt: now,
			EnqueuedAt: now,
		},
	}
}

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name      string
		cfg       config.RemoteConfig
		gatewayID string
	}{
		{"missing url", config.RemoteConfig{ClientID: "a", ClientSecret: "b"}, "gw"},
		{"missing client id", config.RemoteConfig{URL: "http://x", ClientSecret: "b"}, "gw"},
		{"missing client secret", config.RemoteConfig{URL: "http://x", ClientID: "a"}, "gw"},
		{"missing gateway id", testConfig("http://x"), ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.cfg, tc.gatewayID)
			if !errors.Is(err, ErrNotConfigured) {
				t.Errorf("expected ErrNotConfigured, got %v", err)
			}
		})
	}
}

func TestSendBatch(t *testing.T) {
	var got batchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/batch" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "Bearer ") {
			t.Errorf("missing bearer token, got %q", auth)
		}
		if id := r.Header.Get(headerGatewayID); id != "fieldgate-001" {
			t.Errorf("gateway header = %q, want fieldgate-001", id)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding batch: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	if err := client.SendBatch(context.Background(), testEntries()); err != nil {
		t.Fatalf("SendBatch failed: %v", err)
	}

	if got.GatewayID != "fieldgate-001" {
		t.Errorf("batch gateway_id = %q, want fieldgate-001", got.GatewayID)
	}
	if len(got.Readings) != 2 {
		t.Fatalf("batch carried %d readings, want 2", len(got.Readings))
	}
	if got.Readings[0].Sequence != 1 || got.Readings[1].Sequence != 2 {
		t.Errorf("sequences = %d, %d, want 1, 2", got.Readings[0].Sequence, got.Readings[1].Sequence)
	}
}

func TestSendBatchEmpty(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	if err := client.SendBatch(context.Background(), nil); err != nil {
		t.Fatalf("SendBatch of empty batch failed: %v", err)
	}
	if requests != 0 {
		t.Errorf("empty batch produced %d requests, want 0", requests)
	}
}

func TestSendBatchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	err := client.SendBatch(context.Background(), testEntries())
	if !errors.Is(err, ErrRetryable) {
		t.Errorf("expected ErrRetryable for 503, got %v", err)
	}
}

func TestSendBatchRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown device type", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	err := client.SendBatch(context.Background(), testEntries())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected for 400, got %v", err)
	}
	if !strings.Contains(err.Error(), "unknown device type") {
		t.Errorf("error does not carry the response body: %v", err)
	}
}

func TestSendBatchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client := testClient(t, srv.URL)
	srv.Close()

	err := client.SendBatch(context.Background(), testEntries())
	if !errors.Is(err, ErrRetryable) {
		t.Errorf("expected ErrRetryable for connection failure, got %v", err)
	}
}

func TestPollCommands(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/commands" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if since := r.URL.Query().Get("since"); since != "cursor-41" {
			t.Errorf("since = %q, want cursor-41", since)
		}
		resp := pollResponse{
			Commands: []Command{
				{ID: "cmd-1", DeviceID: "relay-1", Action: "set_state", Payload: map[string]any{"on": true}},
				{ID: "cmd-2", DeviceID: "pump-1", Action: "set_speed"},
			},
			Cursor: "cursor-43",
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	commands, cursor, err := client.PollCommands(context.Background(), "cursor-41")
	if err != nil {
		t.Fatalf("PollCommands failed: %v", err)
	}
	if len(commands) != 2 {
		t.Fatalf("got %d commands, want 2", len(commands))
	}
	if commands[0].ID != "cmd-1" || commands[0].Action != "set_state" {
		t.Errorf("first command = %+v", commands[0])
	}
	if cursor != "cursor-43" {
		t.Errorf("cursor = %q, want cursor-43", cursor)
	}
}

func TestPollCommandsKeepsCursorWhenOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"commands":[]}`)); err != nil {
			t.Errorf("writing response: %v", err)
		}
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	commands, cursor, err := client.PollCommands(context.Background(), "cursor-5")
	if err != nil {
		t.Fatalf("PollCommands failed: %v", err)
	}
	if len(commands) != 0 {
		t.Errorf("got %d commands, want 0", len(commands))
	}
	if cursor != "cursor-5" {
		t.Errorf("cursor = %q, want the previous cursor-5", cursor)
	}
}

func TestPollCommandsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	_, cursor, err := client.PollCommands(context.Background(), "cursor-9")
	if !errors.Is(err, ErrRetryable) {
		t.Errorf("expected ErrRetryable for 500, got %v", err)
	}
	if cursor != "cursor-9" {
		t.Errorf("cursor advanced on failure: %q", cursor)
	}
}

func TestAckCommand(t *testing.T) {
	var got CommandResult
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/commands/cmd-7/ack" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding ack: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := testClient(t, srv.URL)
	result := CommandResult{Status: CommandStatusFailed, Error: "action not permitted"}
	if err := client.AckCommand(context.Background(), "cmd-7", result); err != nil {
		t.Fatalf("AckCommand failed: %v", err)
	}
	if got.Status != CommandStatusFailed || got.Error != "action not permitted" {
		t.Errorf("ack body = %+v", got)
	}
}

func TestAckCommandEmptyID(t *testing.T) {
	client := testClient(t, "http://localhost:0")
	err := client.AckCommand(context.Background(), "", CommandResult{Status: CommandStatusAcknowledged})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("expected ErrRejected for empty id, got %v", err)
	}
}
