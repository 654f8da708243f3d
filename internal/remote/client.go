package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oakmere/fieldgate/internal/infrastructure/config"
	"github.com/oakmere/fieldgate/internal/queue"
)

const (
	defaultRequestTimeout = 15 * time.Second

	// headerGatewayID identifies the gateway on every request,
	// alongside the bearer token.
	headerGatewayID = "X-Gateway-ID"

	// maxErrorBodySize bounds how much of an error response body is
	// read for inclusion in error messages.
	maxErrorBodySize = 4096
)

// Client talks to the remote collection service.
//
// Thread Safety: All methods are safe for concurrent use. The
// transmitter and dispatcher share one Client.
type Client struct {
	baseURL    string
	gatewayID  string
	httpClient *http.Client
	tokens     *tokenSource
}

// New creates a remote client from configuration.
//
// Parameters:
//   - cfg: remote section of config.yaml
//   - gatewayID: this gateway's identity, sent on every request
//
// Returns:
//   - *Client: ready to use, no connection is established up front
//   - error: ErrNotConfigured if URL or credentials are missing
func New(cfg config.RemoteConfig, gatewayID string) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: missing url", ErrNotConfigured)
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: missing client credentials", ErrNotConfigured)
	}
	if gatewayID == "" {
		return nil, fmt.Errorf("%w: missing gateway id", ErrNotConfigured)
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		gatewayID: gatewayID,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
		tokens: newTokenSource(cfg.ClientID, cfg.ClientSecret),
	}, nil
}

// batchRequest is the wire format for a telemetry upload.
type batchRequest struct {
	GatewayID string           `json:"gateway_id"`
	Readings  []queue.Envelope `json:"readings"`
}

// SendBatch uploads one batch of queued readings.
//
// An empty batch is a no-op. A 2xx response means the service has
// accepted the whole batch. Failures are classified: network errors
// and 5xx wrap ErrRetryable, 4xx wraps ErrRejected.
func (c *Client) SendBatch(ctx context.Context, entries []queue.Envelope) error {
	if len(entries) == 0 {
		return nil
	}

	body := batchRequest{
		GatewayID: c.gatewayID,
		Readings:  entries,
	}

	resp, err := c.do(ctx, http.MethodPost, "/batch", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return c.classify(resp, "batch upload")
}

// pollResponse is the wire format for a command poll.
type pollResponse struct {
	Commands []Command `json:"commands"`
	Cursor   string    `json:"cursor"`
}

// PollCommands fetches commands issued since the given cursor.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - cursor: opaque position from the previous poll, empty on the
//     first poll after startup
//
// Returns:
//   - []Command: commands to dispatch, oldest first
//   - string: cursor to pass on the next poll
//   - error: ErrRetryable or ErrRejected on failure
func (c *Client) PollCommands(ctx context.Context, cursor string) ([]Command, string, error) {
	path := "/commands"
	if cursor != "" {
		path += "?since=" + url.QueryEscape(cursor)
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, cursor, err
	}
	defer resp.Body.Close()

	if err := c.classify(resp, "command poll"); err != nil {
		return nil, cursor, err
	}

	var out pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, cursor, fmt.Errorf("%w: decoding command poll response: %w", ErrRetryable, err)
	}
	if out.Cursor == "" {
		out.Cursor = cursor
	}
	return out.Commands, out.Cursor, nil
}

// AckCommand reports a command's terminal status to the service.
func (c *Client) AckCommand(ctx context.Context, commandID string, result CommandResult) error {
	if commandID == "" {
		return fmt.Errorf("%w: empty command id", ErrRejected)
	}

	path := "/commands/" + url.PathEscape(commandID) + "/ack"
	resp, err := c.do(ctx, http.MethodPost, path, result)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return c.classify(resp, "command ack")
}

// do builds, authenticates, and executes one request. Network-level
// failures wrap ErrRetryable; the response status is left to classify.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(headerGatewayID, c.gatewayID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	return resp, nil
}

// classify maps a response status to the retryable/rejected split.
// The caller still owns the body; on error the body has been read.
func (c *Client) classify(resp *http.Response, op string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s: HTTP %d: %s", ErrRetryable, op, resp.StatusCode, errorBody(resp))
	default:
		return fmt.Errorf("%w: %s: HTTP %d: %s", ErrRejected, op, resp.StatusCode, errorBody(resp))
	}
}

// errorBody reads a bounded prefix of an error response for context.
func errorBody(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil || len(data) == 0 {
		return resp.Status
	}
	return strings.TrimSpace(string(data))
}
