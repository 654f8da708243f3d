package remote

import "time"

// Command statuses reported back to the service via AckCommand.
// Pending and dispatched are service-side states; the gateway only
// ever reports the two terminal ones.
const (
	CommandStatusPending      = "pending"
	CommandStatusDispatched   = "dispatched"
	CommandStatusAcknowledged = "acknowledged"
	CommandStatusFailed       = "failed"
)

// Command is one device command issued by the remote service.
type Command struct {
	ID       string         `json:"id"`
	DeviceID string         `json:"device_id"`
	Action   string         `json:"action"`
	Payload  map[string]any `json:"payload,omitempty"`
	IssuedAt time.Time      `json:"issued_at"`
}

// CommandResult is the outcome the gateway reports for a command.
// Error is set only when Status is failed.
type CommandResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
