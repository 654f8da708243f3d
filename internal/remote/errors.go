package remote

import "errors"

var (
	// ErrRetryable indicates a transient failure: the request did not
	// reach the service or the service answered 5xx. The same payload
	// may succeed on a later attempt.
	ErrRetryable = errors.New("remote: retryable failure")

	// ErrRejected indicates the service refused the payload with a
	// 4xx status. Retrying the identical request cannot succeed.
	ErrRejected = errors.New("remote: request rejected")

	// ErrNotConfigured indicates the client is missing its base URL
	// or credentials.
	ErrNotConfigured = errors.New("remote: not configured")
)
