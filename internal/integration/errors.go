package integration

import "errors"

// Sentinel errors for integration operations.
// Callers check these with errors.Is.
var (
	// ErrConnection indicates a transient transport failure. The
	// operation may succeed on retry; the integration keeps its
	// schedule and handles its own reconnect.
	ErrConnection = errors.New("integration: connection failure")

	// ErrConfiguration indicates a fatal setup problem. The
	// integration is marked failed and excluded from scheduling
	// until manually reloaded. Unknown descriptor names and name
	// collisions surface as this error too.
	ErrConfiguration = errors.New("integration: configuration error")
)
