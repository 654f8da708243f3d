package device

import "errors"

var (
	// ErrDeviceNotFound indicates no route exists for the device ID.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists indicates a device ID is already registered.
	ErrDeviceExists = errors.New("device: already registered")

	// ErrInvalidRoute indicates a registration with missing fields.
	ErrInvalidRoute = errors.New("device: invalid route")
)
