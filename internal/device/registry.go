package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/oakmere/fieldgate/internal/integration"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Route describes where a device lives and what it can do.
//
// ReceiveActions are actions the device reports (readings flowing in);
// SendActions are actions the gateway may dispatch to it. The command
// dispatcher authorises every inbound command against SendActions
// before the owning integration is invoked.
type Route struct {
	DeviceID        string
	DeviceType      string
	IntegrationName string
	Integration     integration.Integration
	ReceiveActions  []string
	SendActions     []string
}

// SupportsSend reports whether the route permits dispatching action.
func (r Route) SupportsSend(action string) bool {
	for _, a := range r.SendActions {
		if a == action {
			return true
		}
	}
	return false
}

// Registry is the device routing table.
//
// All public methods are thread-safe. Resolve returns copies, so
// callers can hold a Route without racing against later mutations.
type Registry struct {
	mu     sync.RWMutex
	routes map[string]Route // keyed by device ID
	logger Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		routes: make(map[string]Route),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds a device route.
//
// Returns ErrDeviceExists if the ID is already registered; the
// existing route is retained. Returns ErrInvalidRoute if the ID,
// type, integration name, or integration instance is missing.
func (r *Registry) Register(deviceID, deviceType, integrationName string, integ integration.Integration, receiveActions, sendActions []string) error {
	if deviceID == "" || deviceType == "" || integrationName == "" || integ == nil {
		return fmt.Errorf("%w: device %q type %q integration %q", ErrInvalidRoute, deviceID, deviceType, integrationName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.routes[deviceID]; ok {
		return fmt.Errorf("%w: %s", ErrDeviceExists, deviceID)
	}

	r.routes[deviceID] = Route{
		DeviceID:        deviceID,
		DeviceType:      deviceType,
		IntegrationName: integrationName,
		Integration:     integ,
		ReceiveActions:  copyActions(receiveActions),
		SendActions:     copyActions(sendActions),
	}

	r.logger.Info("device registered",
		"device_id", deviceID,
		"device_type", deviceType,
		"integration", integrationName)
	return nil
}

// Resolve looks up the route for a device ID.
// Returns ErrDeviceNotFound if the device is not registered.
func (r *Registry) Resolve(deviceID string) (Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	route, ok := r.routes[deviceID]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	return copyRoute(route), nil
}

// DevicesFor returns the IDs of all devices owned by an integration,
// sorted for stable output. An unknown integration yields an empty
// slice, not an error.
func (r *Registry) DevicesFor(integrationName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, route := range r.routes {
		if route.IntegrationName == integrationName {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Unregister removes a device route.
// Returns true if the device was registered.
func (r *Registry) Unregister(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.routes[deviceID]; !ok {
		return false
	}
	delete(r.routes, deviceID)

	r.logger.Info("device unregistered", "device_id", deviceID)
	return true
}

// UnregisterIntegration removes every route owned by an integration.
// Returns the number of routes removed.
func (r *Registry) UnregisterIntegration(integrationName string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, route := range r.routes {
		if route.IntegrationName == integrationName {
			delete(r.routes, id)
			removed++
		}
	}

	if removed > 0 {
		r.logger.Info("integration devices unregistered",
			"integration", integrationName,
			"count", removed)
	}
	return removed
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Snapshot returns a copy of every registered route, sorted by device
// ID. Intended for the admin API and diagnostics.
func (r *Registry) Snapshot() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make([]Route, 0, len(r.routes))
	for _, route := range r.routes {
		routes = append(routes, copyRoute(route))
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].DeviceID < routes[j].DeviceID
	})
	return routes
}

func copyRoute(route Route) Route {
	route.ReceiveActions = copyActions(route.ReceiveActions)
	route.SendActions = copyActions(route.SendActions)
	return route
}

func copyActions(actions []string) []string {
	if len(actions) == 0 {
		return nil
	}
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}
