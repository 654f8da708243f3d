package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// stopGracePeriod bounds how long StopAll waits for one integration's
// Disconnect before abandoning it.
const stopGracePeriod = 10 * time.Second

// instance pairs a live integration with its lifecycle state.
type instance struct {
	descriptor Descriptor
	integ      Integration
	state      State
	lastErr    string
}

// Registry maps registered integration names to factories and manages
// the lifecycle of instantiated integrations.
//
// All public methods are thread-safe. Mutation (Register, Discover,
// Instantiate) happens at startup and reload; the read paths serve
// the collector, dispatcher and admin API concurrently.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
	instances   map[string]*instance
	logger      Logger
}

// NewRegistry creates an empty integration registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]Descriptor),
		instances:   make(map[string]*instance),
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds one descriptor. A name collision is a configuration
// error: the earlier registration is retained, the later rejected.
func (r *Registry) Register(desc Descriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("descriptor has no name: %w", ErrConfiguration)
	}
	if desc.Factory == nil {
		return fmt.Errorf("descriptor %q has no factory: %w", desc.Name, ErrConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.descriptors[desc.Name]; exists {
		return fmt.Errorf("integration name %q already registered: %w", desc.Name, ErrConfiguration)
	}

	r.descriptors[desc.Name] = desc
	r.logger.Debug("integration registered", "name", desc.Name)
	return nil
}

// Discover registers a batch of descriptors with per-item isolation:
// one bad descriptor is logged and skipped, the rest are registered.
// The returned error joins all individual failures.
func (r *Registry) Discover(descs []Descriptor) error {
	var errs []error
	for _, desc := range descs {
		if err := r.Register(desc); err != nil {
			r.logger.Error("integration discovery rejected descriptor",
				"name", desc.Name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Instantiate constructs one integration instance from its registered
// factory. Unknown names and factory failures are configuration
// errors. At most one instance exists per name.
func (r *Registry) Instantiate(name string, params map[string]any) (Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	desc, ok := r.descriptors[name]
	if !ok {
		return nil, fmt.Errorf("no integration registered as %q: %w", name, ErrConfiguration)
	}
	if _, exists := r.instances[name]; exists {
		return nil, fmt.Errorf("integration %q already instantiated: %w", name, ErrConfiguration)
	}

	integ, err := desc.Factory(params, r.logger)
	if err != nil {
		return nil, fmt.Errorf("instantiating %q: %w", name, err)
	}

	r.instances[name] = &instance{
		descriptor: desc,
		integ:      integ,
		state:      StateUnloaded,
	}
	r.logger.Info("integration instantiated", "name", name)
	return integ, nil
}

// Get returns a running instance by name.
func (r *Registry) Get(name string) (Integration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[name]
	if !ok {
		return nil, false
	}
	return inst.integ, true
}

// StartAll connects every unloaded or stopped instance. Failures are
// collected, not short-circuited; a failed connect marks that
// instance failed and the rest still start.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, inst := range r.instances {
		if inst.state != StateUnloaded && inst.state != StateStopped {
			continue
		}
		prev := inst.state
		inst.state = StateStarted

		if err := inst.integ.Connect(ctx); err != nil {
			if errors.Is(err, ErrConfiguration) {
				inst.state = StateFailed
			} else {
				// Transient failure: a later StartAll may retry.
				inst.state = prev
			}
			inst.lastErr = err.Error()
			r.logger.Error("integration failed to start", "name", name, "error", err)
			errs = append(errs, fmt.Errorf("starting %q: %w", name, err))
			continue
		}

		inst.state = StateRunning
		inst.lastErr = ""
		r.logger.Info("integration started", "name", name)
	}
	return errors.Join(errs...)
}

// StopAll disconnects every running instance. One integration's
// failure or hang never blocks stopping the others: each Disconnect
// gets a bounded grace period and is abandoned if it overruns.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	var targets []*instance
	var names []string
	for name, inst := range r.instances {
		if inst.state == StateRunning {
			inst.state = StateStopping
			targets = append(targets, inst)
			names = append(names, name)
		}
	}
	r.mu.Unlock()

	var errs []error
	for i, inst := range targets {
		err := r.stopOne(ctx, names[i], inst.integ)

		r.mu.Lock()
		if err != nil {
			inst.lastErr = err.Error()
			errs = append(errs, fmt.Errorf("stopping %q: %w", names[i], err))
		}
		inst.state = StateStopped
		r.mu.Unlock()
	}
	return errors.Join(errs...)
}

// stopOne runs a single Disconnect under the grace period.
func (r *Registry) stopOne(ctx context.Context, name string, integ Integration) error {
	stopCtx, cancel := context.WithTimeout(ctx, stopGracePeriod)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- integ.Disconnect(stopCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			r.logger.Error("integration disconnect failed", "name", name, "error", err)
			return err
		}
		r.logger.Info("integration stopped", "name", name)
		return nil
	case <-stopCtx.Done():
		r.logger.Error("integration disconnect abandoned after grace period",
			"name", name, "grace_period", stopGracePeriod)
		return fmt.Errorf("disconnect timed out after %s", stopGracePeriod)
	}
}

// MarkFailed records a fatal failure for an instance so it is
// excluded from further scheduling. Used by the collector when an
// integration raises a configuration error mid-flight.
func (r *Registry) MarkFailed(name string, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[name]
	if !ok {
		return
	}
	inst.state = StateFailed
	if cause != nil {
		inst.lastErr = cause.Error()
	}
	r.logger.Warn("integration marked failed", "name", name, "error", inst.lastErr)
}

// StateOf returns the lifecycle state of an instance.
func (r *Registry) StateOf(name string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[name]
	if !ok {
		return "", false
	}
	return inst.state, true
}

// Statuses returns a snapshot of every instance, sorted by name, for
// the admin API.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]Status, 0, len(r.instances))
	for name, inst := range r.instances {
		statuses = append(statuses, Status{
			Name:        name,
			Description: inst.descriptor.Description,
			State:       inst.state,
			Error:       inst.lastErr,
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Name < statuses[j].Name
	})
	return statuses
}

// DeviceData returns the cached device snapshot for one instance.
func (r *Registry) DeviceData(name string) (map[string]any, error) {
	r.mu.RLock()
	inst, ok := r.instances[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no integration instance %q: %w", name, ErrConfiguration)
	}
	return inst.integ.DeviceData(), nil
}
