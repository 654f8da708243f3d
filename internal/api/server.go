// Package api provides the read-only admin HTTP API and WebSocket
// live feed for a Fieldgate instance.
//
// It exposes gateway status, integration states, the device routing
// table, and the transmission audit trail to local operators. All
// endpoints are read-only; device commands only ever arrive through
// the remote service's command channel.
//
// The server follows the same lifecycle pattern as other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from
// multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oakmere/fieldgate/internal/audit"
	"github.com/oakmere/fieldgate/internal/collector"
	"github.com/oakmere/fieldgate/internal/device"
	"github.com/oakmere/fieldgate/internal/dispatcher"
	"github.com/oakmere/fieldgate/internal/infrastructure/config"
	"github.com/oakmere/fieldgate/internal/infrastructure/logging"
	"github.com/oakmere/fieldgate/internal/integration"
	"github.com/oakmere/fieldgate/internal/queue"
	"github.com/oakmere/fieldgate/internal/transmitter"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the admin API server.
//
// Collector, Transmitter, Dispatcher, and Audit are optional; the
// corresponding endpoints degrade gracefully when they are nil.
type Deps struct {
	Config       config.AdminConfig
	Logger       *logging.Logger
	GatewayID    string
	Version      string
	Devices      *device.Registry
	Integrations *integration.Registry
	Queue        *queue.Queue
	Collector    *collector.Collector
	Transmitter  *transmitter.Transmitter
	Dispatcher   *dispatcher.Dispatcher
	Audit        audit.Repository
}

// Server is the admin HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.AdminConfig
	logger       *logging.Logger
	gatewayID    string
	version      string
	devices      *device.Registry
	integrations *integration.Registry
	queue        *queue.Queue
	collector    *collector.Collector
	transmitter  *transmitter.Transmitter
	dispatcher   *dispatcher.Dispatcher
	auditRepo    audit.Repository

	startedAt time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new admin API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registries, queue)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Integrations == nil {
		return nil, fmt.Errorf("integration registry is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}

	return &Server{
		cfg:          deps.Config,
		logger:       deps.Logger,
		gatewayID:    deps.GatewayID,
		version:      deps.Version,
		devices:      deps.Devices,
		integrations: deps.Integrations,
		queue:        deps.Queue,
		collector:    deps.Collector,
		transmitter:  deps.Transmitter,
		dispatcher:   deps.Dispatcher,
		auditRepo:    deps.Audit,
		hub:          NewHub(deps.Logger),
	}, nil
}

// Hub returns the WebSocket hub so readings can be fed into the live
// stream (via collector.SetOnReading).
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It builds the router, starts the WebSocket hub, and launches the
// HTTP listener in a background goroutine. The server is stopped with
// Close().
//
// Parameters:
//   - ctx: Context for background goroutine lifetime
//
// Returns:
//   - error: If the server is misconfigured
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now().UTC()

	// Internal context so Close() can stop the hub independently of
	// the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		s.logger.Info("admin API listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the admin API server.
//
// It waits up to gracefulShutdownTimeout for in-flight requests to
// complete, then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("admin API shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down admin API: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("admin API not started")
	}
	return nil
}
