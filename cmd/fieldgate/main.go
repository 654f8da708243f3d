// Fieldgate - IoT Edge Gateway
//
// This is the main entry point for the Fieldgate edge gateway. Fieldgate
// collects readings from locally attached devices through pluggable
// integrations, queues them durably, and forwards them in batches to a
// remote ingestion service. It also polls the same service for device
// commands and dispatches them back through the integrations.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/oakmere/fieldgate/migrations"

	"github.com/oakmere/fieldgate/internal/api"
	"github.com/oakmere/fieldgate/internal/audit"
	"github.com/oakmere/fieldgate/internal/collector"
	"github.com/oakmere/fieldgate/internal/device"
	"github.com/oakmere/fieldgate/internal/dispatcher"
	"github.com/oakmere/fieldgate/internal/infrastructure/config"
	"github.com/oakmere/fieldgate/internal/infrastructure/database"
	"github.com/oakmere/fieldgate/internal/infrastructure/influxdb"
	"github.com/oakmere/fieldgate/internal/infrastructure/logging"
	"github.com/oakmere/fieldgate/internal/integration"
	"github.com/oakmere/fieldgate/internal/integration/builtin"
	"github.com/oakmere/fieldgate/internal/queue"
	"github.com/oakmere/fieldgate/internal/remote"
	"github.com/oakmere/fieldgate/internal/transmitter"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Fieldgate",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Build the durable queue on top of the database
	q, err := queue.New(ctx, queue.NewSQLiteStore(db), queue.Options{
		MaxSize:            cfg.Queue.MaxQueueSize,
		Policy:             queue.OverflowPolicy(cfg.Queue.OverflowPolicy),
		PersistImmediately: cfg.Queue.PersistenceEnabled,
		FlushInterval:      cfg.Queue.GetFlushInterval(),
	}, log)
	if err != nil {
		return fmt.Errorf("creating queue: %w", err)
	}
	defer func() {
		log.Info("closing queue")
		if closeErr := q.Close(context.Background()); closeErr != nil {
			log.Error("error closing queue", "error", closeErr)
		}
	}()
	log.Info("queue ready", "depth", q.Depth(), "capacity", cfg.Queue.MaxQueueSize)

	// Register built-in integration types and instantiate the configured ones
	integrations := integration.NewRegistry()
	integrations.SetLogger(log)
	if discoverErr := integrations.Discover(builtin.Descriptors(cfg)); discoverErr != nil {
		return fmt.Errorf("registering built-in integrations: %w", discoverErr)
	}

	devices := device.NewRegistry()
	devices.SetLogger(log)

	targets, err := buildIntegrations(cfg, integrations, devices, log)
	if err != nil {
		return err
	}

	if startErr := integrations.StartAll(ctx); startErr != nil {
		return fmt.Errorf("starting integrations: %w", startErr)
	}
	defer func() {
		log.Info("stopping integrations")
		if stopErr := integrations.StopAll(context.Background()); stopErr != nil {
			log.Error("error stopping integrations", "error", stopErr)
		}
	}()
	log.Info("integrations started",
		"integrations", len(targets),
		"devices", devices.Count(),
	)

	// Remote ingestion client
	remoteClient, err := remote.New(cfg.Remote, cfg.Gateway.ID)
	if err != nil {
		return fmt.Errorf("creating remote client: %w", err)
	}

	// Collection, transmission and command dispatch loops
	coll := collector.New(integrations, devices, q, targets)
	coll.SetLogger(log)

	trans := transmitter.New(q, remoteClient, cfg.Remote)
	trans.SetLogger(log)

	if cfg.Remote.AuditValues {
		trans.SetAudit(audit.NewSQLiteRepository(db))
		log.Info("transmission audit enabled")
	}

	// Connect to InfluxDB mirror (optional)
	mirror, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB mirror disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := mirror.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		mirror.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		trans.SetMirror(mirror, cfg.Gateway.ID)
		log.Info("InfluxDB mirror connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	disp := dispatcher.New(remoteClient, devices, cfg.Remote)
	disp.SetLogger(log)

	// Verify infrastructure connections are healthy before starting loops
	if healthErr := healthCheck(ctx, db, mirror); healthErr != nil {
		return fmt.Errorf("health check failed: %w", healthErr)
	}
	log.Info("all health checks passed")

	// Admin API (optional)
	if cfg.Admin.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:       cfg.Admin,
			Logger:       log,
			GatewayID:    cfg.Gateway.ID,
			Version:      version,
			Devices:      devices,
			Integrations: integrations,
			Queue:        q,
			Collector:    coll,
			Transmitter:  trans,
			Dispatcher:   disp,
			Audit:        auditRepo(cfg, db),
		})
		if apiErr != nil {
			return fmt.Errorf("creating admin API: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting admin API: %w", startErr)
		}
		defer func() {
			log.Info("stopping admin API")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping admin API", "error", closeErr)
			}
		}()

		// Feed queued readings into the WebSocket live stream.
		coll.SetOnReading(apiServer.Hub().BroadcastReading)
		log.Info("admin API started", "host", cfg.Admin.Host, "port", cfg.Admin.Port)
	} else {
		log.Info("admin API disabled")
	}

	log.Info("initialisation complete, running")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coll.Run(gctx) })
	g.Go(func() error { return trans.Run(gctx) })
	g.Go(func() error { return disp.Run(gctx) })

	if waitErr := g.Wait(); waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return fmt.Errorf("gateway loop failed: %w", waitErr)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. Admin API
	// 2. InfluxDB (if enabled)
	// 3. Integrations
	// 4. Queue (final flush)
	// 5. Database

	log.Info("Fieldgate stopped")
	return nil
}

// buildIntegrations instantiates every enabled integration, registers
// its configured devices, and returns the collection targets.
//
// Parameters:
//   - cfg: Application configuration
//   - integrations: Registry to instantiate into
//   - devices: Routing table to populate
//   - log: Logger instance
//
// Returns:
//   - []collector.Target: One target per enabled integration
//   - error: If instantiation or device registration fails
func buildIntegrations(cfg *config.Config, integrations *integration.Registry, devices *device.Registry, log *logging.Logger) ([]collector.Target, error) {
	targets := make([]collector.Target, 0, len(cfg.Integrations))

	for name, icfg := range cfg.Integrations {
		if !icfg.Enabled {
			log.Info("integration disabled", "name", name)
			continue
		}

		integ, err := integrations.Instantiate(name, icfg.Params)
		if err != nil {
			return nil, fmt.Errorf("instantiating integration %q: %w", name, err)
		}

		for deviceID, dcfg := range icfg.Devices {
			if regErr := devices.Register(deviceID, dcfg.Type, name, integ,
				dcfg.ReceiveActions, dcfg.SendActions); regErr != nil {
				return nil, fmt.Errorf("registering device %q: %w", deviceID, regErr)
			}
		}

		targets = append(targets, collector.Target{
			Name:        name,
			Integration: integ,
			Interval:    cfg.CollectionInterval(name),
		})
	}

	return targets, nil
}

// healthCheck verifies infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mirror: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mirror *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mirror.IsConnected() {
		if err := mirror.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The remote ingestion service is deliberately not health-checked at
	// startup: the gateway must run offline and deliver from the queue
	// once connectivity returns.

	return nil
}

// auditRepo returns the transmission audit repository for the admin API,
// or nil when auditing is disabled so the API reports it as unavailable.
func auditRepo(cfg *config.Config, db *database.DB) audit.Repository {
	if !cfg.Remote.AuditValues {
		return nil
	}
	return audit.NewSQLiteRepository(db)
}

// getConfigPath returns the configuration file path.
// Uses FIELDGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FIELDGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
