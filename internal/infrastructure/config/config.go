package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Fieldgate.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway      GatewayConfig                `yaml:"gateway"`
	Database     DatabaseConfig               `yaml:"database"`
	Queue        QueueConfig                  `yaml:"queue"`
	Remote       RemoteConfig                 `yaml:"remote"`
	Collection   CollectionConfig             `yaml:"collection"`
	Admin        AdminConfig                  `yaml:"admin"`
	MQTT         MQTTConfig                   `yaml:"mqtt"`
	InfluxDB     InfluxDBConfig               `yaml:"influxdb"`
	Logging      LoggingConfig                `yaml:"logging"`
	Integrations map[string]IntegrationConfig `yaml:"integrations"`
}

// GatewayConfig identifies this gateway instance.
type GatewayConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// QueueConfig contains durable queue settings.
type QueueConfig struct {
	// MaxQueueSize bounds pending + in-flight entries.
	MaxQueueSize int `yaml:"max_queue_size"`

	// FlushInterval is how often (seconds) queue state is flushed to storage
	// when PersistenceEnabled is false.
	FlushInterval int `yaml:"flush_interval"`

	// PersistenceEnabled makes every enqueue/acknowledge durable immediately
	// instead of within FlushInterval.
	PersistenceEnabled bool `yaml:"persistence_enabled"`

	// OverflowPolicy selects behaviour when the queue is full:
	// "drop_oldest" evicts the oldest pending entry, "reject_new" refuses
	// the incoming one.
	OverflowPolicy string `yaml:"overflow_policy"`
}

// RemoteConfig contains settings for the remote telemetry/control API.
type RemoteConfig struct {
	URL                  string `yaml:"url"`
	ClientID             string `yaml:"client_id"`
	ClientSecret         string `yaml:"client_secret"`
	BatchSize            int    `yaml:"batch_size"`
	TransmissionInterval int    `yaml:"transmission_interval"`
	PollInterval         int    `yaml:"poll_interval"`
	RetryMaxAttempts     int    `yaml:"retry_max_attempts"`
	RetryMinBackoff      int    `yaml:"retry_min_backoff"`
	RetryMaxBackoff      int    `yaml:"retry_max_backoff"`

	// AuditValues enables the per-value transmission audit trail.
	AuditValues bool `yaml:"audit_values"`
}

// CollectionConfig contains ingestion scheduling settings.
type CollectionConfig struct {
	// Interval is the default collection interval (seconds) for integrations
	// that do not set their own.
	Interval int `yaml:"interval"`
}

// AdminConfig contains the read-only admin/status HTTP API settings.
type AdminConfig struct {
	Enabled  bool               `yaml:"enabled"`
	Host     string             `yaml:"host"`
	Port     int                `yaml:"port"`
	Timeouts AdminTimeoutConfig `yaml:"timeouts"`
}

// AdminTimeoutConfig contains HTTP timeout settings (seconds).
type AdminTimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// MQTTConfig contains MQTT broker connection settings for the MQTT integration.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains settings for the optional local telemetry mirror.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// IntegrationConfig describes one configured integration instance.
type IntegrationConfig struct {
	Enabled bool `yaml:"enabled"`

	// CollectionInterval overrides collection.interval for this integration
	// (seconds). Zero means use the default.
	CollectionInterval int `yaml:"collection_interval"`

	// Params is passed opaquely to the integration's factory.
	Params map[string]any `yaml:"params"`

	// Devices maps device IDs owned by this integration to their routing
	// entries in the device type registry.
	Devices map[string]DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one device's routing entry.
type DeviceConfig struct {
	Type           string   `yaml:"type"`
	ReceiveActions []string `yaml:"receive_actions"`
	SendActions    []string `yaml:"send_actions"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FIELDGATE_SECTION_KEY
// For example: FIELDGATE_DATABASE_PATH, FIELDGATE_REMOTE_URL
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			ID:   "fieldgate-001",
			Name: "Fieldgate",
		},
		Database: DatabaseConfig{
			Path:        "./data/fieldgate.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Queue: QueueConfig{
			MaxQueueSize:       10000,
			FlushInterval:      300,
			PersistenceEnabled: true,
			OverflowPolicy:     "drop_oldest",
		},
		Remote: RemoteConfig{
			URL:                  "http://localhost:8080",
			BatchSize:            100,
			TransmissionInterval: 60,
			PollInterval:         30,
			RetryMaxAttempts:     5,
			RetryMinBackoff:      1,
			RetryMaxBackoff:      60,
		},
		Collection: CollectionConfig{
			Interval: 60,
		},
		Admin: AdminConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: AdminTimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fieldgate",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FIELDGATE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("FIELDGATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Remote API
	if v := os.Getenv("FIELDGATE_REMOTE_URL"); v != "" {
		cfg.Remote.URL = v
	}
	if v := os.Getenv("FIELDGATE_REMOTE_CLIENT_ID"); v != "" {
		cfg.Remote.ClientID = v
	}
	if v := os.Getenv("FIELDGATE_REMOTE_CLIENT_SECRET"); v != "" {
		cfg.Remote.ClientSecret = v
	}

	// MQTT
	if v := os.Getenv("FIELDGATE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FIELDGATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FIELDGATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("FIELDGATE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Admin API
	if v := os.Getenv("FIELDGATE_ADMIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Admin.Port = port
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Queue.MaxQueueSize < 1 {
		errs = append(errs, "queue.max_queue_size must be at least 1")
	}
	switch c.Queue.OverflowPolicy {
	case "drop_oldest", "reject_new":
	default:
		errs = append(errs, "queue.overflow_policy must be drop_oldest or reject_new")
	}
	if !c.Queue.PersistenceEnabled && c.Queue.FlushInterval < 1 {
		errs = append(errs, "queue.flush_interval must be at least 1 second when persistence is deferred")
	}

	if c.Remote.URL == "" {
		errs = append(errs, "remote.url is required")
	}
	if c.Remote.BatchSize < 1 {
		errs = append(errs, "remote.batch_size must be at least 1")
	}
	if c.Remote.TransmissionInterval < 1 {
		errs = append(errs, "remote.transmission_interval must be at least 1 second")
	}
	if c.Remote.PollInterval < 1 {
		errs = append(errs, "remote.poll_interval must be at least 1 second")
	}
	if c.Remote.RetryMaxAttempts < 1 {
		errs = append(errs, "remote.retry_max_attempts must be at least 1")
	}
	if c.Remote.RetryMinBackoff > c.Remote.RetryMaxBackoff {
		errs = append(errs, "remote.retry_min_backoff must not exceed remote.retry_max_backoff")
	}

	if c.Collection.Interval < 1 {
		errs = append(errs, "collection.interval must be at least 1 second")
	}

	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		errs = append(errs, "admin.port must be between 1 and 65535")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	for name, ic := range c.Integrations {
		if ic.CollectionInterval < 0 {
			errs = append(errs, fmt.Sprintf("integrations.%s.collection_interval must not be negative", name))
		}
		for deviceID, dc := range ic.Devices {
			if dc.Type == "" {
				errs = append(errs, fmt.Sprintf("integrations.%s.devices.%s.type is required", name, deviceID))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// CollectionInterval returns the effective collection interval for an
// integration, falling back to the global default.
func (c *Config) CollectionInterval(name string) time.Duration {
	if ic, ok := c.Integrations[name]; ok && ic.CollectionInterval > 0 {
		return time.Duration(ic.CollectionInterval) * time.Second
	}
	return time.Duration(c.Collection.Interval) * time.Second
}

// GetFlushInterval returns the queue flush interval as a Duration.
func (c *QueueConfig) GetFlushInterval() time.Duration {
	return time.Duration(c.FlushInterval) * time.Second
}

// GetTransmissionInterval returns the transmission interval as a Duration.
func (c *RemoteConfig) GetTransmissionInterval() time.Duration {
	return time.Duration(c.TransmissionInterval) * time.Second
}

// GetPollInterval returns the command poll interval as a Duration.
func (c *RemoteConfig) GetPollInterval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// GetRetryMinBackoff returns the minimum retry backoff as a Duration.
func (c *RemoteConfig) GetRetryMinBackoff() time.Duration {
	return time.Duration(c.RetryMinBackoff) * time.Second
}

// GetRetryMaxBackoff returns the maximum retry backoff as a Duration.
func (c *RemoteConfig) GetRetryMaxBackoff() time.Duration {
	return time.Duration(c.RetryMaxBackoff) * time.Second
}

// GetReadTimeout returns the admin API read timeout as a Duration.
func (c *AdminConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the admin API write timeout as a Duration.
func (c *AdminConfig) GetWriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the admin API idle timeout as a Duration.
func (c *AdminConfig) GetIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
