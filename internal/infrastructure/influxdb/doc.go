// Package influxdb provides the optional local telemetry mirror.
//
// It wraps the official influxdb-client-go v2 library. When enabled,
// the transmitter mirrors every numeric reading it delivers upstream
// into a local InfluxDB bucket, so sites with an on-premise dashboard
// can chart telemetry without a round trip through the remote service.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // influxdb.ErrDisabled when the mirror is off in config
//	}
//	defer client.Close()
//
//	client.WriteReading("temp-1", "temperature_sensor", 21.5, observedAt)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch errors are delivered via
// the SetOnError callback. Connection and health check errors are
// returned directly. The mirror is best-effort: a failed mirror write
// never affects upstream delivery.
package influxdb
