package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteReading mirrors one numeric reading into the local bucket.
//
// This is the primary method used by the transmitter after a batch is
// accepted upstream. The write is non-blocking; data is batched and
// sent asynchronously. Calls made while disconnected are dropped.
//
// Parameters:
//   - deviceID: Device identifier (e.g., "temp-greenhouse-01")
//   - deviceType: Registered type (e.g., "temperature_sensor")
//   - value: The numeric value observed
//   - observedAt: When the integration observed the value
func (c *Client) WriteReading(deviceID, deviceType string, value float64, observedAt time.Time) {
	c.WritePointWithTime(
		"readings",
		map[string]string{
			"device_id":   deviceID,
			"device_type": deviceType,
		},
		map[string]interface{}{
			"value": value,
		},
		observedAt,
	)
}

// WriteGatewayStat records a gateway-level counter or gauge.
//
// Used for operational metrics such as queue depth and dropped
// reading counts.
//
// Parameters:
//   - gatewayID: This gateway's identity
//   - stat: The stat name (e.g., "queue_depth", "readings_dropped")
//   - value: The current value
func (c *Client) WriteGatewayStat(gatewayID, stat string, value float64) {
	c.WritePointWithTime(
		"gateway_stats",
		map[string]string{
			"gateway_id": gatewayID,
			"stat":       stat,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
