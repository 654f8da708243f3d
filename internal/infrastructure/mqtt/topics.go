package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the Fieldgate MQTT hierarchy.
//
// Device traffic uses the scheme: fieldgate/device/{device_id}/{category}
const (
	// TopicPrefix is the base for all gateway topics.
	TopicPrefix = "fieldgate"

	// TopicPrefixDevice is the base for device topics.
	TopicPrefixDevice = "fieldgate/device"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "fieldgate/system"
)

// Topics provides builders for Fieldgate MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("soil-moisture-1")
//	// Returns: "fieldgate/device/soil-moisture-1/state"
type Topics struct{}

// DeviceState returns the topic a device publishes readings on.
//
// Example: fieldgate/device/soil-moisture-1/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixDevice, deviceID)
}

// DeviceCommand returns the topic for commands to a device.
//
// Example: fieldgate/device/pump-1/command/set_state
func (Topics) DeviceCommand(deviceID, action string) string {
	return fmt.Sprintf("%s/%s/command/%s", TopicPrefixDevice, deviceID, action)
}

// SystemStatus returns the gateway status topic.
//
// Example: fieldgate/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: fieldgate/device/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixDevice)
}

// ParseDeviceState extracts the device ID from a device state topic.
//
// Returns:
//   - string: The device ID
//   - bool: false if the topic is not a device state topic
func (Topics) ParseDeviceState(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixDevice+"/")
	if !ok {
		return "", false
	}
	deviceID, ok := strings.CutSuffix(rest, "/state")
	if !ok || deviceID == "" || strings.Contains(deviceID, "/") {
		return "", false
	}
	return deviceID, true
}
