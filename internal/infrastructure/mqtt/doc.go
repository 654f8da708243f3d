// Package mqtt provides MQTT client connectivity for Fieldgate.
//
// This package wraps paho.mqtt.golang with:
//   - Connection lifecycle management (connect, disconnect, health checks)
//   - Automatic reconnection with exponential backoff
//   - Subscription tracking and restoration on reconnect
//   - Last Will and Testament for offline detection
//   - Panic recovery in message handlers
//   - Topic builders for the fieldgate/* hierarchy
//
// The gateway's MQTT integration subscribes to device state topics and
// publishes device commands through this client.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{}
//	err = client.Subscribe(topics.AllDeviceStates(), 1,
//	    func(topic string, payload []byte) error {
//	        deviceID, _ := topics.ParseDeviceState(topic)
//	        // handle reading
//	        return nil
//	    })
package mqtt
