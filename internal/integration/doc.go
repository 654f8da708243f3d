// Package integration defines the adapter contract between the
// gateway and concrete device backends, and the registry that
// manages their lifecycle.
//
// An Integration owns one class of device transport (MQTT topics, an
// HTTP endpoint, GPIO pins, a serial line) and exposes a uniform
// capability set: connect, drain readings, send commands, snapshot
// cached device data, disconnect. The registry maps registered
// descriptor names to factories, instantiates integrations from
// configuration, and fans lifecycle operations out across them with
// per-integration error isolation.
//
// Failure taxonomy:
//   - ErrConnection: transient transport failure. The integration
//     stays scheduled and is expected to reconnect on its own.
//   - ErrConfiguration: fatal. The integration is marked failed and
//     excluded from further scheduling until reloaded.
package integration
