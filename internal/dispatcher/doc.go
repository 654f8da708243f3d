// Package dispatcher polls the remote service for device commands and
// routes them to the owning integrations.
//
// The poll cursor lives in memory only. After a restart the first poll
// starts from an empty cursor and the service replays anything still
// outstanding; command handling is idempotent on the service side, so
// replays are safe.
//
// Every command is handled in isolation: one bad command is reported
// as failed and the rest of the poll batch still dispatches. A command
// is authorised against the device's registered send actions before
// its integration is ever invoked, so the remote service cannot drive
// a device through actions its configuration does not grant.
package dispatcher
