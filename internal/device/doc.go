// Package device maintains the routing table that maps device IDs to
// the integrations that own them.
//
// Each registered device carries a Route: its device type, the owning
// integration, and the action sets it supports in each direction.
// Readings collected from integrations and commands arriving from the
// remote service are both resolved through this table, so a device
// that is not registered here is invisible to the rest of the gateway.
//
// The registry is an in-memory structure rebuilt from configuration on
// startup. Lookups vastly outnumber mutations, so it is guarded by a
// read-write mutex and all returned routes are copies.
package device
