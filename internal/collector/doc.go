// Package collector pulls readings out of running integrations and
// feeds them into the durable queue.
//
// Each integration gets its own collection loop on its own interval,
// so a slow or failing integration never delays the others. Every
// reading is resolved through the device registry before it is
// queued; readings from devices that are not registered are counted
// and dropped, never queued.
//
// Transient integration errors are logged and the loop carries on.
// A configuration error is terminal for that integration: it is
// marked failed and its loop stops, while the rest keep collecting.
package collector
