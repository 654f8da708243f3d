// Package builtin assembles the static manifest of built-in
// integration descriptors. Registration is an explicit table, not
// reflection: adding a built-in means adding a line here.
package builtin

import (
	"github.com/oakmere/fieldgate/internal/infrastructure/config"
	"github.com/oakmere/fieldgate/internal/integration"
	"github.com/oakmere/fieldgate/internal/integration/gpiodev"
	"github.com/oakmere/fieldgate/internal/integration/httpdev"
	"github.com/oakmere/fieldgate/internal/integration/mqttdev"
	"github.com/oakmere/fieldgate/internal/integration/serialdev"
)

// Descriptors returns the built-in integration manifest. The MQTT
// integration captures the broker configuration; the rest take their
// parameters from the per-integration config maps.
func Descriptors(cfg *config.Config) []integration.Descriptor {
	return []integration.Descriptor{
		gpiodev.Descriptor(),
		httpdev.Descriptor(),
		mqttdev.Descriptor(cfg.MQTT),
		serialdev.Descriptor(),
	}
}
