package preflight

import (
	"context"

	"kiosk/internal/config"
)

// CheckBrokerFromConfig evaluates broker reachability for status displays.
// Returns a passing "Disabled" result when the command channel is off so the
// status table stays green on standalone installs.
func CheckBrokerFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "MQTT broker"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.MQTT.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	return CheckBroker(ctx, cfg.MQTT.Host, cfg.MQTT.Port)
}

// CheckPlayerFromConfig evaluates the player binary for status displays.
func CheckPlayerFromConfig(cfg *config.Config) Result {
	const name = "Player binary"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	return CheckBinary(name, cfg.Player.Binary)
}
