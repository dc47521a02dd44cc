// Package config loads, normalizes, and validates kiosk configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, clamps every interval and limit into its
// documented range, and honours environment fallbacks such as
// KIOSK_MQTT_PASSWORD. The Config type centralizes every knob the daemon and
// CLI need, so the media root, broker identity, and state locations are
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
