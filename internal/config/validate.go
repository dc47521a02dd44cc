package config

import (
	"fmt"

	"kiosk/internal/faults"
)

// Validate ensures the configuration is usable. Violations are configuration
// errors, which are fatal at startup.
func (c *Config) Validate() error {
	if err := c.validateMQTT(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validatePlayer(); err != nil {
		return err
	}
	return c.validateSystem()
}

func (c *Config) validateMQTT() error {
	if !c.MQTT.Enabled {
		return nil
	}
	if c.MQTT.Host == "" {
		return invalid("mqtt.host must be set when mqtt.enabled is true")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return invalid(fmt.Sprintf("mqtt.port must be between 1 and 65535, got %d", c.MQTT.Port))
	}
	if c.MQTT.ClientID == "" {
		return invalid("mqtt.clientId must be set when mqtt.enabled is true")
	}
	return nil
}

func (c *Config) validateDownload() error {
	if c.Download.Path == "" {
		return invalid("download.path must be set")
	}
	if len(c.Download.RetryBackoff) == 0 {
		return invalid("download.retryBackoff must include at least one wait")
	}
	return nil
}

func (c *Config) validatePlayer() error {
	if c.Player.Binary == "" {
		return invalid("player.binary must be set")
	}
	return nil
}

func (c *Config) validateSystem() error {
	switch c.System.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid(fmt.Sprintf("system.logLevel must be one of debug, info, warn, error; got %q", c.System.LogLevel))
	}
	if c.System.StateDir == "" {
		return invalid("system.stateDir must be set")
	}
	if !validBind(c.System.APIBind) {
		return invalid(fmt.Sprintf("system.apiBind %q is not a host:port", c.System.APIBind))
	}
	return nil
}

func invalid(message string) error {
	return faults.Wrap(faults.ErrConfig, "config", "validate", message, nil)
}
