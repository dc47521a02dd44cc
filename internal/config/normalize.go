package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeMQTT()
	if err := c.normalizeDownload(); err != nil {
		return err
	}
	if err := c.normalizePlayer(); err != nil {
		return err
	}
	return c.normalizeSystem()
}

func (c *Config) normalizeMQTT() {
	c.MQTT.Host = strings.TrimSpace(c.MQTT.Host)
	if c.MQTT.Host == "" {
		c.MQTT.Host = defaultHost
	}
	c.MQTT.ClientID = strings.TrimSpace(c.MQTT.ClientID)
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = defaultClientID
	}
	c.MQTT.DevicePath = trimTopicPath(c.MQTT.DevicePath)

	// Secrets may arrive through the environment so they stay out of the
	// config file.
	if value, ok := os.LookupEnv("KIOSK_MQTT_USERNAME"); ok && strings.TrimSpace(value) != "" {
		c.MQTT.Username = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("KIOSK_MQTT_PASSWORD"); ok && strings.TrimSpace(value) != "" {
		c.MQTT.Password = strings.TrimSpace(value)
	}

	c.MQTT.Keepalive = clampInt(c.MQTT.Keepalive, minKeepalive, maxKeepalive, defaultKeepalive)
	c.MQTT.StatusReportInterval = clampInt(c.MQTT.StatusReportInterval, minStatusReportInterval, maxStatusReportInterval, defaultStatusReportInterval)
	c.MQTT.HeartbeatInterval = clampInt(c.MQTT.HeartbeatInterval, minHeartbeatInterval, maxHeartbeatInterval, defaultHeartbeatInterval)
}

func (c *Config) normalizeDownload() error {
	var err error
	if strings.TrimSpace(c.Download.Path) == "" {
		c.Download.Path = defaultMediaDir
	}
	if c.Download.Path, err = expandPath(c.Download.Path); err != nil {
		return fmt.Errorf("download.path: %w", err)
	}

	c.Download.MaxConcurrent = clampInt(c.Download.MaxConcurrent, minMaxConcurrent, maxMaxConcurrent, defaultMaxConcurrent)
	if c.Download.RetryLimit < 0 {
		c.Download.RetryLimit = 0
	}
	if c.Download.RetryLimit > maxRetryLimit {
		c.Download.RetryLimit = maxRetryLimit
	}
	c.Download.Timeout = clampInt(c.Download.Timeout, minDownloadTimeout, maxDownloadTimeout, defaultDownloadTimeout)

	backoff := make([]int, 0, len(c.Download.RetryBackoff))
	for _, seconds := range c.Download.RetryBackoff {
		if seconds > 0 {
			backoff = append(backoff, seconds)
		}
	}
	if len(backoff) == 0 {
		backoff = defaultRetryBackoff()
	}
	c.Download.RetryBackoff = backoff

	c.Download.S3.Region = strings.TrimSpace(c.Download.S3.Region)
	c.Download.S3.Endpoint = strings.TrimSpace(c.Download.S3.Endpoint)
	c.Download.S3.AccessKeyID = strings.TrimSpace(c.Download.S3.AccessKeyID)
	c.Download.S3.SecretAccessKey = strings.TrimSpace(c.Download.S3.SecretAccessKey)
	return nil
}

func (c *Config) normalizePlayer() error {
	var err error
	if strings.TrimSpace(c.Player.VideoPath) != "" {
		if c.Player.VideoPath, err = expandPath(c.Player.VideoPath); err != nil {
			return fmt.Errorf("player.videoPath: %w", err)
		}
	}
	if c.Player.Volume < 0 {
		c.Player.Volume = 0
	}
	if c.Player.Volume > 100 {
		c.Player.Volume = 100
	}
	c.Player.Binary = strings.TrimSpace(c.Player.Binary)
	if c.Player.Binary == "" {
		c.Player.Binary = defaultPlayerBinary
	}
	return nil
}

func (c *Config) normalizeSystem() error {
	var err error
	c.System.DevicePath = trimTopicPath(c.System.DevicePath)
	c.System.RestartDelay = clampInt(c.System.RestartDelay, minRestartDelay, maxRestartDelaySeconds, defaultRestartDelay)
	c.System.MaxRestarts = clampInt(c.System.MaxRestarts, 1, maxRestartAttempts, defaultMaxRestarts)

	c.System.LogLevel = strings.ToLower(strings.TrimSpace(c.System.LogLevel))
	if c.System.LogLevel == "" {
		c.System.LogLevel = defaultLogLevel
	}
	c.System.LogFormat = strings.ToLower(strings.TrimSpace(c.System.LogFormat))
	switch c.System.LogFormat {
	case "", "console":
		c.System.LogFormat = "console"
	case "json":
	default:
		c.System.LogFormat = "console"
	}

	if strings.TrimSpace(c.System.LogPath) == "" {
		c.System.LogPath = defaultLogDir
	}
	if c.System.LogPath, err = expandPath(c.System.LogPath); err != nil {
		return fmt.Errorf("system.logPath: %w", err)
	}
	if strings.TrimSpace(c.System.StateDir) == "" {
		c.System.StateDir = defaultStateDir
	}
	if c.System.StateDir, err = expandPath(c.System.StateDir); err != nil {
		return fmt.Errorf("system.stateDir: %w", err)
	}
	c.System.APIBind = strings.TrimSpace(c.System.APIBind)

	c.System.APIToken = strings.TrimSpace(c.System.APIToken)
	if value, ok := os.LookupEnv("KIOSK_API_TOKEN"); ok && strings.TrimSpace(value) != "" {
		c.System.APIToken = strings.TrimSpace(value)
	}
	return nil
}

func clampInt(value, low, high, fallback int) int {
	if value == 0 {
		return fallback
	}
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

// trimTopicPath strips surrounding whitespace and slashes so device paths
// slot cleanly into topic strings.
func trimTopicPath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}
