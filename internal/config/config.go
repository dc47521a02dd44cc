package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// MQTT contains broker connection and reporting cadence settings. Key names
// follow the fleet's wire contract, so they stay camelCase.
type MQTT struct {
	Enabled              bool   `toml:"enabled"`
	Host                 string `toml:"host"`
	Port                 int    `toml:"port"`
	ClientID             string `toml:"clientId"`
	Username             string `toml:"username"`
	Password             string `toml:"password"`
	Keepalive            int    `toml:"keepalive"`
	CleanSession         bool   `toml:"cleanSession"`
	DevicePath           string `toml:"devicePath"`
	StatusReportInterval int    `toml:"statusReportInterval"`
	HeartbeatInterval    int    `toml:"heartbeatInterval"`
}

// S3 contains optional object-storage fetch settings for s3:// URIs. Empty
// values fall back to the standard AWS environment chain.
type S3 struct {
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"accessKeyId"`
	SecretAccessKey string `toml:"secretAccessKey"`
}

// Download contains distribution pipeline settings.
type Download struct {
	Path           string `toml:"path"`
	MaxConcurrent  int    `toml:"maxConcurrent"`
	RetryLimit     int    `toml:"retryLimit"`
	RetryBackoff   []int  `toml:"retryBackoff"`
	ExtractDefault bool   `toml:"extractDefault"`
	Timeout        int    `toml:"timeout"`
	S3             S3     `toml:"s3"`
}

// Player contains playback and external player settings.
type Player struct {
	VideoPath    string `toml:"videoPath"`
	AutoPlay     bool   `toml:"autoPlay"`
	Loop         bool   `toml:"loop"`
	ShowControls bool   `toml:"showControls"`
	Volume       int    `toml:"volume"`
	PreloadNext  bool   `toml:"preloadNext"`
	Binary       string `toml:"binary"`
}

// System contains device identity, restart policy, and daemon housekeeping.
type System struct {
	DevicePath        string `toml:"devicePath"`
	EnableAutoRestart bool   `toml:"enableAutoRestart"`
	RestartDelay      int    `toml:"restartDelay"`
	MaxRestarts       int    `toml:"maxRestarts"`
	LogLevel          string `toml:"logLevel"`
	LogFormat         string `toml:"logFormat"`
	LogPath           string `toml:"logPath"`
	StateDir          string `toml:"stateDir"`
	APIBind           string `toml:"apiBind"`
	APIToken          string `toml:"apiToken"`
	Autostart         bool   `toml:"autostart"`
}

// Config encapsulates all configuration values for the kiosk daemon.
//
// Sections by subsystem:
//   - MQTT: broker connection, device topic namespace, report cadences
//   - Download: distribution pipeline concurrency, retries, object storage
//   - Player: playback behavior and the external player binary
//   - System: device identity, restart policy, logging, state locations
type Config struct {
	MQTT     MQTT     `toml:"mqtt"`
	Download Download `toml:"download"`
	Player   Player   `toml:"player"`
	System   System   `toml:"system"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/kiosk/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and all numeric fields clamped.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/kiosk/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("kiosk.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation. The
// media root is created on a best-effort basis so the daemon can start when
// external storage is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.System.StateDir, c.StagingDir(), c.System.LogPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Download.Path) != "" {
		// Best-effort to avoid failing startup when storage is offline.
		_ = os.MkdirAll(c.Download.Path, 0o755)
	}
	return nil
}

// BrokerURL returns the paho connection URL for the configured broker.
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTT.Host, c.MQTT.Port)
}

// DevicePath returns the hierarchical device identifier, preferring the mqtt
// section over the system-level fallback.
func (c *Config) DevicePath() string {
	if path := strings.TrimSpace(c.MQTT.DevicePath); path != "" {
		return path
	}
	return strings.TrimSpace(c.System.DevicePath)
}

// KeepaliveInterval returns the MQTT keepalive as a duration.
func (c *Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.MQTT.Keepalive) * time.Second
}

// StatusReportInterval returns the state report cadence.
func (c *Config) StatusReportInterval() time.Duration {
	return time.Duration(c.MQTT.StatusReportInterval) * time.Millisecond
}

// HeartbeatInterval returns the heartbeat cadence.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.MQTT.HeartbeatInterval) * time.Millisecond
}

// DownloadTimeout returns the per-fetch timeout.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.Timeout) * time.Second
}

// RetryBackoff returns the backoff schedule as durations.
func (c *Config) RetryBackoff() []time.Duration {
	out := make([]time.Duration, 0, len(c.Download.RetryBackoff))
	for _, seconds := range c.Download.RetryBackoff {
		out = append(out, time.Duration(seconds)*time.Second)
	}
	return out
}

// RestartDelay returns the wait before a crashed item is reloaded.
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.System.RestartDelay) * time.Second
}

// MediaRoot returns the directory verified assets are registered into.
func (c *Config) MediaRoot() string {
	return c.Download.Path
}

// VideoPath returns the directory playback items resolve against.
func (c *Config) VideoPath() string {
	if strings.TrimSpace(c.Player.VideoPath) != "" {
		return c.Player.VideoPath
	}
	return c.Download.Path
}

// StagingDir returns the scratch directory for in-flight downloads and
// extraction. It lives under the state dir so partial content never touches
// the media root.
func (c *Config) StagingDir() string {
	return filepath.Join(c.System.StateDir, "staging")
}

// DatabasePath returns the sqlite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.System.StateDir, "kiosk.db")
}

// SnapshotPath returns the playback queue snapshot location.
func (c *Config) SnapshotPath() string {
	return filepath.Join(c.System.StateDir, "queue.json")
}

// PIDFilePath returns the daemon pid file location.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.System.StateDir, "kioskd.pid")
}

// SocketPath returns the unix socket used by the CLI.
func (c *Config) SocketPath() string {
	return filepath.Join(c.System.StateDir, "kioskd.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.System.StateDir, "kioskd.lock")
}

// PlayerSocketPath returns the unix socket the external player is controlled
// through.
func (c *Config) PlayerSocketPath() string {
	return filepath.Join(c.System.StateDir, "player.sock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func validBind(bind string) bool {
	if bind == "" {
		return true
	}
	u, err := url.Parse("http://" + bind)
	if err != nil {
		return false
	}
	return u.Port() != ""
}
