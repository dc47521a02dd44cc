package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kiosk/internal/config"
	"kiosk/internal/faults"
)

func TestLoadDefaultsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantMedia := filepath.Join(tempHome, ".local", "share", "kiosk", "media")
	if cfg.Download.Path != wantMedia {
		t.Fatalf("unexpected media root: got %q want %q", cfg.Download.Path, wantMedia)
	}
	if cfg.MQTT.ClientID != "kiosk-player" {
		t.Fatalf("unexpected clientId: %q", cfg.MQTT.ClientID)
	}
	if !cfg.MQTT.Enabled || !cfg.MQTT.CleanSession {
		t.Fatal("expected mqtt enabled with clean sessions by default")
	}
	if cfg.Player.Volume != 70 {
		t.Fatalf("unexpected default volume: %d", cfg.Player.Volume)
	}
	if !cfg.Player.AutoPlay || !cfg.Player.Loop || !cfg.Player.PreloadNext {
		t.Fatal("expected autoPlay, loop, and preloadNext on by default")
	}
	if got := cfg.VideoPath(); got != cfg.Download.Path {
		t.Fatalf("expected videoPath to fall back to download.path, got %q", got)
	}
	if cfg.StatusReportInterval() != 30*time.Second {
		t.Fatalf("unexpected status report interval: %s", cfg.StatusReportInterval())
	}
	if cfg.HeartbeatInterval() != 15*time.Second {
		t.Fatalf("unexpected heartbeat interval: %s", cfg.HeartbeatInterval())
	}
	if cfg.BrokerURL() != "tcp://127.0.0.1:1883" {
		t.Fatalf("unexpected broker url: %q", cfg.BrokerURL())
	}
	if got := cfg.StagingDir(); !strings.HasPrefix(got, cfg.System.StateDir) {
		t.Fatalf("staging dir %q should live under state dir %q", got, cfg.System.StateDir)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.System.StateDir, cfg.StagingDir(), cfg.System.LogPath, cfg.Download.Path} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPathUsesWireKeys(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "kiosk.toml")

	raw := `
[mqtt]
host = "broker.fleet.example"
port = 8883
clientId = "lobby-screen"
devicePath = "/campus/hall-3/screen-7/"
statusReportInterval = 60000

[download]
maxConcurrent = 5
retryBackoff = [2, 4]
extractDefault = true

[player]
volume = 45
loop = false

[system]
enableAutoRestart = false
logLevel = "debug"
`
	if err := os.WriteFile(configPath, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be found")
	}
	if resolved != configPath {
		t.Fatalf("resolved path mismatch: %q", resolved)
	}
	if cfg.MQTT.Host != "broker.fleet.example" || cfg.MQTT.Port != 8883 {
		t.Fatalf("broker fields not decoded: %+v", cfg.MQTT)
	}
	if cfg.MQTT.ClientID != "lobby-screen" {
		t.Fatalf("clientId not decoded: %q", cfg.MQTT.ClientID)
	}
	if cfg.DevicePath() != "campus/hall-3/screen-7" {
		t.Fatalf("devicePath not trimmed: %q", cfg.DevicePath())
	}
	if cfg.Download.MaxConcurrent != 5 || !cfg.Download.ExtractDefault {
		t.Fatalf("download fields not decoded: %+v", cfg.Download)
	}
	if got := cfg.RetryBackoff(); len(got) != 2 || got[0] != 2*time.Second || got[1] != 4*time.Second {
		t.Fatalf("unexpected backoff schedule: %v", got)
	}
	if cfg.Player.Volume != 45 || cfg.Player.Loop {
		t.Fatalf("player fields not decoded: %+v", cfg.Player)
	}
	if cfg.System.EnableAutoRestart {
		t.Fatal("expected auto restart disabled")
	}
	if cfg.System.LogLevel != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.System.LogLevel)
	}
}

func TestLoadClampsIntervals(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "kiosk.toml")
	raw := `
[mqtt]
keepalive = 2
statusReportInterval = 1000
heartbeatInterval = 999999

[download]
maxConcurrent = 50
retryLimit = 99
retryBackoff = [0, -3, 5]

[player]
volume = 400
`
	if err := os.WriteFile(configPath, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MQTT.Keepalive != 10 {
		t.Fatalf("keepalive clamp: got %d", cfg.MQTT.Keepalive)
	}
	if cfg.MQTT.StatusReportInterval != 5000 {
		t.Fatalf("statusReportInterval clamp: got %d", cfg.MQTT.StatusReportInterval)
	}
	if cfg.MQTT.HeartbeatInterval != 120000 {
		t.Fatalf("heartbeatInterval clamp: got %d", cfg.MQTT.HeartbeatInterval)
	}
	if cfg.Download.MaxConcurrent != 10 {
		t.Fatalf("maxConcurrent clamp: got %d", cfg.Download.MaxConcurrent)
	}
	if cfg.Download.RetryLimit != 10 {
		t.Fatalf("retryLimit clamp: got %d", cfg.Download.RetryLimit)
	}
	if len(cfg.Download.RetryBackoff) != 1 || cfg.Download.RetryBackoff[0] != 5 {
		t.Fatalf("retryBackoff should drop non-positive entries: %v", cfg.Download.RetryBackoff)
	}
	if cfg.Player.Volume != 100 {
		t.Fatalf("volume clamp: got %d", cfg.Player.Volume)
	}
}

func TestEnvironmentOverridesSecrets(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "kiosk.toml")
	raw := `
[mqtt]
username = "from-file"
password = "file-secret"
`
	if err := os.WriteFile(configPath, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KIOSK_MQTT_USERNAME", "from-env")
	t.Setenv("KIOSK_MQTT_PASSWORD", "env-secret")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MQTT.Username != "from-env" || cfg.MQTT.Password != "env-secret" {
		t.Fatalf("env overrides not applied: %+v", cfg.MQTT)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "kiosk.toml")
	if err := os.WriteFile(configPath, []byte("[mqtt]\nport = 70000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, _, _, err := config.Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for port")
	}
	if !errors.Is(err, faults.ErrConfig) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "mqtt.port") {
		t.Fatalf("error should name the offending key: %v", err)
	}
}

func TestValidateSkipsBrokerChecksWhenDisabled(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "kiosk.toml")
	raw := `
[mqtt]
enabled = false
host = ""
port = 0
`
	if err := os.WriteFile(configPath, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := config.Load(configPath); err != nil {
		t.Fatalf("disabled broker should not be validated: %v", err)
	}
}

func TestDevicePathPrefersMQTTSection(t *testing.T) {
	cfg := config.Default()
	cfg.System.DevicePath = "campus/hall-1"
	if got := cfg.DevicePath(); got != "campus/hall-1" {
		t.Fatalf("expected system fallback, got %q", got)
	}
	cfg.MQTT.DevicePath = "campus/hall-2/screen-1"
	if got := cfg.DevicePath(); got != "campus/hall-2/screen-1" {
		t.Fatalf("expected mqtt section to win, got %q", got)
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	tempDir := t.TempDir()
	samplePath := filepath.Join(tempDir, "nested", "config.toml")

	if err := config.CreateSample(samplePath); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(samplePath)
	if err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.MQTT.ClientID != "kiosk-player" {
		t.Fatalf("sample should carry defaults, got clientId %q", cfg.MQTT.ClientID)
	}
}
