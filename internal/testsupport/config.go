package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"kiosk/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The broker connection is disabled so tests never dial out; enable it
// explicitly when exercising the command channel against a fake.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.MQTT.Enabled = false
	cfgVal.MQTT.ClientID = "test-kiosk"
	cfgVal.Download.Path = filepath.Join(base, "media")
	cfgVal.Player.VideoPath = ""
	cfgVal.System.StateDir = filepath.Join(base, "state")
	cfgVal.System.LogPath = filepath.Join(base, "logs")
	cfgVal.System.APIBind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBroker points the config at a broker and enables the command channel.
func WithBroker(host string, port int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.MQTT.Enabled = true
		b.cfg.MQTT.Host = host
		b.cfg.MQTT.Port = port
	}
}

// WithDevicePath sets the hierarchical device identifier on the test config.
func WithDevicePath(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.MQTT.DevicePath = path
	}
}

// WithStubbedPlayer writes a stub player executable and points the config at
// it, so playback tests never launch a real window.
func WithStubbedPlayer() ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "mpv")
		script := []byte("#!/bin/sh\nexit 0\n")
		if err := os.WriteFile(target, script, 0o755); err != nil {
			b.t.Fatalf("write stub mpv: %v", err)
		}
		b.cfg.Player.Binary = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.System.StateDir)
}
