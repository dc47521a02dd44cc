package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kiosk/internal/config"
	"kiosk/internal/daemon"
	"kiosk/internal/ipc"
	"kiosk/internal/logging"
	"kiosk/internal/player"
	"kiosk/internal/store"
	"kiosk/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *store.Store
	daemon     *daemon.Daemon
	server     *ipc.Server
	socketPath string
	configPath string
	baseDir    string
	logPath    string
	cancel     context.CancelFunc
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Player.AutoPlay = false
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	base := testsupport.BaseDir(cfg)

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	st := testsupport.MustOpenStore(t, cfg)

	logger := logging.NewNop()
	noLaunch := func(context.Context, string, player.LaunchOptions) (player.Controller, error) {
		return nil, errors.New("no player in cli tests")
	}
	d, err := daemon.New(cfg, st, logger, daemon.WithLaunchFunc(noLaunch))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	socketPath := filepath.Join(cfg.System.StateDir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socketPath, d, logger)
	if err != nil {
		cancel()
		d.Stop()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("unix sockets unavailable in sandbox: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	env := &cliTestEnv{
		cfg:        cfg,
		store:      st,
		daemon:     d,
		server:     srv,
		socketPath: socketPath,
		configPath: configPath,
		baseDir:    base,
		logPath:    d.LogPath(),
		cancel:     cancel,
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Stop()
	})

	return env
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(`[mqtt]
enabled = false
clientId = %q

[download]
path = %q

[system]
stateDir = %q
logPath = %q
apiBind = %q
`,
		cfg.MQTT.ClientID,
		cfg.Download.Path,
		cfg.System.StateDir,
		cfg.System.LogPath,
		cfg.System.APIBind,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
