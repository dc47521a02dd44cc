// Package daemonrun boots the kiosk daemon process: environment and config
// loading, logging, preflight, the store, the daemon, and the IPC server,
// then blocks until a shutdown signal arrives. Both kioskd and `kioskctl
// daemon run` call into it so the two entry points cannot drift.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kiosk/internal/config"
	"kiosk/internal/daemon"
	"kiosk/internal/ipc"
	"kiosk/internal/logging"
	"kiosk/internal/preflight"
	"kiosk/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// ConfigPath overrides the default config location when non-empty.
	ConfigPath string
	// LogLevel overrides the configured log level when non-empty.
	LogLevel string
}

// Run starts the kiosk daemon runtime loop and blocks until SIGINT or
// SIGTERM. Credentials load from an optional env file before the config is
// read so they never have to live in config.toml.
func Run(cmdCtx context.Context, opts Options) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loadEnvFile()

	cfg, cfgPath, _, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	logPath := filepath.Join(cfg.System.LogPath, fmt.Sprintf("kiosk-%s.log", runID))
	level := opts.LogLevel
	if level == "" {
		level = cfg.System.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.System.LogFormat,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.System.LogPath, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update kiosk.log link: %v\n", err)
	}

	pidPath := cfg.PIDFilePath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	logger.Info("kiosk daemon starting",
		logging.String("config", cfgPath),
		logging.String("media_root", cfg.MediaRoot()),
		logging.String("broker", cfg.BrokerURL()),
		logging.Bool("broker_enabled", cfg.MQTT.Enabled))

	results := preflight.RunAll(signalCtx, cfg)
	for _, result := range results {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
			continue
		}
		logger.Error("preflight check failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail))
	}
	if failed := preflight.Failed(results); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, result := range failed {
			names = append(names, result.Name)
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(names, ", "))
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open task store", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, st, logger)
	if err != nil {
		st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start ipc server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	// A refused broker credential is the one channel fault treated as fatal;
	// an unreachable broker retries in the background instead.
	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	<-signalCtx.Done()
	logger.Info("kiosk daemon shutting down")
	return nil
}

// loadEnvFile reads KIOSK_ENV_FILE or ~/.config/kiosk/kiosk.env into the
// environment. Variables already set in the environment win.
func loadEnvFile() {
	path := strings.TrimSpace(os.Getenv("KIOSK_ENV_FILE"))
	if path == "" {
		expanded, err := config.ExpandPath("~/.config/kiosk/kiosk.env")
		if err != nil {
			return
		}
		path = expanded
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to load env file %s: %v\n", path, err)
	}
}

// ensureCurrentLogPointer keeps <logdir>/kiosk.log pointing at the newest
// per-run log file.
func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "kiosk.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
