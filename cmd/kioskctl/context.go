package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"kiosk/internal/config"
	"kiosk/internal/ipc"
)

type commandContext struct {
	socketFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(socketFlag, configFlag *string) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) socketPath() string {
	if c.socketFlag == nil {
		return defaultSocketPath()
	}
	if strings.TrimSpace(*c.socketFlag) == "" {
		*c.socketFlag = defaultSocketPath()
	}
	return *c.socketFlag
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	client, err := c.dialClient()
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func (c *commandContext) dialClient() (*ipc.Client, error) {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return nil, wrapDialError(err, socket)
	}
	return client, nil
}

// daemonUnreachableError marks dial failures so main can exit with a distinct
// code. Scripts poll `kioskctl status` and need to tell "daemon down" apart
// from "command failed".
type daemonUnreachableError struct {
	socket string
	err    error
}

func (e *daemonUnreachableError) Error() string {
	switch {
	case errors.Is(e.err, syscall.ENOENT) || os.IsNotExist(e.err):
		return fmt.Sprintf("connect to daemon: socket %s not found; start the daemon with `kioskctl daemon run` or the kioskd service", e.socket)
	case errors.Is(e.err, syscall.ECONNREFUSED):
		return fmt.Sprintf("connect to daemon: socket %s refused the connection; verify the daemon is running", e.socket)
	default:
		return fmt.Sprintf("connect to daemon: %v", e.err)
	}
}

func (e *daemonUnreachableError) Unwrap() error { return e.err }

func wrapDialError(err error, socket string) error {
	return &daemonUnreachableError{socket: socket, err: err}
}

func defaultSocketPath() string {
	cfg, _, _, err := config.Load("")
	if err == nil {
		return cfg.SocketPath()
	}

	stateDir, err2 := config.ExpandPath("~/.local/state/kiosk")
	if err2 != nil {
		return filepath.Join(os.TempDir(), "kioskd.sock")
	}
	return filepath.Join(stateDir, "kioskd.sock")
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
