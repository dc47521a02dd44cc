package preflight

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const brokerDialTimeout = 3 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckBinary verifies that the named command resolves on PATH. Absolute
// paths are accepted as-is when the file exists and is executable.
func CheckBinary(name, command string) Result {
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	resolved, err := exec.LookPath(command)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not found on PATH)", command)}
	}
	return Result{Name: name, Passed: true, Detail: resolved}
}

// CheckBroker verifies that the MQTT broker accepts TCP connections. It does
// not authenticate; a listening socket is enough to call the broker reachable.
func CheckBroker(ctx context.Context, host string, port int) Result {
	const name = "MQTT broker"

	host = strings.TrimSpace(host)
	if host == "" {
		return Result{Name: name, Detail: "missing host"}
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: brokerDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", addr, err)}
	}
	conn.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", addr)}
}
