// Command kioskd runs the kiosk device daemon in the foreground. It is the
// binary a service manager supervises; `kioskctl daemon run` reaches the same
// entry point for interactive use.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"kiosk/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	logLevel := flag.String("log-level", "", "Log level override (debug, info, warn, error)")
	flag.Parse()

	err := daemonrun.Run(context.Background(), daemonrun.Options{
		ConfigPath: *configPath,
		LogLevel:   *logLevel,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
