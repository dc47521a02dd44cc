package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		var unreachable *daemonUnreachableError
		if errors.As(err, &unreachable) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
