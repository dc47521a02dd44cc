package main

import (
	"github.com/spf13/cobra"

	"kiosk/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Daemon lifecycle helpers",
	}

	var logLevel string
	runCmd := &cobra.Command{
		Use:          "run",
		Short:        "Run the kiosk daemon in the foreground",
		Annotations:  map[string]string{"skipConfigLoad": "true"},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return daemonrun.Run(cmd.Context(), daemonrun.Options{
				ConfigPath: ctx.configPath(),
				LogLevel:   logLevel,
			})
		},
	}
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	daemonCmd.AddCommand(runCmd)
	return daemonCmd
}
