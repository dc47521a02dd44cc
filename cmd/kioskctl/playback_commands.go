package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"kiosk/internal/command"
	"kiosk/internal/ipc"
)

func newPlaybackCommands(ctx *commandContext) []*cobra.Command {
	playCmd := &cobra.Command{
		Use:   "play [asset-id|file]",
		Short: "Start or resume playback, optionally of a specific item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.ControlRequest{Action: string(command.Play)}
			if len(args) == 1 {
				req.Ref = args[0]
			}
			return runControl(cmd, ctx, req, "Playback started")
		},
	}

	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause the current item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, ctx, ipc.ControlRequest{Action: string(command.Pause)}, "Playback paused")
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop playback and release the screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(cmd, ctx, ipc.ControlRequest{Action: string(command.Stop)}, "Playback stopped")
		},
	}

	volumeCmd := &cobra.Command{
		Use:   "volume <0-100>",
		Short: "Set the player volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := strconv.Atoi(args[0])
			if err != nil || level < 0 || level > 100 {
				return fmt.Errorf("volume must be an integer between 0 and 100, got %q", args[0])
			}
			req := ipc.ControlRequest{Action: string(command.SetVolume), Volume: level}
			return runControl(cmd, ctx, req, fmt.Sprintf("Volume set to %d", level))
		},
	}

	loopCmd := &cobra.Command{
		Use:   "loop on|off",
		Short: "Toggle queue looping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var loop bool
			switch args[0] {
			case "on":
				loop = true
			case "off":
				loop = false
			default:
				return fmt.Errorf("loop takes on or off, got %q", args[0])
			}
			req := ipc.ControlRequest{Action: string(command.SetLoop), Loop: loop}
			return runControl(cmd, ctx, req, fmt.Sprintf("Loop %s", args[0]))
		},
	}

	return []*cobra.Command{playCmd, pauseCmd, stopCmd, volumeCmd, loopCmd}
}

func runControl(cmd *cobra.Command, ctx *commandContext, req ipc.ControlRequest, okMessage string) error {
	return ctx.withClient(func(client *ipc.Client) error {
		resp, err := client.Control(req)
		if err != nil {
			return err
		}
		if resp.Status != string(command.AckOK) {
			if resp.Detail != "" {
				return errors.New(resp.Detail)
			}
			return fmt.Errorf("%s failed", req.Action)
		}
		fmt.Fprintln(cmd.OutOrStdout(), okMessage)
		return nil
	})
}
