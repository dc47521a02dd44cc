package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"kiosk/internal/ipc"
	"kiosk/internal/playback"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, player, and task status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}

				stdout := cmd.OutOrStdout()
				printer := newStatusPrinter(stdout)

				printer.section("Daemon")
				printDaemonLines(printer, resp)
				printer.blank()

				printer.section("Player")
				printPlayerLines(printer, resp.Player)
				printer.blank()

				printer.section("Connectivity")
				printConnectivityLines(printer, resp)
				printer.blank()

				printer.section("Tasks")
				if resp.Tasks.Total == 0 {
					fmt.Fprintln(stdout, "No distribution tasks")
					return nil
				}
				view := newTableView("Status", "Count").rightAlign(1)
				appendTaskCounts(view, resp.Tasks)
				fmt.Fprintln(stdout, view.render())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func printDaemonLines(p *statusPrinter, resp *ipc.StatusResponse) {
	if resp.Running {
		p.line(statusOK, "Daemon", fmt.Sprintf("Running (pid %d, up %s)", resp.PID, formatUptime(resp.UptimeSec)))
	} else {
		p.line(statusWarn, "Daemon", "Not running")
	}
	p.line(statusInfo, "Database", resp.DatabasePath)
	if resp.LogPath != "" {
		p.line(statusInfo, "Log file", resp.LogPath)
	}
}

func printPlayerLines(p *statusPrinter, player ipc.PlayerStatus) {
	p.line(playerStateKind(player.State), "State", string(player.State))
	if player.CurrentTitle != "" || player.CurrentPath != "" {
		title := player.CurrentTitle
		if title == "" {
			title = player.CurrentPath
		}
		p.line(statusInfo, "Media", title)
	}
	if player.Progress != nil {
		p.line(statusInfo, "Position", fmt.Sprintf("%s / %s (%.0f%%)",
			formatSeconds(player.Progress.PositionSec),
			formatSeconds(player.Progress.DurationSec),
			player.Progress.Percent))
	}
	p.line(statusInfo, "Queue", fmt.Sprintf("%d item(s), index %d", player.QueueLength, player.CurrentIndex))
	p.line(statusInfo, "Volume", strconv.Itoa(player.Volume))
	p.line(statusInfo, "Loop", yesNo(player.Loop))
	if player.Restarts > 0 {
		p.line(statusWarn, "Restarts", strconv.Itoa(player.Restarts))
	}
	if player.LastError != "" {
		p.line(statusError, "Last error", player.LastError)
	}
}

func printConnectivityLines(p *statusPrinter, resp *ipc.StatusResponse) {
	if resp.BrokerConnected {
		p.line(statusOK, "Broker", "Connected")
	} else {
		p.line(statusWarn, "Broker", "Disconnected (commands queue on the broker)")
	}
}

func playerStateKind(state playback.State) statusKind {
	switch state {
	case playback.StatePlaying:
		return statusOK
	case playback.StateRestarting:
		return statusWarn
	case playback.StateStopped:
		return statusWarn
	default:
		return statusInfo
	}
}

func appendTaskCounts(view *tableView, counts ipc.TaskCounts) {
	add := func(label string, count int) {
		if count > 0 {
			view.addRow(label, strconv.Itoa(count))
		}
	}
	add("Queued", counts.Queued)
	add("In flight", counts.InFlight)
	add("Completed", counts.Completed)
	add("Failed", counts.Failed)
	add("Expired", counts.Expired)
}

func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	if d < time.Minute {
		return fmt.Sprintf("%ds", seconds)
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatSeconds(value float64) string {
	total := int(value)
	if total < 3600 {
		return fmt.Sprintf("%d:%02d", total/60, total%60)
	}
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
