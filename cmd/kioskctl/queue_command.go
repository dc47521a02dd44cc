package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"kiosk/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the playback rotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Queue()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Queue)
				}
				if len(resp.Queue.Items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				view := newTableView("#", "", "Title", "Asset", "Duration").rightAlign(0, 4)
				for i, item := range resp.Queue.Items {
					marker := ""
					if i == resp.Queue.CurrentIndex {
						marker = ">"
					}
					title := item.Title
					if title == "" {
						title = filepath.Base(item.Path)
					}
					duration := ""
					if item.DurationSec > 0 {
						duration = formatSeconds(item.DurationSec)
					}
					view.addRow(strconv.Itoa(i+1), marker, title, item.AssetID, duration)
				}
				fmt.Fprintln(cmd.OutOrStdout(), view.render())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}
