package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kiosk/internal/ipc"
)

func newMediaCommand(ctx *commandContext) *cobra.Command {
	mediaCmd := &cobra.Command{
		Use:   "media",
		Short: "Inspect and manage the local media catalog",
	}

	mediaCmd.AddCommand(newMediaListCommand(ctx))
	mediaCmd.AddCommand(newMediaRemoveCommand(ctx))

	return mediaCmd
}

func newMediaListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List registered media assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Assets()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				if len(resp.Assets) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No media registered")
					return nil
				}
				view := newTableView("ID", "Title", "Size", "Path").rightAlign(2)
				for _, asset := range resp.Assets {
					view.addRow(asset.ID, asset.Title, formatBytes(asset.SizeBytes), asset.Path)
				}
				fmt.Fprintln(cmd.OutOrStdout(), view.render())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newMediaRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <asset-id>",
		Short: "Remove an asset from disk and the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RemoveAsset(args[0])
				if err != nil {
					return err
				}
				if resp.Deferred {
					fmt.Fprintf(cmd.OutOrStdout(), "Asset %s is on screen; removal completes when playback moves on\n", args[0])
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Asset %s removed\n", args[0])
				}
				return nil
			})
		},
	}
}

func formatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(size)/float64(div), "KMGTPE"[exp])
}
