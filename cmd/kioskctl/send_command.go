package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kiosk/internal/ipc"
)

func newSendCommand(ctx *commandContext) *cobra.Command {
	var taskID string
	var checksum string
	var destName string
	var priority int
	var expireAt string
	var extract bool

	cmd := &cobra.Command{
		Use:   "send <uri>",
		Short: "Distribute a media payload to this device",
		Long: "Submit a distribution task for the given http(s) or s3 URI. The daemon\n" +
			"downloads, verifies, and registers the payload exactly as it would for a\n" +
			"broker-delivered distribute command.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.DistributeRequest{
				ID:       taskID,
				URI:      args[0],
				Checksum: checksum,
				DestName: destName,
				Priority: priority,
				ExpireAt: expireAt,
			}
			if cmd.Flags().Changed("extract") {
				req.Extract = &extract
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Distribute(req)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if !resp.Created {
					fmt.Fprintf(stdout, "Task %s already known (status %s)\n", resp.TaskID, resp.Status)
					if resp.FinalPath != "" {
						fmt.Fprintf(stdout, "Delivered to %s\n", resp.FinalPath)
					}
					return nil
				}
				fmt.Fprintf(stdout, "Task %s queued\n", resp.TaskID)
				fmt.Fprintln(stdout, "Watch progress with `kioskctl tasks`")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&taskID, "id", "", "Task id (defaults to a random UUID)")
	cmd.Flags().StringVar(&checksum, "checksum", "", "Expected payload digest, e.g. sha256:<hex>")
	cmd.Flags().StringVar(&destName, "dest", "", "Destination file name under the media root")
	cmd.Flags().IntVar(&priority, "priority", 0, "Dispatch priority (higher runs first)")
	cmd.Flags().StringVar(&expireAt, "expires", "", "Deadline as RFC 3339 or epoch seconds")
	cmd.Flags().BoolVar(&extract, "extract", false, "Treat the payload as an archive and unpack it")
	return cmd
}
