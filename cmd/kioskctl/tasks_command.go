package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"kiosk/internal/ipc"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	var all bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List distribution tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Tasks(all)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				if len(resp.Tasks) == 0 {
					if all {
						fmt.Fprintln(cmd.OutOrStdout(), "No tasks recorded")
					} else {
						fmt.Fprintln(cmd.OutOrStdout(), "No pending tasks")
					}
					return nil
				}
				view := newTableView("ID", "Status", "Attempts", "URI").rightAlign(2)
				for _, task := range resp.Tasks {
					status := task.Status
					if task.ErrorMessage != "" {
						status = fmt.Sprintf("%s (%s)", task.Status, task.ErrorMessage)
					}
					view.addRow(task.ID, status, strconv.Itoa(task.RetryCount), task.URI)
				}
				fmt.Fprintln(cmd.OutOrStdout(), view.render())
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include completed, failed, and expired tasks")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit machine-readable JSON")
	return cmd
}
