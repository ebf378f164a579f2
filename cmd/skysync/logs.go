package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/skysyncd/skysync/internal/controlplane"
	"github.com/skysyncd/skysync/internal/sync"
)

func init() {
	rootCmd.AddCommand(newLogsCmd())
}

func newLogsCmd() *cobra.Command {
	var level string
	var limit int

	cmd := &cobra.Command{
		Use:   "logs [task-id]",
		Short: "Show recent sync activity",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			request := cpClient().R().
				SetContext(cmd.Context()).
				SetQueryParam("limit", fmt.Sprint(limit))
			if len(args) == 1 {
				request.SetQueryParam("task_id", args[0])
			}
			if level != "" {
				request.SetQueryParam("level", level)
			}

			var result struct {
				Activity []*sync.Activity `json:"activity"`
			}
			resp, err := request.SetSuccessResult(&result).Get("/activity")
			if err := cpError(resp, err); err != nil {
				return err
			}

			if len(result.Activity) == 0 {
				fmt.Println("no activity")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tTASK\tLEVEL\tEVENT\tDETAIL")
			for _, event := range result.Activity {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(time.UnixMilli(event.CreatedAtMS)),
					event.TaskID, event.Level, event.Event, event.Detail)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&level, "level", "l", "", "filter by level (info|warn|error)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of events")
	cmd.Flags().StringVarP(&cpAddr, "addr", "a", controlplane.DefaultAddr, "daemon control plane address")
	return cmd
}
