package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/imroc/req/v3"
	"github.com/spf13/cobra"

	"github.com/skysyncd/skysync/internal/controlplane"
	"github.com/skysyncd/skysync/internal/drivesdk"
	"github.com/skysyncd/skysync/internal/sync"
	"github.com/skysyncd/skysync/internal/utils"
)

var cpAddr string

func init() {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage sync tasks on the running daemon",
	}
	taskCmd.PersistentFlags().StringVarP(&cpAddr, "addr", "a", controlplane.DefaultAddr, "daemon control plane address")

	taskCmd.AddCommand(
		newTaskAddCmd(),
		newTaskListCmd(),
		newTaskRemoveCmd(),
		newTaskActionCmd("start", "Start a stopped task"),
		newTaskActionCmd("stop", "Stop a running task"),
		newTaskActionCmd("pause", "Pause a running task"),
		newTaskActionCmd("resume", "Resume a paused task"),
		newTaskActionCmd("sync", "Trigger a sync cycle now"),
	)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newConflictsCmd())
}

func cpClient() *req.Client {
	return req.C().
		SetBaseURL("http://" + cpAddr + "/api/v1").
		SetTimeout(30 * time.Second)
}

// cpError turns a non-2xx control plane reply into a readable error.
func cpError(resp *req.Response, err error) error {
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", cpAddr, err)
	}
	if resp.IsErrorState() {
		var body struct {
			Error string `json:"error"`
		}
		if uerr := resp.UnmarshalJson(&body); uerr == nil && body.Error != "" {
			return fmt.Errorf("%s", body.Error)
		}
		return fmt.Errorf("daemon replied %s", resp.Status)
	}
	return nil
}

func newTaskAddCmd() *cobra.Command {
	var interval int
	var noStart bool

	cmd := &cobra.Command{
		Use:   "add <local-dir> <remote-uri>",
		Short: "Create a sync task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			localRoot, err := utils.ResolvePath(args[0])
			if err != nil {
				return err
			}
			if !utils.DirExists(localRoot) {
				return fmt.Errorf("local dir %q does not exist", localRoot)
			}
			if !utils.IsWritable(localRoot) {
				return fmt.Errorf("local dir %q is not writable", localRoot)
			}

			var created struct {
				TaskID string `json:"task_id"`
			}
			resp, err := cpClient().R().
				SetContext(cmd.Context()).
				SetBody(map[string]any{
					"local_root":      localRoot,
					"remote_root_uri": drivesdk.BuildFileURI(args[1]),
					"interval_secs":   interval,
					"start":           !noStart,
				}).
				SetSuccessResult(&created).
				Post("/tasks")
			if err := cpError(resp, err); err != nil {
				return err
			}

			fmt.Printf("%s task %s\n", green("created"), cyan(created.TaskID))
			return nil
		},
	}

	cmd.Flags().IntVarP(&interval, "interval", "i", 0, "sync interval in seconds (0 = default)")
	cmd.Flags().BoolVar(&noStart, "no-start", false, "create without starting")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sync tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			var result struct {
				Tasks []struct {
					sync.Task
					Status *sync.StatusSnapshot `json:"status"`
				} `json:"tasks"`
			}
			resp, err := cpClient().R().
				SetContext(cmd.Context()).
				SetSuccessResult(&result).
				Get("/tasks")
			if err := cpError(resp, err); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLOCAL\tREMOTE\tSTATE\tLAST SYNC")
			for _, task := range result.Tasks {
				state := "stopped"
				lastSync := "never"
				if task.Status != nil {
					state = string(task.Status.State)
					if task.Status.HasConflicts {
						state += " (conflicts)"
					}
					if task.Status.LastSyncMS > 0 {
						lastSync = humanize.Time(time.UnixMilli(task.Status.LastSyncMS))
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					task.TaskID, task.LocalRoot, task.RemoteRootURI, state, lastSync)
			}
			return w.Flush()
		},
	}
}

func newTaskRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <task-id>",
		Aliases: []string{"remove"},
		Short:   "Stop and delete a task with its sync records",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			resp, err := cpClient().R().
				SetContext(cmd.Context()).
				Delete("/tasks/" + args[0])
			if err := cpError(resp, err); err != nil {
				return err
			}
			fmt.Printf("%s task %s\n", green("removed"), cyan(args[0]))
			return nil
		},
	}
}

func newTaskActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			resp, err := cpClient().R().
				SetContext(cmd.Context()).
				Post("/tasks/" + args[0] + "/" + action)
			if err := cpError(resp, err); err != nil {
				return err
			}
			fmt.Printf("%s %s %s\n", green("ok"), action, cyan(args[0]))
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show live status of running tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			var result struct {
				Tasks map[string]sync.StatusSnapshot `json:"tasks"`
			}
			resp, err := cpClient().R().
				SetContext(cmd.Context()).
				SetSuccessResult(&result).
				Get("/status")
			if err := cpError(resp, err); err != nil {
				return err
			}

			if len(result.Tasks) == 0 {
				fmt.Println("no running tasks")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tQUEUED\tIN-FLIGHT\tDONE\tFAILED\tSENT\tRECEIVED")
			for id, status := range result.Tasks {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
					id, status.State,
					status.Progress.Queued, status.Progress.InFlight,
					status.Progress.Completed, status.Progress.Failed,
					humanize.Bytes(uint64(status.Progress.BytesSent)),
					humanize.Bytes(uint64(status.Progress.BytesReceived)))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&cpAddr, "addr", "a", controlplane.DefaultAddr, "daemon control plane address")
	return cmd
}

func newConflictResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <task-id> <conflict-id>",
		Short: "Mark a conflict as dealt with (the conflict copy itself stays)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			resp, err := cpClient().R().
				SetContext(cmd.Context()).
				Post("/tasks/" + args[0] + "/conflicts/" + args[1] + "/resolve")
			if err := cpError(resp, err); err != nil {
				return err
			}
			fmt.Printf("%s conflict %s resolved\n", green("ok"), cyan(args[1]))
			return nil
		},
	}
}

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts <task-id>",
		Short: "List unresolved conflicts for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			var result struct {
				Conflicts []*sync.Conflict `json:"conflicts"`
			}
			resp, err := cpClient().R().
				SetContext(cmd.Context()).
				SetSuccessResult(&result).
				Get("/tasks/" + args[0] + "/conflicts")
			if err := cpError(resp, err); err != nil {
				return err
			}

			if len(result.Conflicts) == 0 {
				fmt.Println("no conflicts")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tORIGINAL\tCONFLICT COPY\tWHEN")
			for _, conflict := range result.Conflicts {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
					conflict.ID, conflict.OriginalRelPath, conflict.ConflictRelPath,
					humanize.Time(time.UnixMilli(conflict.CreatedAtMS)))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&cpAddr, "addr", "a", controlplane.DefaultAddr, "daemon control plane address")
	cmd.AddCommand(newConflictResolveCmd())
	return cmd
}
