package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/taskflow/internal/model"
	"github.com/msageha/taskflow/internal/uds"
)

func newWatchCtlCommand(flags *globalFlags, stdout io.Writer) *cobra.Command {
	var (
		timeout    time.Duration
		jsonOutput bool
	)
	client := func() (*uds.Client, error) {
		_, dir, err := loadProject(flags)
		if err != nil {
			return nil, err
		}
		c := uds.NewClient(filepath.Join(dir, model.StateDirName, uds.SocketName))
		c.SetTimeout(timeout)
		return c, nil
	}

	cmd := &cobra.Command{
		Use:   "watch-ctl",
		Short: "Control a running watch loop",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show bindings and their run counts",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			c, err := client()
			if err != nil {
				return err
			}
			var data uds.StatusData
			if err := c.Call(uds.CmdStatus, nil, &data); err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(data)
			}
			printStatus(stdout, data)
			return nil
		},
	}
	status.Flags().BoolVar(&jsonOutput, "json", false, "print the raw status reply")

	cmd.AddCommand(
		status,
		&cobra.Command{
			Use:   "trigger <binding>",
			Short: "Queue a binding as if one of its files changed",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				c, err := client()
				if err != nil {
					return err
				}
				if err := c.Call(uds.CmdTrigger, uds.TriggerParams{Binding: args[0]}, nil); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "queued %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the watch loop after its current run",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				c, err := client()
				if err != nil {
					return err
				}
				if err := c.Call(uds.CmdShutdown, nil, nil); err != nil {
					return err
				}
				fmt.Fprintln(stdout, "stop requested")
				return nil
			},
		},
		&cobra.Command{
			Use:   "ping",
			Short: "Check that a watch loop is running",
			Args:  cobra.NoArgs,
			RunE: func(*cobra.Command, []string) error {
				c, err := client()
				if err != nil {
					return err
				}
				var reply struct {
					PID int `json:"pid"`
				}
				if err := c.Call(uds.CmdPing, nil, &reply); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "watch loop running (pid %d)\n", reply.PID)
				return nil
			},
		},
	)
	return cmd
}

func printStatus(w io.Writer, s uds.StatusData) {
	fmt.Fprintf(w, "pid %d watching %s\n", s.PID, s.Root)
	if s.Running != "" {
		fmt.Fprintf(w, "running: %s\n", s.Running)
	}
	for _, b := range s.Bindings {
		state := "idle"
		if b.Pending {
			state = "pending"
		}
		fmt.Fprintf(w, "  %-16s %-8s runs=%d failures=%d", b.Name, state, b.Runs, b.Failures)
		if b.LastErr != "" {
			fmt.Fprintf(w, " last_error=%q", b.LastErr)
		}
		fmt.Fprintln(w)
	}
}
