package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/msageha/taskflow/internal/pipeline"
)

func newListCommand(flags *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks, targets and aliases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := openPipeline(flags, stdout, stderr)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()
			return printListing(stdout, p.Tasks(), p.Aliases())
		},
	}
}

func printListing(w io.Writer, tasks, aliases []pipeline.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASKS")
	for _, e := range tasks {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", e.Name, e.Kind, e.Describe())
	}
	if len(aliases) > 0 {
		fmt.Fprintln(tw, "\nALIASES")
		for _, e := range aliases {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", e.Name, e.Kind, e.Describe())
		}
	}
	return tw.Flush()
}
