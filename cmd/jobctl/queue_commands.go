package main

import (
	"fmt"

	"media-pipeline/internal/jobs"

	"github.com/spf13/cobra"
)

type jobCommand struct {
	Command string `json:"command"`
	Force   bool   `json:"force"`
}

func newQueueCommands(ctx *commandContext) []*cobra.Command {
	start := newJobCommand(ctx, "start", "Queue all matching assets for a queue")
	var force bool
	start.Flags().BoolVarP(&force, "force", "f", false, "Reprocess assets that already have results")
	start.RunE = runJobCommand(ctx, "start", &force)

	return []*cobra.Command{
		start,
		newJobCommand(ctx, "pause", "Stop dispatching jobs of a queue"),
		newJobCommand(ctx, "resume", "Resume a paused queue"),
		newJobCommand(ctx, "empty", "Drop every waiting job of a queue"),
	}
}

func newJobCommand(ctx *commandContext, command, short string) *cobra.Command {
	return &cobra.Command{
		Use:       command + " <queue>",
		Short:     short,
		Args:      cobra.ExactArgs(1),
		ValidArgs: queueNames(),
		RunE:      runJobCommand(ctx, command, nil),
	}
}

func runJobCommand(ctx *commandContext, command string, force *bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		queue, err := jobs.ParseQueue(args[0])
		if err != nil {
			return err
		}
		body := jobCommand{Command: command, Force: force != nil && *force}

		var status jobs.QueueStatus
		if err := ctx.client().do(cmd.Context(), "PUT", "/api/jobs/"+string(queue), body, &status); err != nil {
			return err
		}
		if ctx.json {
			return writeJSON(cmd, status)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (waiting %d, active %d)\n", queue, queueState(status), status.Waiting, status.Active)
		return nil
	}
}

func queueNames() []string {
	out := make([]string, 0, len(jobs.AllQueues))
	for _, q := range jobs.AllQueues {
		out = append(out, string(q))
	}
	return out
}
