package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"media-pipeline/internal/jobs"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts for every queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var status map[jobs.QueueName]jobs.QueueStatus
			if err := ctx.client().do(cmd.Context(), "GET", "/api/jobs", nil, &status); err != nil {
				return err
			}
			if ctx.json {
				return writeJSON(cmd, status)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(status))
			return nil
		},
	}
}

// renderStatus lists the queues in their canonical order, followed by any
// the server knows and this binary does not.
func renderStatus(status map[jobs.QueueName]jobs.QueueStatus) string {
	headers := []string{"Queue", "State", "Active", "Waiting", "Delayed", "Failed", "Completed"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight}

	seen := make(map[jobs.QueueName]bool, len(status))
	var rows [][]string
	add := func(name jobs.QueueName, st jobs.QueueStatus) {
		rows = append(rows, []string{
			string(name),
			queueState(st),
			strconv.FormatInt(st.Active, 10),
			strconv.FormatInt(st.Waiting, 10),
			strconv.FormatInt(st.Delayed, 10),
			strconv.FormatInt(st.Failed, 10),
			strconv.FormatInt(st.Completed, 10),
		})
		seen[name] = true
	}
	for _, name := range jobs.AllQueues {
		if st, ok := status[name]; ok {
			add(name, st)
		}
	}
	for name, st := range status {
		if !seen[name] {
			add(name, st)
		}
	}
	return renderTable(headers, rows, aligns)
}

func queueState(st jobs.QueueStatus) string {
	switch {
	case st.Paused:
		return "paused"
	case st.IsActive:
		return "running"
	default:
		return "idle"
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
