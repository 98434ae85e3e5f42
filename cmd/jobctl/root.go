package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8080"

type commandContext struct {
	server  string
	timeout time.Duration
	json    bool
}

func (c *commandContext) client() *apiClient {
	return newAPIClient(c.server, c.timeout)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Inspect and control media pipeline job queues",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	server := os.Getenv("JOBCTL_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.server, "server", "s", server, "Admin API base URL (env JOBCTL_SERVER)")
	rootCmd.PersistentFlags().DurationVar(&ctx.timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&ctx.json, "json", false, "Print raw JSON instead of tables")

	rootCmd.AddCommand(newStatusCommand(ctx))
	for _, cmd := range newQueueCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
