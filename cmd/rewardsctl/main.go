package main

import (
	"fmt"
	"os"

	"rewards-service/config"
	"rewards-service/internal/util"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "rewardsctl",
		Short:         "Operator commands for the rewards service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return util.InitLogger(config.Load().Server.Env)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			util.SyncLogger()
		},
	}

	root.AddCommand(
		MigrateCommand(),
		BulkPointsCommand(),
		ResetPointsCommand(),
		ResumeCommand(),
		HashPasswordCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
