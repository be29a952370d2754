package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/twindeck/internal/console"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Drive the mixer from an interactive prompt",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		r := startRig(ctx)
		con := console.New(ctx, r.mixer, os.Stdout, cfg.PollInterval, 0)
		return con.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}
