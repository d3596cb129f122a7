package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configDefault embedded default config.yaml, written on first run
var configDefault string

var rootCmd = &cobra.Command{
	Use:   "fast-board-sync",
	Short: "Fast Board Sync: real-time investigation board sync gateway and client",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.HelpTemplate()
		cmd.Help()
	},
}

func Execute(c string) {
	configDefault = c
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
