package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped by the release build.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "semigate",
	Short: "Semigate is a session-oriented UDP message gateway",
	Long: `A gateway that terminates connected-vehicle messaging dialogs over UDP,
tracks per-peer sessions, and hands delivered payloads to downstream
consumers. Complete documentation is available at
https://github.com/jmcleod/semigate`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
