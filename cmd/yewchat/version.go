package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time via -ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("yewchat %s (commit: %s, built: %s, %s)\n", version, commit, buildDate, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
