// Package main provides the yewchat CLI entry point. The root command opens
// the terminal client; "yewchat serve" runs the hub.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"yewchat/cmd/yewchat/chat"
	"yewchat/internal/config"
	"yewchat/internal/logging"
)

var (
	// Global flags
	cfgPath   string
	serverURL string
	username  string
	logFile   string

	// Loaded once in PersistentPreRunE; commands read it from here.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "yewchat",
	Short: "Terminal chat over WebSockets",
	Long: `yewchat is a small chat system: a WebSocket hub and a terminal client.

Run without arguments to open the client. Point it at a running hub with
--server, or start your own with "yewchat serve". Pick a username on the
login screen, or skip it with --username.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Version never needs (or fails on) a config file.
		if cmd == versionCmd {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if serverURL != "" {
			cfg.Client.ServerURL = serverURL
		}
		if username != "" {
			cfg.Client.Username = username
		}
		if logFile != "" {
			cfg.Logging.File = logFile
		}
		return cfg.Validate()
	},
	RunE: runChat,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "yewchat.yaml", "Config file path")
	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "", "Hub WebSocket URL (overrides config)")
	rootCmd.Flags().StringVarP(&username, "username", "u", "", "Join as this username, skipping the login screen")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Client log file (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runChat opens the terminal client. Logs go to a file because the alternate
// screen owns the terminal while the UI runs.
func runChat(cmd *cobra.Command, args []string) error {
	logger, _, err := logging.New(cfg.Logging, true)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	return chat.Run(*cfg, logger)
}
