package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagServer    string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "concall-peer",
	Short: "Headless WebRTC conference participant",
	Long: `concall-peer joins a conference room through a concall relay and
negotiates a WebRTC peer connection with every other participant. It is
meant for soak testing relays and for embedding calls in services that
have no browser.`,
}

// Execute runs the CLI. Called once from main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "ws://127.0.0.1:5000/ws", "relay websocket URL")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format (text, json)")
}
