// Package cli defines the cobra commands for the mio binary.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // set via ldflags at build time

var rootCmd = &cobra.Command{
	Use:   "mio",
	Short: "MIO, a voice and text conversational companion",
	Long: `MIO keeps a running conversation with a completion service, listens
on the local microphone, speaks replies aloud and serves a small HTTP API
plus a WebSocket event stream for the UI.

Running mio without a subcommand starts the server.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runServe,
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides HTTP_ADDRESS)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(subscriptionCmd)
}
