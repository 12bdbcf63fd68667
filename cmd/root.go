// Package cmd wires the CLI entry points for the Telegram transport.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vumi-telegram",
	Short: "Telegram transport bridge for the Vumi message bus",
	Long:  "Bridges Telegram webhook updates onto a RabbitMQ message bus and dispatches outbound replies back to the Telegram Bot API.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
