/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/alpinegear/identity/internal/server"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Deliver queued notification emails",
	Long: `Consumes the notification channel (NOTIFY_CHANNEL) and sends each message
over SMTP. Requires MQ_BACKEND; undeliverable messages are archived to
STORAGE_BACKEND when one is configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log := loadConfig()

		w, err := server.NewWorker(cmd.Context(), cfg, log)
		if err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
		return w.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
