/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alpinegear/identity/config"
	"github.com/alpinegear/identity/internal/logging"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "identity",
	Short: "Alpine Gear identity and account recovery service",
	Long: `Registration, login and password recovery for Alpine Gear shoppers.

	identity server     run the HTTP API
	identity worker     deliver queued notification emails
	identity migrate    manage the postgres schema`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, logging.Logger) {
	cfg := config.LoadConfig()
	return cfg, logging.NewStderr(cfg.Log.Level, cfg.Log.Format)
}
