package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"artfightwatch/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "artfightwatch",
	Short: "Politeness-constrained Art Fight watcher",
	Long:  "Polls monitored profiles and team standings, records what it has seen, and serves Atom feeds plus Discord notifications for anything new.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
