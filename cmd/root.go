package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smilezzm/schools-of-professors/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "profpipe",
	Short: "Faculty roster harvesting pipeline",
	Long:  "Crawls school faculty listings, extracts professor names, enriches them via a chat model, normalizes school names to abbreviations, and exports a merged CSV.",
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
