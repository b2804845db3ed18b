package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/leadsignal/intent-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "intent-cli",
	Short: "Buying-signal intent scoring for B2B prospecting",
	Long:  "Scores companies on buying intent from detected signals (funding, hiring, tech adoption), persists ranked predictions, and alerts on high-probability prospects.",
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
