package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/agcensus/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "agcensus",
	Short: "County-level Census of Agriculture dataset builder",
	Long:  "Fetches county metrics from USDA NASS QuickStats, reconstructs withheld values from their domain breakdowns, merges them into one wide dataset and serves or publishes the result.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if _, err := config.InitLogger(cfg.Log, time.Now()); err != nil {
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
