package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pulse-cli/internal/config"
)

var cfg *config.Config

var (
	flagAs string
	flagAt int64
)

var rootCmd = &cobra.Command{
	Use:          "pulse-cli",
	Short:        "Agent liveness and reputation protocol",
	Long:         "Records paid liveness signals from agents, derives streaks and reliability scores, manages stakes and peer attestations, and relays protocol events to Kafka or Redis.",
	SilenceUsage: true,
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

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAs, "as", "", "address of the authenticated caller")
	rootCmd.PersistentFlags().Int64Var(&flagAt, "at", 0, "unix seconds to run at instead of the wall clock")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
