package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/pulse-cli/internal/model"
)

var stakeCmd = &cobra.Command{
	Use:   "stake <amount>",
	Short: "Lock tokens in the stake vault for the --as agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd.Context(), "stake", func(s *session, caller model.Address) error {
			decimals := s.engine.Params().AssetDecimals
			amount, err := parseAmount(args[0], decimals)
			if err != nil {
				return err
			}
			pos, err := s.engine.Stake(cmd.Context(), caller, amount)
			if err != nil {
				return err
			}
			printer.Fprintf(cmd.OutOrStdout(), "staked: agent=%s total=%s since=%d\n",
				pos.Agent, formatAmount(pos.Amount, decimals), pos.StartedAt)
			return nil
		})
	},
}

var unstakeCmd = &cobra.Command{
	Use:   "unstake <amount>",
	Short: "Return staked tokens to the --as agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd.Context(), "unstake", func(s *session, caller model.Address) error {
			decimals := s.engine.Params().AssetDecimals
			amount, err := parseAmount(args[0], decimals)
			if err != nil {
				return err
			}
			pos, err := s.engine.Unstake(cmd.Context(), caller, amount)
			if err != nil {
				return err
			}
			printer.Fprintf(cmd.OutOrStdout(), "unstaked: agent=%s remaining=%s\n",
				caller, formatAmount(pos.Amount, decimals))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(stakeCmd, unstakeCmd)
}
