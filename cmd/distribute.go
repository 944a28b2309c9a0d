package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/pulse-cli/internal/model"
)

var distributeCmd = &cobra.Command{
	Use:   "distribute <amount>",
	Short: "Split a payment from --as between the sink and the fee wallet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd.Context(), "distribute", func(s *session, caller model.Address) error {
			decimals := s.engine.Params().AssetDecimals
			amount, err := parseAmount(args[0], decimals)
			if err != nil {
				return err
			}
			split, err := s.engine.Distribute(cmd.Context(), caller, amount)
			if err != nil {
				return err
			}
			printer.Fprintf(cmd.OutOrStdout(), "distributed: burn=%s fee=%s\n",
				formatAmount(split.Burn, decimals), formatAmount(split.Fee, decimals))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(distributeCmd)
}
