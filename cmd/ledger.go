package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pulse-cli/internal/model"
	"github.com/sells-group/pulse-cli/internal/params"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and fund the local payment-asset ledger",
}

var ledgerMintCmd = &cobra.Command{
	Use:   "mint <address> <amount>",
	Short: "Credit tokens to an address (owner only)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		to, err := model.ParseAddress(args[0])
		if err != nil {
			return err
		}
		return mutate(cmd.Context(), "ledger mint", func(s *session, caller model.Address) error {
			p := s.engine.Params()
			if caller != p.Owner {
				return eris.Wrapf(params.ErrUnauthorized, "ledger mint: %s is not the owner", caller)
			}
			amount, err := parseAmount(args[1], p.AssetDecimals)
			if err != nil {
				return err
			}
			if err := s.ledger.Mint(to, amount); err != nil {
				return err
			}
			printer.Fprintf(cmd.OutOrStdout(), "minted %s to %s, balance %s\n",
				formatAmount(amount, p.AssetDecimals), to, formatAmount(s.ledger.Balance(to), p.AssetDecimals))
			return nil
		})
	},
}

var ledgerBalanceCmd = &cobra.Command{
	Use:   "balance <address>",
	Short: "Print an address's token balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := model.ParseAddress(args[0])
		if err != nil {
			return err
		}
		return inspect(cmd.Context(), func(s *session) error {
			printer.Fprintln(cmd.OutOrStdout(), formatAmount(s.ledger.Balance(addr), s.engine.Params().AssetDecimals))
			return nil
		})
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerMintCmd, ledgerBalanceCmd)
	rootCmd.AddCommand(ledgerCmd)
}
