package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/pulse-cli/internal/model"
)

var signalCmd = &cobra.Command{
	Use:   "signal <amount>",
	Short: "Pay a liveness signal for the --as agent",
	Long:  "Transfers the amount (in tokens) from the caller and records a liveness signal. The streak grows by one when the signal lands on a new day at least 20 hours after the previous one.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd.Context(), "signal", func(s *session, caller model.Address) error {
			amount, err := parseAmount(args[0], s.engine.Params().AssetDecimals)
			if err != nil {
				return err
			}
			st, err := s.engine.Signal(cmd.Context(), caller, amount)
			if err != nil {
				return err
			}
			printer.Fprintf(cmd.OutOrStdout(), "signal accepted: agent=%s streak=%d alive=%t last_signal_at=%d\n",
				st.Agent, st.Streak, st.Alive, st.LastSignalAt)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(signalCmd)
}
