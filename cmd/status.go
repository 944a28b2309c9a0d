package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sells-group/pulse-cli/internal/model"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status <address>",
	Short: "Show an agent's liveness, stake and reputation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := model.ParseAddress(args[0])
		if err != nil {
			return err
		}
		return inspect(cmd.Context(), func(s *session) error {
			v := s.engine.View(agent)
			out := cmd.OutOrStdout()
			if statusJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			}
			decimals := s.engine.Params().AssetDecimals
			printer.Fprintf(out, "agent:        %s\n", agent)
			printer.Fprintf(out, "alive:        %t\n", v.Alive)
			printer.Fprintf(out, "last signal:  %d\n", v.Record.LastSignalAt)
			printer.Fprintf(out, "streak:       %d\n", v.Record.Streak)
			printer.Fprintf(out, "hazard:       %d\n", v.Record.HazardScore)
			printer.Fprintf(out, "volume:       %s\n", formatAmount(v.Record.CumulativeVolume, decimals))
			printer.Fprintf(out, "stake:        %s\n", formatAmount(v.Stake.Amount, decimals))
			printer.Fprintf(out, "reliability:  %d (%s)\n", v.Reliability, v.Tier)
			printer.Fprintf(out, "attestations: +%d / -%d\n", v.Tally.PositiveWeight, v.Tally.NegativeWeight)
			return nil
		})
	},
}

var aliveCmd = &cobra.Command{
	Use:   "alive <address>",
	Short: "Print true when the agent signaled within the TTL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := model.ParseAddress(args[0])
		if err != nil {
			return err
		}
		return inspect(cmd.Context(), func(s *session) error {
			printer.Fprintf(cmd.OutOrStdout(), "%t\n", s.engine.IsAlive(agent))
			return nil
		})
	},
}

var reliabilityCmd = &cobra.Command{
	Use:   "reliability <address>",
	Short: "Break down an agent's reliability score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := model.ParseAddress(args[0])
		if err != nil {
			return err
		}
		return inspect(cmd.Context(), func(s *session) error {
			b := s.engine.Score(agent)
			printer.Fprintf(cmd.OutOrStdout(), "streak=%d volume=%d stake=%d total=%d tier=%s\n",
				b.Streak, b.Volume, b.Stake, b.Total, s.engine.Tier(agent))
			return nil
		})
	},
}

var tallyCmd = &cobra.Command{
	Use:   "tally <subject>",
	Short: "Show the attestation weight recorded about a subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, err := model.ParseAddress(args[0])
		if err != nil {
			return err
		}
		return inspect(cmd.Context(), func(s *session) error {
			t := s.engine.Tally(subject)
			printer.Fprintf(cmd.OutOrStdout(), "positive=%d negative=%d\n", t.PositiveWeight, t.NegativeWeight)
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the full view as JSON")
	rootCmd.AddCommand(statusCmd, aliveCmd, reliabilityCmd, tallyCmd)
}
