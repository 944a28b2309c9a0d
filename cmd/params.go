package main

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pulse-cli/internal/model"
	"github.com/sells-group/pulse-cli/internal/reliability"
)

var paramsFormat string

// paramsView is what `params show` renders.
type paramsView struct {
	Protocol    model.ProtocolParams `json:"protocol" yaml:"protocol"`
	Fees        model.FeeConfig      `json:"fees" yaml:"fees"`
	Reliability reliability.Config   `json:"reliability" yaml:"reliability"`
}

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Inspect and change protocol parameters",
}

var paramsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspect(cmd.Context(), func(s *session) error {
			v := paramsView{
				Protocol:    s.engine.Params(),
				Fees:        s.engine.FeeConfig(),
				Reliability: s.engine.ReliabilityConfig(),
			}
			out := cmd.OutOrStdout()
			switch paramsFormat {
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close() //nolint:errcheck
				return enc.Encode(v)
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(v)
			default:
				return eris.Errorf("unknown format %q (want yaml or json)", paramsFormat)
			}
		})
	},
}

// adminCommand builds an owner-only parameter command. apply receives the
// positional args and returns the message printed on success.
func adminCommand(use, short string, nargs int, apply func(cmd *cobra.Command, s *session, caller model.Address, args []string) (string, error)) *cobra.Command {
	name := "params " + use
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd.Context(), name, func(s *session, caller model.Address) error {
				msg, err := apply(cmd, s, caller, args)
				if err != nil {
					return err
				}
				printer.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			})
		},
	}
}

var paramsSetTTLCmd = adminCommand("set-ttl <seconds>", "Set the liveness TTL in seconds", 1,
	func(cmd *cobra.Command, s *session, caller model.Address, args []string) (string, error) {
		ttl, err := parseUint(args[0], "ttl")
		if err != nil {
			return "", err
		}
		if err := s.engine.SetTTL(cmd.Context(), caller, ttl); err != nil {
			return "", err
		}
		return printer.Sprintf("ttl_seconds=%d", ttl), nil
	})

var paramsSetMinSignalCmd = adminCommand("set-min-signal <amount>", "Set the minimum signal payment in tokens", 1,
	func(cmd *cobra.Command, s *session, caller model.Address, args []string) (string, error) {
		decimals := s.engine.Params().AssetDecimals
		amount, err := parseAmount(args[0], decimals)
		if err != nil {
			return "", err
		}
		if err := s.engine.SetMinSignalAmount(cmd.Context(), caller, amount); err != nil {
			return "", err
		}
		return "min_signal_amount=" + formatAmount(amount, decimals), nil
	})

var paramsSetFeeBpsCmd = adminCommand("set-fee-bps <bps>", "Set the distributor fee in basis points (max 500)", 1,
	func(cmd *cobra.Command, s *session, caller model.Address, args []string) (string, error) {
		bps, err := parseUint(args[0], "fee bps")
		if err != nil {
			return "", err
		}
		if err := s.engine.SetFeeBps(cmd.Context(), caller, bps); err != nil {
			return "", err
		}
		return printer.Sprintf("fee_bps=%d", bps), nil
	})

var paramsSetMinBurnCmd = adminCommand("set-min-burn <amount>", "Set the minimum burn per distribution in tokens", 1,
	func(cmd *cobra.Command, s *session, caller model.Address, args []string) (string, error) {
		decimals := s.engine.Params().AssetDecimals
		amount, err := parseAmount(args[0], decimals)
		if err != nil {
			return "", err
		}
		if err := s.engine.SetMinBurnAmount(cmd.Context(), caller, amount); err != nil {
			return "", err
		}
		return "min_burn_amount=" + formatAmount(amount, decimals), nil
	})

var paramsPauseCmd = adminCommand("pause", "Stop accepting signals", 0,
	func(cmd *cobra.Command, s *session, caller model.Address, _ []string) (string, error) {
		return "paused", s.engine.Pause(cmd.Context(), caller)
	})

var paramsUnpauseCmd = adminCommand("unpause", "Resume accepting signals", 0,
	func(cmd *cobra.Command, s *session, caller model.Address, _ []string) (string, error) {
		return "unpaused", s.engine.Unpause(cmd.Context(), caller)
	})

func init() {
	paramsShowCmd.Flags().StringVar(&paramsFormat, "format", "yaml", "output format: yaml or json")
	paramsCmd.AddCommand(paramsShowCmd, paramsSetTTLCmd, paramsSetMinSignalCmd, paramsSetFeeBpsCmd,
		paramsSetMinBurnCmd, paramsPauseCmd, paramsUnpauseCmd)
	rootCmd.AddCommand(paramsCmd)
}
