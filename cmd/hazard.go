package main

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/pulse-cli/internal/model"
)

var hazardCmd = &cobra.Command{
	Use:   "hazard <agent> <score>",
	Short: "Set an agent's hazard score (owner only, 0-100)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, err := model.ParseAddress(args[0])
		if err != nil {
			return err
		}
		score, err := strconv.Atoi(args[1])
		if err != nil {
			return eris.Wrapf(err, "hazard score %q", args[1])
		}
		return mutate(cmd.Context(), "hazard", func(s *session, caller model.Address) error {
			if err := s.engine.SetHazard(cmd.Context(), caller, agent, score); err != nil {
				return err
			}
			printer.Fprintf(cmd.OutOrStdout(), "hazard set: agent=%s score=%d\n", agent, score)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(hazardCmd)
}
