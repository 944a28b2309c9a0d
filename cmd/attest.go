package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/pulse-cli/internal/model"
)

var attestNegative bool

var attestCmd = &cobra.Command{
	Use:   "attest <subject>",
	Short: "Record a reliability-weighted vote about another live agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, err := model.ParseAddress(args[0])
		if err != nil {
			return err
		}
		return mutate(cmd.Context(), "attest", func(s *session, caller model.Address) error {
			a, err := s.engine.Attest(cmd.Context(), caller, subject, !attestNegative)
			if err != nil {
				return err
			}
			printer.Fprintf(cmd.OutOrStdout(), "attested: %s -> %s positive=%t weight=%d epoch=%d\n",
				a.Attestor, a.Subject, a.Positive, a.Weight, a.Epoch)
			return nil
		})
	},
}

func init() {
	attestCmd.Flags().BoolVar(&attestNegative, "negative", false, "record a negative vote")
	rootCmd.AddCommand(attestCmd)
}
