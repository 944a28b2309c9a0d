package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/pulse-cli/internal/model"
)

var ownerCmd = &cobra.Command{
	Use:   "owner",
	Short: "Two-step ownership transfer",
}

var ownerProposeCmd = &cobra.Command{
	Use:   "propose <address>",
	Short: "Propose a new owner; the zero address cancels a pending proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		candidate, err := model.ParseAddress(args[0])
		if err != nil {
			return err
		}
		return mutate(cmd.Context(), "owner propose", func(s *session, caller model.Address) error {
			if err := s.engine.ProposeOwner(cmd.Context(), caller, candidate); err != nil {
				return err
			}
			if candidate.IsZero() {
				printer.Fprintln(cmd.OutOrStdout(), "ownership proposal cancelled")
				return nil
			}
			printer.Fprintf(cmd.OutOrStdout(), "proposed owner %s\n", candidate)
			return nil
		})
	},
}

var ownerAcceptCmd = &cobra.Command{
	Use:   "accept",
	Short: "Accept a pending ownership proposal as --as",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mutate(cmd.Context(), "owner accept", func(s *session, caller model.Address) error {
			if err := s.engine.AcceptOwnership(cmd.Context(), caller); err != nil {
				return err
			}
			printer.Fprintf(cmd.OutOrStdout(), "owner is now %s\n", caller)
			return nil
		})
	},
}

func init() {
	ownerCmd.AddCommand(ownerProposeCmd, ownerAcceptCmd)
	rootCmd.AddCommand(ownerCmd)
}
