package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mrstack.dev/mrstack/internal/changeid"
)

// newChangeIDCmd backs the commit-msg hook. Hidden: users never call it.
func newChangeIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "change-id",
		Short:  "Generate a new Change-Id",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), changeid.Generate())
			return err
		},
	}
}
