package cli

import (
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command: one check cycle, then exit.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one check cycle over every tracked product",
		Long: `Run one check cycle: fetch every product page, classify it and notify
on first in-stock observation.

The exit status is 0 whenever the cycle completes, even if every product
failed; see the printed summary for per-product outcomes. Configuration and
product-file errors exit non-zero before anything is fetched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer s.Close()

			sum, err := s.runOnce(ctx)
			if err != nil {
				return err
			}
			return writeSummary(cmd.OutOrStdout(), rootOpts.Format, sum)
		},
	}
}
