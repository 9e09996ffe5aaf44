package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one retention sweep and exit",
	Long: `Delete every stored turn older than CONTEXT_TTL_HOURS, across all users,
and print the number of deleted turns.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := build(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer res.Cleanup()

		deleted, err := res.Sweeper.SweepOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired turns\n", deleted)
		return nil
	},
}
