package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print graph node and relationship counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)
		if _, err := a.Connect(ctx); err != nil {
			return err
		}
		stats, err := a.Newsletter.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats failed: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), stats)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
