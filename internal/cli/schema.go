package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create graph constraints and indexes",
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
		report := a.SchemaReport()
		if report == nil {
			r := a.Newsletter.EnsureSchema(ctx)
			report = &r
		}
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if len(report.Failed) > 0 {
			return fmt.Errorf("%d schema statements failed", len(report.Failed))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
