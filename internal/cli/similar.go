package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	types "github.com/yungbote/newsgraph/internal/domain/newsletter"
)

var (
	similarType  string
	similarLimit int
	similarJSON  bool
)

var similarCmd = &cobra.Command{
	Use:   "similar [name]",
	Short: "Find entities whose names overlap the given name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)
		if _, err := a.Connect(ctx); err != nil {
			return err
		}
		found, err := a.Newsletter.FindSimilar(ctx, args[0], similarType, similarLimit)
		if err != nil {
			return fmt.Errorf("similar failed: %w", err)
		}
		if similarJSON {
			return printJSON(cmd.OutOrStdout(), found)
		}
		printSimilar(cmd, found)
		return nil
	},
}

func init() {
	similarCmd.Flags().StringVarP(&similarType, "type", "t", "", "entity type (Organization, Person, Product, Event, Location, Topic)")
	similarCmd.Flags().IntVarP(&similarLimit, "limit", "n", 0, "maximum number of results")
	similarCmd.Flags().BoolVar(&similarJSON, "json", false, "output results as JSON")
	_ = similarCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(similarCmd)
}

func printSimilar(cmd *cobra.Command, found []types.Entity) {
	if len(found) == 0 {
		cmd.Println("No similar entities found.")
		return
	}
	for i, e := range found {
		cmd.Printf("[%d] %s (%s) mentions=%d confidence=%.2f\n", i+1, e.Name, e.Type, e.MentionCount, e.Confidence)
	}
}
