package cli

import (
	"github.com/spf13/cobra"

	"github.com/yungbote/newsgraph/internal/platform/shutdown"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := shutdown.NotifyContext(cmd.Context())
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)
		return a.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
