package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/newsgraph/internal/modules/newsletter/steps"
)

var (
	processSubject string
	processSender  string
	processDate    string
)

var processCmd = &cobra.Command{
	Use:   "process [file.html]",
	Short: "Process one newsletter HTML file into the graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processSubject, "subject", "", "newsletter subject")
	processCmd.Flags().StringVar(&processSender, "sender", "", "newsletter sender")
	processCmd.Flags().StringVar(&processDate, "date", "", "received date (RFC3339), defaults to now")
	_ = processCmd.MarkFlagRequired("subject")
	_ = processCmd.MarkFlagRequired("sender")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	html, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	in := steps.ProcessInput{
		HTMLContent: string(html),
		Subject:     processSubject,
		Sender:      processSender,
	}
	if processDate != "" {
		d, err := time.Parse(time.RFC3339, processDate)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
		in.ReceivedDate = &d
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	if err := a.Start(ctx); err != nil {
		return err
	}

	out := a.Newsletter.Process(ctx, in)
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if out.Status == steps.StatusError {
		return errors.New("processing failed at step: " + out.FailedStep)
	}
	return nil
}
