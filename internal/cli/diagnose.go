package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yungbote/newsgraph/internal/platform/neo4jdb"
)

var (
	diagnoseConnect bool
	diagnoseJSON    bool
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Probe DNS and TCP reachability of the graph and extra targets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		results := a.Diagnose(ctx)
		var diag *neo4jdb.Diagnostics
		if diagnoseConnect {
			diag, _ = a.Connect(ctx)
		}
		if diagnoseJSON {
			return printJSON(cmd.OutOrStdout(), map[string]any{"results": results, "connect": diag})
		}
		writeProbeResults(cmd.OutOrStdout(), results)
		if diag != nil {
			writeConnectPhases(cmd.OutOrStdout(), diag)
		}
		return nil
	},
}

func init() {
	diagnoseCmd.Flags().BoolVar(&diagnoseConnect, "connect", false, "also attempt a full connect and report each phase")
	diagnoseCmd.Flags().BoolVar(&diagnoseJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(diagnoseCmd)
}

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	dim      = color.New(color.Faint).SprintFunc()
)

func mark(ok bool) string {
	if ok {
		return okMark("OK  ")
	}
	return failMark("FAIL")
}

func writeProbeResults(w io.Writer, results []neo4jdb.ProbeResult) {
	ok := 0
	for _, r := range results {
		if r.TCPOK {
			ok++
		}
		line := fmt.Sprintf("%s %s:%d", mark(r.TCPOK), r.Host, r.Port)
		if r.Description != "" {
			line += " " + dim("("+r.Description+")")
		}
		if r.IP != "" {
			line += " ip=" + r.IP
		}
		line += fmt.Sprintf(" %dms", r.Latency.Milliseconds())
		if r.Error != "" {
			line += " " + failMark(r.Error)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%d/%d targets reachable\n", ok, len(results))
}

func writeConnectPhases(w io.Writer, d *neo4jdb.Diagnostics) {
	fmt.Fprintf(w, "connect %s encrypted=%t\n", d.Address, d.Encrypted)
	for _, p := range d.Phases {
		line := fmt.Sprintf("  %s %-9s %dms", mark(p.OK), p.Phase, p.Duration.Milliseconds())
		if p.Detail != "" {
			line += " " + dim(p.Detail)
		}
		if p.Error != "" {
			line += " " + failMark(p.Error)
		}
		fmt.Fprintln(w, line)
	}
}
