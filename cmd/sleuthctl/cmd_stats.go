package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/sleuth/internal/signature"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store-wide signature statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, _ []string) error {
	var stats signature.StoreStats
	if err := newClient().do(cmd.Context(), http.MethodGet, "/api/v1/stats", nil, &stats); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total:          %d\n", stats.Total)
	fmt.Fprintf(out, "New:            %d\n", stats.New)
	fmt.Fprintf(out, "Investigating:  %d\n", stats.Investigating)
	fmt.Fprintf(out, "Diagnosed:      %d\n", stats.Diagnosed)
	fmt.Fprintf(out, "Resolved:       %d\n", stats.Resolved)
	fmt.Fprintf(out, "Muted:          %d\n", stats.Muted)
	fmt.Fprintf(out, "With diagnosis: %d\n", stats.WithDiagnosis)
	if !stats.OldestUnresolved.IsZero() {
		fmt.Fprintf(out, "Oldest open:    %s\n", fmtTime(stats.OldestUnresolved))
	}
	return nil
}
