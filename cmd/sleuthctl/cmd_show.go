package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/sleuth/internal/manage"
	"github.com/linnemanlabs/sleuth/internal/signature"
)

var showCmd = &cobra.Command{
	Use:   "show <signature-id>",
	Short: "Show one signature with its diagnosis and similar signatures",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	var details manage.Details
	if err := newClient().do(cmd.Context(), http.MethodGet, "/api/v1/signatures/"+args[0], nil, &details); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printRecord(out, details.Signature)

	if len(details.Similar) > 0 {
		fmt.Fprintf(out, "\nSimilar signatures:\n")
		for _, sim := range details.Similar {
			fmt.Fprintf(out, "  %s  %-13s %s/%s (%d occurrences)\n",
				sim.ID, sim.Status, sim.Service, sim.ErrorType, sim.OccurrenceCount)
		}
	}
	return nil
}

func printRecord(out io.Writer, rec signature.Record) {
	fmt.Fprintf(out, "ID:          %s\n", rec.ID)
	fmt.Fprintf(out, "Fingerprint: %s\n", rec.Fingerprint)
	fmt.Fprintf(out, "Service:     %s\n", rec.Service)
	fmt.Fprintf(out, "Error:       %s\n", rec.ErrorType)
	fmt.Fprintf(out, "Pattern:     %s\n", rec.MessagePattern)
	fmt.Fprintf(out, "Status:      %s (since %s)\n", rec.Status, fmtTime(rec.StatusChangedAt))
	fmt.Fprintf(out, "Occurrences: %d (first %s, last %s)\n", rec.OccurrenceCount, fmtTime(rec.FirstSeen), fmtTime(rec.LastSeen))
	if len(rec.Tags) > 0 {
		fmt.Fprintf(out, "Tags:        %s\n", strings.Join(rec.Tags, ", "))
	}
	if rec.Note != "" {
		fmt.Fprintf(out, "Note:        %s\n", rec.Note)
	}

	if d := rec.Diagnosis; d != nil {
		fmt.Fprintf(out, "\nDiagnosis (%s confidence, %s, $%.4f):\n", d.Confidence, d.Engine, d.Cost)
		fmt.Fprintf(out, "  Root cause: %s\n", d.RootCause)
		for _, ev := range d.Evidence {
			fmt.Fprintf(out, "  Evidence:   %s\n", ev)
		}
		if d.SuggestedFix != "" {
			fmt.Fprintf(out, "  Fix:        %s\n", d.SuggestedFix)
		}
	}
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
