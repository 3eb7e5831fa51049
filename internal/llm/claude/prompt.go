package claude

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/sleuth/internal/event"
	"github.com/linnemanlabs/sleuth/internal/investigate"
)

// caps on how much evidence goes into one prompt
const (
	maxPromptEvents = 10
	maxPromptLogs   = 50
	maxLineLen      = 500
)

const systemPrompt = `You are Sleuth, a root-cause analysis engine for recurring production errors.

You receive one error signature and its evidence: recent occurrences, distributed traces, and correlated logs. Determine the most likely root cause.

Respond with a single JSON object and nothing else:
{
  "root_cause": "one-paragraph explanation of what is failing and why",
  "evidence": ["specific observations from the provided data that support the conclusion"],
  "suggested_fix": "concrete remediation an engineer can act on",
  "confidence": "low" | "medium" | "high"
}

Base evidence entries on the supplied data only. Use "low" confidence when the evidence is thin or the context is marked incomplete.`

// buildPrompt renders the investigation context into the user message.
func buildPrompt(ictx *investigate.Context) string {
	var b strings.Builder
	sig := ictx.Signature

	fmt.Fprintf(&b, "Error signature under investigation:\n")
	fmt.Fprintf(&b, "Service: %s\nError type: %s\nMessage pattern: %s\n", sig.Service, sig.ErrorType, sig.MessagePattern)
	fmt.Fprintf(&b, "Occurrences: %d (first %s, last %s)\n",
		sig.OccurrenceCount,
		sig.FirstSeen.UTC().Format(time.RFC3339),
		sig.LastSeen.UTC().Format(time.RFC3339))
	if len(sig.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(sig.Tags, ", "))
	}
	if ictx.Incomplete {
		b.WriteString("NOTE: the trace set below is incomplete; some traces could not be fetched.\n")
	}

	b.WriteString("\nRecent occurrences:\n")
	for i, ev := range ictx.Events {
		if i >= maxPromptEvents {
			fmt.Fprintf(&b, "... %d more omitted\n", len(ictx.Events)-i)
			break
		}
		fmt.Fprintf(&b, "- [%s] %s trace=%s: %s\n",
			ev.Timestamp.UTC().Format(time.RFC3339), ev.Severity, ev.TraceID, clip(ev.Message))
		for _, f := range ev.Frames {
			fmt.Fprintf(&b, "    at %s.%s\n", f.Module, f.Function)
		}
	}

	if len(ictx.Traces) > 0 {
		b.WriteString("\nTraces:\n")
		for _, t := range ictx.Traces {
			fmt.Fprintf(&b, "- trace %s (%d spans):\n", t.TraceID, t.SpanCount())
			writeSpan(&b, t.Root, 1)
		}
	}

	if len(ictx.Logs) > 0 {
		b.WriteString("\nCorrelated logs:\n")
		for i, l := range ictx.Logs {
			if i >= maxPromptLogs {
				fmt.Fprintf(&b, "... %d more omitted\n", len(ictx.Logs)-i)
				break
			}
			fmt.Fprintf(&b, "- [%s] %s %s: %s\n",
				l.Timestamp.UTC().Format(time.RFC3339), l.Service, l.Level, clip(l.Line))
		}
	}

	b.WriteString("\nProduce the diagnosis JSON.")
	return b.String()
}

func writeSpan(b *strings.Builder, n event.SpanNode, depth int) {
	status := "ok"
	if n.StatusErr {
		status = "ERROR"
	}
	fmt.Fprintf(b, "%s%s %s [%s] %s\n",
		strings.Repeat("  ", depth), n.Service, n.Name, status,
		n.End.Sub(n.Start).Round(time.Millisecond))
	for _, c := range n.Children {
		writeSpan(b, c, depth+1)
	}
}

func clip(s string) string {
	if len(s) <= maxLineLen {
		return s
	}
	return s[:maxLineLen-3] + "..."
}
