// Package slack posts diagnosis notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/sleuth/internal/signature"
)

const (
	maxFieldLen = 2800
	httpTimeout = 10 * time.Second
)

// Notifier sends diagnosis reports to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, every send
// is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Report posts a finished diagnosis to the configured webhook.
func (n *Notifier) Report(ctx context.Context, sig *signature.Signature, diag *signature.Diagnosis) error {
	return n.post(ctx, buildDiagnosisMessage(sig, diag))
}

// ReportSummary posts a one-line cycle digest to the configured webhook.
func (n *Notifier) ReportSummary(ctx context.Context, stats signature.StoreStats) error {
	return n.post(ctx, buildSummaryMessage(stats))
}

func (n *Notifier) post(ctx context.Context, msg map[string]any) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildDiagnosisMessage(sig *signature.Signature, diag *signature.Diagnosis) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(sig, diag),
			{"type": "divider"},
			fieldsBlock(sig, diag),
			{"type": "divider"},
			diagnosisBlock(diag),
			{"type": "divider"},
			contextBlock(sig, diag),
		},
	}
}

func buildSummaryMessage(stats signature.StoreStats) map[string]any {
	text := fmt.Sprintf(
		"\U0001f50e Cycle summary: %d signatures tracked (%d new, %d investigating, %d diagnosed, %d resolved, %d muted)",
		stats.Total, stats.New, stats.Investigating, stats.Diagnosed, stats.Resolved, stats.Muted,
	)
	return map[string]any{
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
		},
	}
}

func headerBlock(sig *signature.Signature, diag *signature.Diagnosis) map[string]any {
	emoji := confidenceEmoji(sig, diag.Confidence)
	text := fmt.Sprintf("%s Diagnosed: %s in %s", emoji, sig.ErrorType(), sig.Service())

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(sig *signature.Signature, diag *signature.Diagnosis) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Service:* %s", sig.Service()),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Error:* %s", sig.ErrorType()),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Occurrences:* %d", sig.OccurrenceCount()),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Confidence:* %s", diag.Confidence),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Cost:* $%.4f", diag.Cost),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Engine:* %s", diag.Engine),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func diagnosisBlock(diag *signature.Diagnosis) map[string]any {
	var b strings.Builder
	fmt.Fprintf(&b, "*Root cause*\n%s", truncate(diag.RootCause, maxFieldLen))
	if diag.SuggestedFix != "" {
		fmt.Fprintf(&b, "\n\n*Suggested fix*\n%s", truncate(diag.SuggestedFix, maxFieldLen))
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": b.String(),
		},
	}
}

func contextBlock(sig *signature.Signature, diag *signature.Diagnosis) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("sleuth • signature %s • %s", sig.ID(), diag.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func confidenceEmoji(sig *signature.Signature, conf signature.Confidence) string {
	if sig.HasTag(signature.TagCritical) {
		return "\U0001f534" // red circle
	}
	switch conf {
	case signature.ConfidenceHigh:
		return "\U0001f7e2" // green circle
	case signature.ConfidenceMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "⚪" // white circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
