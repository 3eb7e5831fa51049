// Package claude implements the diagnosis engine on the Anthropic API.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/sleuth/internal/investigate"
	"github.com/linnemanlabs/sleuth/internal/signature"
)

const (
	responseTokens = 2048

	// blended per-token price used for the pre-flight cost estimate.
	// Coarse on purpose; the estimate only feeds the budget gate.
	estTokensPerChar = 0.25
	estPricePer1K    = 0.01
)

// Client drives one diagnosis per investigation context against the
// Anthropic messages API.
type Client struct {
	client  anthropic.Client
	model   string
	maxCost float64
	nowFn   func() time.Time
}

// New creates a diagnosis client. maxCost of 0 disables the budget
// gate; now defaults to time.Now when nil.
func New(apiKey, model string, maxCost float64, now func() time.Time) *Client {
	if now == nil {
		now = time.Now
	}
	return &Client{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		maxCost: maxCost,
		nowFn:   now,
	}
}

// diagnosisPayload is the JSON shape the model is instructed to return.
type diagnosisPayload struct {
	RootCause    string   `json:"root_cause"`
	Evidence     []string `json:"evidence"`
	SuggestedFix string   `json:"suggested_fix"`
	Confidence   string   `json:"confidence"`
}

// Diagnose assembles the prompt from the investigation context, invokes
// the model once, and parses the structured diagnosis out of the reply.
func (c *Client) Diagnose(ctx context.Context, ictx *investigate.Context) (*signature.Diagnosis, error) {
	cost := c.EstimateCost(ictx)
	if c.maxCost > 0 && cost > c.maxCost {
		return nil, fmt.Errorf("estimated cost %.4f over cap %.4f: %w", cost, c.maxCost, investigate.ErrBudgetExceeded)
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: responseTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(ictx))),
		},
	})
	if err != nil {
		return nil, classifyErr(err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("empty completion: %w", investigate.ErrMalformedResponse)
	}

	payload, err := parsePayload(text)
	if err != nil {
		return nil, err
	}

	confidence, err := signature.ParseConfidence(payload.Confidence)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, investigate.ErrMalformedResponse)
	}

	return signature.NewDiagnosis(
		payload.RootCause,
		payload.Evidence,
		payload.SuggestedFix,
		confidence,
		"claude:"+c.model,
		cost,
		c.nowFn(),
	)
}

// EstimateCost approximates the run's cost from the prompt size.
func (c *Client) EstimateCost(ictx *investigate.Context) float64 {
	chars := len(systemPrompt) + len(buildPrompt(ictx))
	tokens := float64(chars)*estTokensPerChar + responseTokens
	return tokens / 1000 * estPricePer1K
}

// classifyErr maps transport and API failures onto the engine's
// sentinel errors so callers can tell them apart.
func classifyErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("anthropic call: %v: %w", err, investigate.ErrTimeout)
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusTooManyRequests, http.StatusPaymentRequired:
			return fmt.Errorf("anthropic call: %v: %w", err, investigate.ErrBudgetExceeded)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return fmt.Errorf("anthropic call: %v: %w", err, investigate.ErrTimeout)
		}
	}
	return fmt.Errorf("anthropic call: %w", err)
}

// parsePayload extracts the JSON diagnosis from the completion,
// tolerating a markdown code fence around it.
func parsePayload(text string) (*diagnosisPayload, error) {
	trimmed := strings.TrimSpace(text)
	if i := strings.Index(trimmed, "{"); i >= 0 {
		if j := strings.LastIndex(trimmed, "}"); j > i {
			trimmed = trimmed[i : j+1]
		}
	}

	var payload diagnosisPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, fmt.Errorf("parse completion: %v: %w", err, investigate.ErrMalformedResponse)
	}
	if payload.RootCause == "" || len(payload.Evidence) == 0 {
		return nil, fmt.Errorf("completion missing root_cause or evidence: %w", investigate.ErrMalformedResponse)
	}
	return &payload, nil
}
