package claude

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/sleuth/internal/event"
	"github.com/linnemanlabs/sleuth/internal/investigate"
	"github.com/linnemanlabs/sleuth/internal/signature"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func testContext(t *testing.T, nEvents int) *investigate.Context {
	t.Helper()
	ictx := &investigate.Context{
		Signature: signature.Record{
			ID: "01SIG", Fingerprint: "fp1", Service: "pay", ErrorType: "TimeoutError",
			MessagePattern: "conn to <*>", FirstSeen: t0, LastSeen: t0.Add(time.Minute),
			OccurrenceCount: nEvents, Status: string(signature.StatusNew), StatusChangedAt: t0,
		},
	}
	for i := 0; i < nEvents; i++ {
		ev, err := event.NewErrorEvent("tr1", "sp1", "pay", "TimeoutError",
			fmt.Sprintf("conn to 10.0.0.%d:5432", i), nil, t0.Add(time.Duration(i)*time.Second), t0.Add(time.Minute), event.SeverityError, nil)
		if err != nil {
			t.Fatalf("NewErrorEvent() = %v", err)
		}
		ictx.Events = append(ictx.Events, ev)
	}
	return ictx
}

func TestParsePayload(t *testing.T) {
	t.Parallel()

	valid := `{"root_cause":"pool exhausted","evidence":["timeouts cluster at :00"],"suggested_fix":"raise pool","confidence":"high"}`

	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"bare json", valid, false},
		{"code fence", "```json\n" + valid + "\n```", false},
		{"prose around json", "Here is my analysis:\n" + valid + "\nHope that helps.", false},
		{"leading whitespace", "\n\n  " + valid, false},
		{"not json", "the database looks overloaded", true},
		{"truncated json", valid[:40], true},
		{"missing root cause", `{"evidence":["x"],"confidence":"high"}`, true},
		{"missing evidence", `{"root_cause":"x","confidence":"high"}`, true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			payload, err := parsePayload(tt.text)
			if tt.wantErr {
				if !errors.Is(err, investigate.ErrMalformedResponse) {
					t.Fatalf("parsePayload() = %v, want ErrMalformedResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePayload() = %v", err)
			}
			if payload.RootCause != "pool exhausted" {
				t.Errorf("RootCause = %q", payload.RootCause)
			}
			if payload.Confidence != "high" {
				t.Errorf("Confidence = %q", payload.Confidence)
			}
		})
	}
}

func TestClassifyErr(t *testing.T) {
	t.Parallel()

	deadline := fmt.Errorf("round trip: %w", context.DeadlineExceeded)
	if err := classifyErr(deadline); !errors.Is(err, investigate.ErrTimeout) {
		t.Errorf("classifyErr(deadline) = %v, want ErrTimeout", err)
	}

	plain := errors.New("connection reset")
	err := classifyErr(plain)
	if !errors.Is(err, plain) {
		t.Errorf("classifyErr(plain) = %v, want the cause preserved", err)
	}
	if errors.Is(err, investigate.ErrTimeout) || errors.Is(err, investigate.ErrBudgetExceeded) {
		t.Errorf("classifyErr(plain) = %v, misclassified as a sentinel", err)
	}
}

func TestEstimateCost(t *testing.T) {
	t.Parallel()

	c := New("test-key", "test-model", 0, nil)

	small := c.EstimateCost(testContext(t, 1))
	if small <= 0 {
		t.Fatalf("EstimateCost(small) = %v, want positive", small)
	}

	large := c.EstimateCost(testContext(t, 10))
	if large <= small {
		t.Errorf("EstimateCost grew %v -> %v, want more evidence to cost more", small, large)
	}
}

func TestDiagnose_BudgetGate(t *testing.T) {
	t.Parallel()

	// cap below any possible estimate: the gate trips before the API is
	// ever dialed, so the bogus key is never used
	c := New("test-key", "test-model", 0.000001, nil)

	_, err := c.Diagnose(context.Background(), testContext(t, 1))
	if !errors.Is(err, investigate.ErrBudgetExceeded) {
		t.Fatalf("Diagnose() = %v, want ErrBudgetExceeded", err)
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	ictx := testContext(t, 2)
	ictx.Incomplete = true
	ictx.Traces = []event.TraceTree{{
		TraceID: "tr1",
		Root: event.SpanNode{
			SpanID: "sp1", Name: "POST /charge", Service: "pay",
			Start: t0, End: t0.Add(300 * time.Millisecond), StatusErr: true,
			Children: []event.SpanNode{{
				SpanID: "sp2", Name: "pg.query", Service: "pay",
				Start: t0.Add(10 * time.Millisecond), End: t0.Add(290 * time.Millisecond),
			}},
		},
	}}
	ictx.Logs = []event.LogEntry{{
		Timestamp: t0, TraceID: "tr1", Service: "pay", Level: "error", Line: "pool exhausted",
	}}

	prompt := buildPrompt(ictx)

	for _, want := range []string{
		"Service: pay",
		"Error type: TimeoutError",
		"conn to 10.0.0.0:5432",
		"incomplete",
		"POST /charge",
		"pg.query",
		"pool exhausted",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPrompt_CapsEvidence(t *testing.T) {
	t.Parallel()

	ictx := testContext(t, maxPromptEvents+5)
	prompt := buildPrompt(ictx)

	if !strings.Contains(prompt, "more omitted") {
		t.Error("prompt did not truncate the event list")
	}
	if strings.Contains(prompt, fmt.Sprintf("10.0.0.%d", maxPromptEvents)) {
		t.Error("prompt includes events past the cap")
	}
}

func TestClip(t *testing.T) {
	t.Parallel()

	short := "short line"
	if got := clip(short); got != short {
		t.Errorf("clip(short) = %q", got)
	}

	long := strings.Repeat("x", maxLineLen*2)
	got := clip(long)
	if len(got) != maxLineLen {
		t.Errorf("len(clip(long)) = %d, want %d", len(got), maxLineLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("clip(long) = %q, want ellipsis suffix", got[maxLineLen-10:])
	}
}
