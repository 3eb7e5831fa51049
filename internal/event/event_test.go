package event

import (
	"testing"
	"time"
)

func TestNewErrorEvent_Validation(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		service   string
		errorType string
		message   string
		ts        time.Time
		wantErr   bool
	}{
		{"valid", "checkout", "TimeoutError", "timeout connecting", now, false},
		{"empty service", "", "TimeoutError", "timeout", now, true},
		{"empty error type", "checkout", "", "timeout", now, true},
		{"empty message", "checkout", "TimeoutError", "", now, true},
		{"far future timestamp", "checkout", "TimeoutError", "timeout", now.Add(time.Hour), true},
		{"slight clock skew ok", "checkout", "TimeoutError", "timeout", now.Add(time.Minute), false},
		{"past timestamp ok", "checkout", "TimeoutError", "timeout", now.Add(-24 * time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewErrorEvent("t1", "s1", tt.service, tt.errorType, tt.message, nil, tt.ts, now, SeverityError, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewErrorEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewErrorEvent_CopiesAttributes(t *testing.T) {
	t.Parallel()

	attrs := map[string]string{"pod": "checkout-7d4f"}
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ev, err := NewErrorEvent("t1", "s1", "checkout", "TimeoutError", "timeout", nil, ts, ts, SeverityError, attrs)
	if err != nil {
		t.Fatalf("NewErrorEvent() = %v", err)
	}

	attrs["pod"] = "mutated"

	got, ok := ev.Attribute("pod")
	if !ok || got != "checkout-7d4f" {
		t.Errorf("Attribute(pod) = %q, %v; want %q, true", got, ok, "checkout-7d4f")
	}

	out := ev.Attributes()
	out["pod"] = "mutated-again"
	got, _ = ev.Attribute("pod")
	if got != "checkout-7d4f" {
		t.Errorf("Attribute(pod) after mutating returned copy = %q, want %q", got, "checkout-7d4f")
	}
}

func TestNewErrorEvent_CopiesFrames(t *testing.T) {
	t.Parallel()

	frames := []Frame{{Module: "db", Function: "Query", Line: 42}}
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ev, err := NewErrorEvent("", "", "checkout", "TimeoutError", "timeout", frames, ts, ts, SeverityError, nil)
	if err != nil {
		t.Fatalf("NewErrorEvent() = %v", err)
	}

	frames[0].Function = "mutated"
	if ev.Frames[0].Function != "Query" {
		t.Errorf("Frames[0].Function = %q, want %q", ev.Frames[0].Function, "Query")
	}
}

func TestParseSeverity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"debug", SeverityDebug, false},
		{"info", SeverityInfo, false},
		{"warning", SeverityWarning, false},
		{"error", SeverityError, false},
		{"critical", SeverityCritical, false},
		{"fatal", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSeverity(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSeverity(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseSeverity(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestTraceTree_WalkAndCount(t *testing.T) {
	t.Parallel()

	tree := TraceTree{
		TraceID: "t1",
		Root: SpanNode{
			SpanID: "a",
			Children: []SpanNode{
				{SpanID: "b", Children: []SpanNode{{SpanID: "c"}}},
				{SpanID: "d"},
			},
		},
	}

	var order []string
	tree.Walk(func(n SpanNode) { order = append(order, n.SpanID) })

	want := []string{"a", "b", "c", "d"}
	if len(order) != len(want) {
		t.Fatalf("Walk visited %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Walk order[%d] = %q, want %q", i, order[i], want[i])
		}
	}

	if got := tree.SpanCount(); got != 4 {
		t.Errorf("SpanCount() = %d, want 4", got)
	}
}
