// Package event defines the immutable telemetry value types Sleuth
// consumes: error occurrences, trace snapshots, and correlated logs.
package event

import (
	"fmt"
	"time"
)

// maxFutureSkew bounds how far into the future an event timestamp may
// sit before we treat it as invalid rather than clock drift.
const maxFutureSkew = 5 * time.Minute

// Frame is one entry of an error's stack, ordered outermost-first.
type Frame struct {
	Module   string `json:"module"`
	Function string `json:"function"`
	Line     int    `json:"line,omitempty"`
}

// ErrorEvent is a single failure occurrence as reported by a telemetry
// backend. Construct via NewErrorEvent; the value is immutable after
// construction and Attributes returns a copy.
type ErrorEvent struct {
	TraceID    string
	SpanID     string
	Service    string
	ErrorType  string
	Message    string
	Frames     []Frame
	Timestamp  time.Time
	Severity   Severity
	attributes map[string]string
}

// NewErrorEvent validates and builds an ErrorEvent. The attribute map
// is copied so later mutation by the caller cannot leak in. now is the
// reference clock the future-skew check runs against.
func NewErrorEvent(traceID, spanID, service, errorType, message string, frames []Frame, ts, now time.Time, sev Severity, attrs map[string]string) (ErrorEvent, error) {
	switch {
	case service == "":
		return ErrorEvent{}, fmt.Errorf("error event: empty service")
	case errorType == "":
		return ErrorEvent{}, fmt.Errorf("error event: empty error type")
	case message == "":
		return ErrorEvent{}, fmt.Errorf("error event: empty message")
	}
	if ts.After(now.Add(maxFutureSkew)) {
		return ErrorEvent{}, fmt.Errorf("error event: timestamp %s is in the future", ts.Format(time.RFC3339))
	}

	ev := ErrorEvent{
		TraceID:   traceID,
		SpanID:    spanID,
		Service:   service,
		ErrorType: errorType,
		Message:   message,
		Frames:    append([]Frame(nil), frames...),
		Timestamp: ts,
		Severity:  sev,
	}
	if len(attrs) > 0 {
		ev.attributes = make(map[string]string, len(attrs))
		for k, v := range attrs {
			ev.attributes[k] = v
		}
	}
	return ev, nil
}

// Attribute returns a single attribute value.
func (e ErrorEvent) Attribute(key string) (string, bool) {
	v, ok := e.attributes[key]
	return v, ok
}

// Attributes returns a copy of the event's attribute map.
func (e ErrorEvent) Attributes() map[string]string {
	if len(e.attributes) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.attributes))
	for k, v := range e.attributes {
		out[k] = v
	}
	return out
}
