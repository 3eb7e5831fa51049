// Package telemetry defines the read interface over observability
// backends. Implementations query a concrete system (Loki, Tempo, a
// vendor API); callers only see error events, traces, and logs.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/sleuth/internal/event"
)

// ErrTraceNotFound is returned by Source.Trace when the backend has no
// trace with the requested id.
var ErrTraceNotFound = errors.New("trace not found")

// Source supplies error, trace, and log data for polling and
// investigation. Backend unavailability is always an error, never a
// silently empty result. Traces is the one lenient call: it may omit
// ids that failed to resolve, and callers compare lengths.
type Source interface {
	// RecentErrors returns error occurrences since the given time,
	// most recent first, optionally filtered to the named services.
	RecentErrors(ctx context.Context, since time.Time, services []string) ([]event.ErrorEvent, error)

	// Trace returns one trace tree, or ErrTraceNotFound.
	Trace(ctx context.Context, id string) (event.TraceTree, error)

	// Traces resolves many trace ids, omitting ones that failed.
	Traces(ctx context.Context, ids []string) ([]event.TraceTree, error)

	// CorrelatedLogs returns log lines around the given traces.
	CorrelatedLogs(ctx context.Context, traceIDs []string, window time.Duration) ([]event.LogEntry, error)

	// EventsForSignature returns recent occurrences matching a
	// fingerprint, at most limit.
	EventsForSignature(ctx context.Context, fingerprint string, limit int) ([]event.ErrorEvent, error)
}
