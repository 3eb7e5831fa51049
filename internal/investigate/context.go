package investigate

import (
	"github.com/linnemanlabs/sleuth/internal/event"
	"github.com/linnemanlabs/sleuth/internal/signature"
)

// Context is the ephemeral evidence bundle assembled for one
// investigation: the triggering signature, recent matching occurrences,
// their trace trees, and correlated logs. It is handed to the diagnosis
// engine and discarded.
type Context struct {
	Signature signature.Record
	Events    []event.ErrorEvent
	Traces    []event.TraceTree
	Logs      []event.LogEntry

	// Incomplete is set when fewer traces resolved than were requested.
	// The investigation proceeds on the partial set.
	Incomplete bool
}
