package event

import "time"

// SpanNode is one unit of work inside a trace. Children are ordered by
// start time as reported by the backend.
type SpanNode struct {
	SpanID     string
	Name       string
	Service    string
	Start      time.Time
	End        time.Time
	StatusErr  bool
	Attributes map[string]string
	Children   []SpanNode
}

// TraceTree is an immutable snapshot of one distributed request,
// rooted at its entry span. Owned by a single investigation context and
// discarded with it.
type TraceTree struct {
	TraceID string
	Root    SpanNode
}

// Walk visits every span in the tree depth-first, root first.
func (t TraceTree) Walk(fn func(SpanNode)) {
	var visit func(SpanNode)
	visit = func(n SpanNode) {
		fn(n)
		for _, c := range n.Children {
			visit(c)
		}
	}
	visit(t.Root)
}

// SpanCount returns the number of spans in the tree.
func (t TraceTree) SpanCount() int {
	n := 0
	t.Walk(func(SpanNode) { n++ })
	return n
}

// LogEntry is one correlated log line fetched for an investigation.
type LogEntry struct {
	Timestamp  time.Time
	TraceID    string
	Service    string
	Level      string
	Line       string
	Attributes map[string]string
}
