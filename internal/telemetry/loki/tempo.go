package loki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/linnemanlabs/sleuth/internal/event"
	"github.com/linnemanlabs/sleuth/internal/telemetry"
)

// tempoTrace mirrors the relevant slice of Tempo's OTLP JSON response.
type tempoTrace struct {
	Batches []struct {
		Resource struct {
			Attributes []tempoAttr `json:"attributes"`
		} `json:"resource"`
		ScopeSpans []struct {
			Spans []tempoSpan `json:"spans"`
		} `json:"scopeSpans"`
	} `json:"batches"`
}

type tempoSpan struct {
	SpanID       string      `json:"spanId"`
	ParentSpanID string      `json:"parentSpanId"`
	Name         string      `json:"name"`
	Start        string      `json:"startTimeUnixNano"`
	End          string      `json:"endTimeUnixNano"`
	Attributes   []tempoAttr `json:"attributes"`
	Status       struct {
		Code string `json:"code"`
	} `json:"status"`
}

type tempoAttr struct {
	Key   string `json:"key"`
	Value struct {
		StringValue string `json:"stringValue"`
	} `json:"value"`
}

// Trace fetches one trace from Tempo and rebuilds its span tree.
// Absence maps to telemetry.ErrTraceNotFound.
func (s *Source) Trace(ctx context.Context, id string) (event.TraceTree, error) {
	u, err := url.Parse(s.tempoEndpoint)
	if err != nil {
		return event.TraceTree{}, fmt.Errorf("invalid tempo endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "api/traces", id)

	body, err := s.get(ctx, u.String())
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return event.TraceTree{}, fmt.Errorf("trace %s: %w", id, telemetry.ErrTraceNotFound)
		}
		return event.TraceTree{}, fmt.Errorf("trace %s: %w", id, err)
	}

	var tt tempoTrace
	if err := json.Unmarshal(body, &tt); err != nil {
		return event.TraceTree{}, fmt.Errorf("trace %s: decode: %w", id, err)
	}

	tree, ok := buildTree(id, tt)
	if !ok {
		return event.TraceTree{}, fmt.Errorf("trace %s: empty: %w", id, telemetry.ErrTraceNotFound)
	}
	return tree, nil
}

// buildTree links spans by parent id. The span without a resolvable
// parent becomes the root; orphans attach to it so nothing is dropped.
func buildTree(traceID string, tt tempoTrace) (event.TraceTree, bool) {
	type flatSpan struct {
		node   event.SpanNode
		parent string
	}

	var spans []flatSpan
	for _, batch := range tt.Batches {
		service := attrValue(batch.Resource.Attributes, "service.name")
		for _, scope := range batch.ScopeSpans {
			for _, sp := range scope.Spans {
				node := event.SpanNode{
					SpanID:    sp.SpanID,
					Name:      sp.Name,
					Service:   service,
					Start:     unixNano(sp.Start),
					End:       unixNano(sp.End),
					StatusErr: strings.EqualFold(sp.Status.Code, "STATUS_CODE_ERROR"),
				}
				if len(sp.Attributes) > 0 {
					node.Attributes = make(map[string]string, len(sp.Attributes))
					for _, a := range sp.Attributes {
						node.Attributes[a.Key] = a.Value.StringValue
					}
				}
				spans = append(spans, flatSpan{node: node, parent: sp.ParentSpanID})
			}
		}
	}
	if len(spans) == 0 {
		return event.TraceTree{}, false
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].node.Start.Before(spans[j].node.Start) })

	ids := make(map[string]struct{}, len(spans))
	for _, sp := range spans {
		ids[sp.node.SpanID] = struct{}{}
	}

	rootIdx := 0
	for i, sp := range spans {
		if sp.parent == "" {
			rootIdx = i
			break
		}
		if _, ok := ids[sp.parent]; !ok {
			rootIdx = i
		}
	}

	children := make(map[string][]event.SpanNode)
	for i, sp := range spans {
		if i == rootIdx {
			continue
		}
		parent := sp.parent
		if _, ok := ids[parent]; !ok || parent == "" {
			parent = spans[rootIdx].node.SpanID
		}
		children[parent] = append(children[parent], sp.node)
	}

	var attach func(n event.SpanNode) event.SpanNode
	attach = func(n event.SpanNode) event.SpanNode {
		for _, c := range children[n.SpanID] {
			n.Children = append(n.Children, attach(c))
		}
		return n
	}

	return event.TraceTree{TraceID: traceID, Root: attach(spans[rootIdx].node)}, true
}

func attrValue(attrs []tempoAttr, key string) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value.StringValue
		}
	}
	return ""
}

func unixNano(s string) time.Time {
	ns, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
