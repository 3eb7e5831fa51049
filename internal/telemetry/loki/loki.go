// Package loki implements telemetry.Source over a Loki log backend and
// a Tempo trace backend. Error occurrences are expected as structured
// JSON log lines carrying service, error type, message, and stack.
package loki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sleuth/internal/event"
	"github.com/linnemanlabs/sleuth/internal/fingerprint"
)

const (
	httpTimeout    = 30 * time.Second
	maxBody        = 5 << 20 // 5 MB
	maxQueryLines  = 1000
	successStatus  = "success"
	traceFetchPar  = 4
	defaultErrorQL = `{level=~"error|critical"}`
)

// Source queries Loki for errors and logs and Tempo for traces.
type Source struct {
	lokiEndpoint  string
	tempoEndpoint string
	tenantID      string
	errorQuery    string
	httpClient    *http.Client
	logger        log.Logger
	now           func() time.Time
}

// New creates a Source. errorQuery overrides the LogQL selector used to
// find error occurrences; empty uses the default level selector.
func New(lokiEndpoint, tempoEndpoint, tenantID, errorQuery string, logger log.Logger) *Source {
	if errorQuery == "" {
		errorQuery = defaultErrorQL
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Source{
		lokiEndpoint:  lokiEndpoint,
		tempoEndpoint: tempoEndpoint,
		tenantID:      tenantID,
		errorQuery:    errorQuery,
		httpClient:    &http.Client{Timeout: httpTimeout},
		logger:        logger,
		now:           time.Now,
	}
}

// errorLine is the structured JSON shape Sleuth expects error events to
// be logged in.
type errorLine struct {
	TraceID    string            `json:"trace_id"`
	SpanID     string            `json:"span_id"`
	Service    string            `json:"service"`
	ErrorType  string            `json:"error_type"`
	Message    string            `json:"message"`
	Frames     []event.Frame     `json:"frames"`
	Severity   string            `json:"severity"`
	Attributes map[string]string `json:"attributes"`
}

// RecentErrors fetches error occurrences since the given time, most
// recent first. Backend failure is always an error; lines that do not
// decode as error events are counted and skipped, never fabricated.
func (s *Source) RecentErrors(ctx context.Context, since time.Time, services []string) ([]event.ErrorEvent, error) {
	lines, err := s.queryRange(ctx, s.errorQuery, since, time.Now().UTC(), maxQueryLines)
	if err != nil {
		return nil, fmt.Errorf("recent errors: %w", err)
	}

	allowed := make(map[string]struct{}, len(services))
	for _, svc := range services {
		allowed[svc] = struct{}{}
	}

	var events []event.ErrorEvent
	var skipped int
	for _, l := range lines {
		ev, ok := s.decodeLine(l)
		if !ok {
			skipped++
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[ev.Service]; !ok {
				continue
			}
		}
		events = append(events, ev)
	}
	if skipped > 0 {
		s.logger.Warn(ctx, "skipped undecodable error lines", "count", skipped)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	return events, nil
}

// EventsForSignature fetches recent errors and keeps the ones whose
// computed fingerprint matches, at most limit.
func (s *Source) EventsForSignature(ctx context.Context, fp string, limit int) ([]event.ErrorEvent, error) {
	events, err := s.RecentErrors(ctx, s.now().UTC().Add(-24*time.Hour), nil)
	if err != nil {
		return nil, fmt.Errorf("events for signature %s: %w", fp, err)
	}

	var out []event.ErrorEvent
	for _, ev := range events {
		res, err := fingerprint.Compute(ev)
		if err != nil {
			continue
		}
		if res.Fingerprint != fp {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CorrelatedLogs fetches log lines around the given traces. A backend
// failure propagates; it is never downgraded to an empty result.
func (s *Source) CorrelatedLogs(ctx context.Context, traceIDs []string, window time.Duration) ([]event.LogEntry, error) {
	if len(traceIDs) == 0 {
		return nil, nil
	}

	end := time.Now().UTC()
	start := end.Add(-window)

	var out []event.LogEntry
	for _, id := range traceIDs {
		query := fmt.Sprintf(`{trace_id=%q}`, id)
		lines, err := s.queryRange(ctx, query, start, end, maxQueryLines)
		if err != nil {
			return nil, fmt.Errorf("correlated logs for trace %s: %w", id, err)
		}
		for _, l := range lines {
			out = append(out, event.LogEntry{
				Timestamp:  l.ts,
				TraceID:    id,
				Service:    l.labels["service_name"],
				Level:      l.labels["level"],
				Line:       l.line,
				Attributes: l.labels,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Traces resolves many trace ids with bounded parallelism. Ids that
// fail to resolve are logged and omitted; callers compare lengths.
func (s *Source) Traces(ctx context.Context, ids []string) ([]event.TraceTree, error) {
	var mu sync.Mutex
	var out []event.TraceTree

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(traceFetchPar)
	for _, id := range ids {
		g.Go(func() error {
			tree, err := s.Trace(gctx, id)
			if err != nil {
				s.logger.Warn(gctx, "trace fetch failed", "trace_id", id, "error", err.Error())
				return nil
			}
			mu.Lock()
			out = append(out, tree)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// keep the caller's order
	byID := make(map[string]event.TraceTree, len(out))
	for _, t := range out {
		byID[t.TraceID] = t
	}
	ordered := out[:0]
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			ordered = append(ordered, t)
		}
	}
	return ordered, nil
}

// lokiStream and friends mirror the Loki query_range response shape.
type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

type lokiResponse struct {
	Status string `json:"status"`
	Data   struct {
		Result []lokiStream `json:"result"`
	} `json:"data"`
}

type rawLine struct {
	ts     time.Time
	line   string
	labels map[string]string
}

func (s *Source) queryRange(ctx context.Context, query string, start, end time.Time, limit int) ([]rawLine, error) {
	u, err := url.Parse(s.lokiEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid loki endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "loki/api/v1/query_range")

	q := u.Query()
	q.Set("query", query)
	q.Set("start", start.Format(time.RFC3339Nano))
	q.Set("end", end.Format(time.RFC3339Nano))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("direction", "backward")
	u.RawQuery = q.Encode()

	body, err := s.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var resp lokiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode loki response: %w", err)
	}
	if resp.Status != successStatus {
		return nil, fmt.Errorf("loki query failed: %s", resp.Status)
	}

	var lines []rawLine
	for _, stream := range resp.Data.Result {
		for _, entry := range stream.Values {
			if len(entry) < 2 {
				continue
			}
			ns, err := strconv.ParseInt(entry[0], 10, 64)
			if err != nil {
				continue
			}
			lines = append(lines, rawLine{
				ts:     time.Unix(0, ns).UTC(),
				line:   entry[1],
				labels: stream.Stream,
			})
		}
	}
	return lines, nil
}

func (s *Source) decodeLine(l rawLine) (event.ErrorEvent, bool) {
	var el errorLine
	if err := json.Unmarshal([]byte(l.line), &el); err != nil {
		return event.ErrorEvent{}, false
	}
	if el.Service == "" {
		el.Service = l.labels["service_name"]
	}
	sev, err := event.ParseSeverity(el.Severity)
	if err != nil {
		sev = event.SeverityError
	}
	ev, err := event.NewErrorEvent(el.TraceID, el.SpanID, el.Service, el.ErrorType, el.Message, el.Frames, l.ts, s.now(), sev, el.Attributes)
	if err != nil {
		return event.ErrorEvent{}, false
	}
	return ev, true
}

func (s *Source) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if s.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", s.tenantID)
	}

	resp, err := s.httpClient.Do(req) //nolint:gosec // G704: endpoints come from operator config, not user input
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}
	return body, nil
}

// statusError carries the backend HTTP status so callers can map
// specific codes to domain errors.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.code, e.body)
}
