// Package poll drives Sleuth's two outer loops: ingest and dedupe new
// errors into signatures, and select, order, and run investigations.
// Both loops isolate per-item failures so one bad item never aborts a
// batch.
package poll

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/sleuth/internal/event"
	"github.com/linnemanlabs/sleuth/internal/fingerprint"
	"github.com/linnemanlabs/sleuth/internal/investigate"
	"github.com/linnemanlabs/sleuth/internal/signature"
	"github.com/linnemanlabs/sleuth/internal/telemetry"
	"github.com/linnemanlabs/sleuth/internal/triage"
)

// Config carries the poll loop tunables.
type Config struct {
	// Lookback is the error fetch window per poll cycle.
	Lookback time.Duration

	// Services optionally restricts polling to the named services.
	Services []string
}

// Result is the immutable summary of one poll cycle. Per-item failures
// are log-only; the counts here are aggregates.
type Result struct {
	ErrorsFound          int `json:"errors_found"`
	SignaturesCreated    int `json:"signatures_created"`
	SignaturesUpdated    int `json:"signatures_updated"`
	InvestigationsQueued int `json:"investigations_queued"`
}

// InvestigationFailure records one signature whose investigation failed
// during a cycle.
type InvestigationFailure struct {
	SignatureID string
	Fingerprint string
	Err         error
}

// CycleReport is the outcome of one investigation cycle: every
// diagnosis produced and every failure hit, for full visibility into
// partial failure.
type CycleReport struct {
	Diagnoses []*signature.Diagnosis
	Failures  []InvestigationFailure
}

// Service runs the poll and investigation cycles.
type Service struct {
	store        signature.Store
	source       telemetry.Source
	triage       *triage.Engine
	investigator *investigate.Investigator
	logger       log.Logger
	metrics      *Metrics
	cfg          Config
	now          func() time.Time
}

// NewService creates the poll service. metrics may be nil; now defaults
// to time.Now when nil.
func NewService(store signature.Store, source telemetry.Source, tri *triage.Engine, inv *investigate.Investigator, logger log.Logger, metrics *Metrics, cfg Config, now func() time.Time) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if now == nil {
		now = time.Now
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 5 * time.Minute
	}
	return &Service{
		store:        store,
		source:       source,
		triage:       tri,
		investigator: inv,
		logger:       logger,
		metrics:      metrics,
		cfg:          cfg,
		now:          now,
	}
}

// PollCycle fetches errors from the lookback window and folds each one
// into its signature: record an occurrence on a fingerprint match,
// create a fresh signature otherwise. One bad error is logged and
// skipped; the batch continues.
func (s *Service) PollCycle(ctx context.Context) (Result, error) {
	now := s.now()
	since := now.Add(-s.cfg.Lookback)

	events, err := s.source.RecentErrors(ctx, since, s.cfg.Services)
	if err != nil {
		return Result{}, fmt.Errorf("poll cycle: recent errors: %w", err)
	}

	res := Result{ErrorsFound: len(events)}
	touched := make(map[string]*signature.Signature)

	// RecentErrors is most-recent-first; fold oldest-first so each
	// occurrence advances last seen instead of tripping its guard
	for i := len(events) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("poll cycle: %w", err)
		}
		ev := events[i]
		created, sig, err := s.ingest(ctx, ev, touched)
		if err != nil {
			s.logger.Error(ctx, err, "skipping error event",
				"service", ev.Service,
				"error_type", ev.ErrorType,
				"trace_id", ev.TraceID,
			)
			if s.metrics != nil {
				s.metrics.PollItemFailures.Inc()
			}
			continue
		}
		if created {
			res.SignaturesCreated++
		} else {
			res.SignaturesUpdated++
		}
		touched[sig.Fingerprint()] = sig
	}

	for _, sig := range touched {
		if s.triage.ShouldInvestigate(sig, now) {
			res.InvestigationsQueued++
		}
	}

	if s.metrics != nil {
		s.metrics.ObservePoll(res)
	}

	s.logger.Info(ctx, "poll cycle complete",
		"errors_found", res.ErrorsFound,
		"created", res.SignaturesCreated,
		"updated", res.SignaturesUpdated,
		"queued", res.InvestigationsQueued,
	)
	return res, nil
}

// ingest folds one event into its signature. touched caches signatures
// already loaded this cycle so repeats within a batch stay consistent.
func (s *Service) ingest(ctx context.Context, ev event.ErrorEvent, touched map[string]*signature.Signature) (created bool, _ *signature.Signature, _ error) {
	fp, err := fingerprint.Compute(ev)
	if err != nil {
		return false, nil, fmt.Errorf("fingerprint: %w", err)
	}

	sig, ok := touched[fp.Fingerprint]
	if !ok {
		sig, ok, err = s.store.GetByFingerprint(ctx, fp.Fingerprint)
		if err != nil {
			return false, nil, fmt.Errorf("lookup %s: %w", fp.Fingerprint, err)
		}
	}

	if !ok {
		sig, err = signature.New(ulid.Make().String(), fp.Fingerprint, ev.ErrorType, ev.Service, fp.MessageTemplate, fp.StackHash, ev.Timestamp)
		if err != nil {
			return false, nil, fmt.Errorf("create signature: %w", err)
		}
		s.applySeverityTags(sig, ev)
		if err := s.store.Save(ctx, sig); err != nil {
			return false, nil, fmt.Errorf("save %s: %w", sig.ID(), err)
		}
		return true, sig, nil
	}

	if err := sig.RecordOccurrence(ev.Timestamp); err != nil {
		return false, nil, fmt.Errorf("record occurrence on %s: %w", sig.ID(), err)
	}
	s.applySeverityTags(sig, ev)
	if err := s.store.Update(ctx, sig); err != nil {
		return false, nil, fmt.Errorf("update %s: %w", sig.ID(), err)
	}
	return false, sig, nil
}

// applySeverityTags promotes severity-critical occurrences to the
// critical tag so triage weighs them immediately.
func (s *Service) applySeverityTags(sig *signature.Signature, ev event.ErrorEvent) {
	if ev.Severity == event.SeverityCritical {
		_ = sig.AddTag(signature.TagCritical)
	}
}

// InvestigationCycle collects every triage-eligible signature, orders
// by priority computed once at cycle start, and runs investigations one
// at a time. Per-signature failures are logged, accumulated, and never
// abort the cycle.
func (s *Service) InvestigationCycle(ctx context.Context) (CycleReport, error) {
	now := s.now()

	pending, err := s.store.PendingInvestigation(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("investigation cycle: pending: %w", err)
	}

	eligible := pending[:0]
	for _, sig := range pending {
		if s.triage.ShouldInvestigate(sig, now) {
			eligible = append(eligible, sig)
		}
	}

	// priority is computed once here and not re-evaluated mid-cycle
	sort.SliceStable(eligible, func(i, j int) bool {
		pi, pj := s.triage.Priority(eligible[i], now), s.triage.Priority(eligible[j], now)
		if pi != pj {
			return pi > pj
		}
		return eligible[i].LastSeen().After(eligible[j].LastSeen())
	})

	var report CycleReport
	for _, sig := range eligible {
		// cooperative cancellation between items, never mid-item
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("investigation cycle: %w", err)
		}

		start := s.now()
		diag, err := s.investigator.Investigate(ctx, sig)
		if err != nil {
			s.logger.Error(ctx, err, "investigation failed",
				"signature_id", sig.ID(),
				"fingerprint", sig.Fingerprint(),
			)
			report.Failures = append(report.Failures, InvestigationFailure{
				SignatureID: sig.ID(),
				Fingerprint: sig.Fingerprint(),
				Err:         err,
			})
			if s.metrics != nil {
				s.metrics.ObserveInvestigation("failed", s.now().Sub(start), 0)
			}
			continue
		}
		report.Diagnoses = append(report.Diagnoses, diag)
		if s.metrics != nil {
			s.metrics.ObserveInvestigation("diagnosed", s.now().Sub(start), diag.Cost)
		}
	}

	s.logger.Info(ctx, "investigation cycle complete",
		"eligible", len(eligible),
		"diagnosed", len(report.Diagnoses),
		"failed", len(report.Failures),
	)
	return report, nil
}
