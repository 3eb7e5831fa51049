// Package investigate orchestrates a single root-cause investigation:
// gather evidence from telemetry, invoke the diagnosis engine, apply
// validated lifecycle transitions, persist, and notify.
package investigate

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sleuth/internal/signature"
	"github.com/linnemanlabs/sleuth/internal/telemetry"
	"github.com/linnemanlabs/sleuth/internal/triage"
)

// Config bounds the evidence gathered per investigation.
type Config struct {
	// MaxEvents is the occurrence sample size fetched per signature.
	MaxEvents int

	// LogWindow is how far around the traces correlated logs reach.
	LogWindow time.Duration
}

// DefaultConfig returns the evidence bounds used when main does not
// override them.
func DefaultConfig() Config {
	return Config{
		MaxEvents: 10,
		LogWindow: 5 * time.Minute,
	}
}

// Investigator runs one investigation end to end. It owns failure
// recovery: a failed diagnosis reverts the signature, a failed
// notification never undoes a durable diagnosis.
type Investigator struct {
	store    signature.Store
	source   telemetry.Source
	engine   Engine
	triage   *triage.Engine
	notifier Notifier
	logger   log.Logger
	cfg      Config
	now      func() time.Time
}

// New creates an Investigator. The notifier may be nil; now defaults to
// time.Now when nil (tests pass a fixed clock).
func New(store signature.Store, source telemetry.Source, engine Engine, tri *triage.Engine, notifier Notifier, logger log.Logger, cfg Config, now func() time.Time) *Investigator {
	if logger == nil {
		logger = log.Nop()
	}
	if now == nil {
		now = time.Now
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig().MaxEvents
	}
	if cfg.LogWindow <= 0 {
		cfg.LogWindow = DefaultConfig().LogWindow
	}
	return &Investigator{
		store:    store,
		source:   source,
		engine:   engine,
		triage:   tri,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      now,
	}
}

// Investigate runs a full investigation for one signature and returns
// the diagnosis it produced. The signature passed in is mutated through
// its named operations and persisted at each state change.
func (inv *Investigator) Investigate(ctx context.Context, sig *signature.Signature) (*signature.Diagnosis, error) {
	L := inv.logger.With(
		"signature_id", sig.ID(),
		"fingerprint", sig.Fingerprint(),
		"service", sig.Service(),
		"error_type", sig.ErrorType(),
	)

	previousStatus := sig.Status()

	ictx, err := inv.assembleContext(ctx, L, sig)
	if err != nil {
		return nil, fmt.Errorf("investigate %s: gather context: %w", sig.ID(), err)
	}

	// claim the signature; a concurrent second attempt fails either the
	// transition check or the store's conflict detection
	if sig.Status() != signature.StatusInvestigating {
		// a muted signature whose mute has lapsed re-enters the
		// lifecycle through new; the claim below persists both moves
		if sig.Status() == signature.StatusMuted {
			if err := sig.Retriage(inv.now()); err != nil {
				return nil, fmt.Errorf("investigate %s: unmute: %w", sig.ID(), err)
			}
		}
		if err := sig.BeginInvestigation(inv.now()); err != nil {
			return nil, fmt.Errorf("investigate %s: %w", sig.ID(), err)
		}
		if err := inv.store.Update(ctx, sig); err != nil {
			return nil, fmt.Errorf("investigate %s: claim: %w", sig.ID(), err)
		}
	}

	L.Info(ctx, "invoking diagnosis engine",
		"events", len(ictx.Events),
		"traces", len(ictx.Traces),
		"logs", len(ictx.Logs),
		"incomplete", ictx.Incomplete,
		"estimated_cost", inv.engine.EstimateCost(ictx),
	)

	diag, err := inv.engine.Diagnose(ctx, ictx)
	if err != nil {
		return nil, inv.revert(ctx, L, sig, fmt.Errorf("investigate %s: diagnose: %w", sig.ID(), err))
	}

	if err := sig.AttachDiagnosis(diag, inv.now()); err != nil {
		return nil, inv.revert(ctx, L, sig, fmt.Errorf("investigate %s: attach: %w", sig.ID(), err))
	}

	// a persist failure here leaves the signature investigating in the
	// store; the caller sees the error and nothing is silently lost
	if err := inv.store.Update(ctx, sig); err != nil {
		return nil, fmt.Errorf("investigate %s: persist diagnosis: %w", sig.ID(), err)
	}

	L.Info(ctx, "diagnosis attached",
		"confidence", diag.Confidence,
		"engine", diag.Engine,
		"cost", diag.Cost,
	)

	// notification failure never undoes the already-durable diagnosis
	if inv.notifier != nil && inv.triage.ShouldNotify(sig, diag, previousStatus) {
		if err := inv.notifier.Report(ctx, sig, diag); err != nil {
			L.Error(ctx, err, "notification failed")
		}
	}

	return diag, nil
}

// assembleContext gathers occurrences, traces, and correlated logs. A
// partial trace set marks the context incomplete instead of failing.
func (inv *Investigator) assembleContext(ctx context.Context, L log.Logger, sig *signature.Signature) (*Context, error) {
	events, err := inv.source.EventsForSignature(ctx, sig.Fingerprint(), inv.cfg.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}

	var traceIDs []string
	seen := make(map[string]struct{})
	for _, ev := range events {
		if ev.TraceID == "" {
			continue
		}
		if _, dup := seen[ev.TraceID]; dup {
			continue
		}
		seen[ev.TraceID] = struct{}{}
		traceIDs = append(traceIDs, ev.TraceID)
	}

	ictx := &Context{
		Signature: sig.Snapshot(),
		Events:    events,
	}

	if len(traceIDs) > 0 {
		traces, err := inv.source.Traces(ctx, traceIDs)
		if err != nil {
			return nil, fmt.Errorf("traces: %w", err)
		}
		ictx.Traces = traces
		if len(traces) < len(traceIDs) {
			ictx.Incomplete = true
			L.Warn(ctx, "proceeding with partial trace set",
				"requested", len(traceIDs), "resolved", len(traces))
		}

		logs, err := inv.source.CorrelatedLogs(ctx, traceIDs, inv.cfg.LogWindow)
		if err != nil {
			return nil, fmt.Errorf("correlated logs: %w", err)
		}
		ictx.Logs = logs
	}

	return ictx, nil
}

// revert is the best-effort rollback after a failed investigation. The
// original error always propagates; a failed revert-persist is logged
// distinctly and never masks it.
func (inv *Investigator) revert(ctx context.Context, L log.Logger, sig *signature.Signature, original error) error {
	if sig.Status() == signature.StatusInvestigating {
		if err := sig.RevertToNew(inv.now()); err != nil {
			L.Error(ctx, err, "revert transition failed")
			return original
		}
		if err := inv.store.Update(ctx, sig); err != nil {
			L.Error(ctx, err, "revert persist failed, signature left investigating")
			return original
		}
	}
	return original
}
