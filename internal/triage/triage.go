// Package triage holds the pure decision logic that selects which
// signatures get investigated, which diagnoses get reported, and in
// what order. No I/O; callers supply the clock.
package triage

import (
	"time"

	"github.com/linnemanlabs/sleuth/internal/signature"
)

// Priority bonuses. Recency bonuses are mutually exclusive and skip
// signatures whose last seen sits in the future (clock skew).
const (
	bonusLastHour = 50
	bonusLastDay  = 25
	bonusCritical = 100
	flakyPenalty  = 20
)

// Config carries the tunable thresholds for triage decisions.
type Config struct {
	// InvestigateThreshold is the occurrence count at or above which a
	// signature becomes eligible for investigation.
	InvestigateThreshold int

	// Cooldown suppresses re-investigation for this long after the
	// last diagnosis attempt, unless the signature is tagged critical.
	Cooldown time.Duration

	// MuteTTL is how long a mute holds before it expires. Zero means
	// mutes never expire.
	MuteTTL time.Duration

	// PriorityCap bounds the occurrence-count contribution to priority.
	PriorityCap int
}

// DefaultConfig returns the thresholds used when no policy overrides.
func DefaultConfig() Config {
	return Config{
		InvestigateThreshold: 3,
		Cooldown:             4 * time.Hour,
		MuteTTL:              0,
		PriorityCap:          100,
	}
}

// Engine makes triage decisions from signature state and configuration
// alone. Safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates a triage engine with the given thresholds.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// ShouldInvestigate decides whether a signature warrants an automated
// investigation right now.
func (e *Engine) ShouldInvestigate(sig *signature.Signature, now time.Time) bool {
	switch sig.Status() {
	case signature.StatusResolved:
		return false
	case signature.StatusMuted:
		if e.cfg.MuteTTL == 0 || now.Sub(sig.StatusChangedAt()) < e.cfg.MuteTTL {
			return false
		}
	case signature.StatusInvestigating:
		// resume an investigation that never concluded
		return true
	}

	critical := sig.HasTag(signature.TagCritical)

	// cooldown after the last diagnosis attempt, critical skips it
	if !critical && !sig.LastAttempt().IsZero() && now.Sub(sig.LastAttempt()) < e.cfg.Cooldown {
		return false
	}

	return critical || sig.OccurrenceCount() >= e.cfg.InvestigateThreshold
}

// ShouldNotify decides whether a freshly produced diagnosis is worth a
// notification. Repeated low-confidence re-diagnoses stay quiet; a
// re-diagnosis that reaches high confidence notifies again.
func (e *Engine) ShouldNotify(sig *signature.Signature, diag *signature.Diagnosis, previousStatus signature.Status) bool {
	if diag == nil {
		return false
	}
	if diag.Confidence == signature.ConfidenceHigh {
		return true
	}
	if previousStatus != signature.StatusDiagnosed {
		return true
	}
	return sig.HasTag(signature.TagCritical)
}

// Priority scores a signature for investigation ordering. Higher goes
// first. Monotonic in occurrence count up to the configured cap.
func (e *Engine) Priority(sig *signature.Signature, now time.Time) int {
	score := sig.OccurrenceCount()
	if score > e.cfg.PriorityCap {
		score = e.cfg.PriorityCap
	}

	age := now.Sub(sig.LastSeen())
	switch {
	case age < 0:
		// future last seen, no recency bonus
	case age < time.Hour:
		score += bonusLastHour
	case age < 24*time.Hour:
		score += bonusLastDay
	}

	if sig.HasTag(signature.TagCritical) {
		score += bonusCritical
	}
	if sig.HasTag(signature.TagFlakyTest) {
		score -= flakyPenalty
	}
	return score
}
