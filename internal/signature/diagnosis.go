package signature

import (
	"fmt"
	"time"
)

// Confidence is the reasoning engine's self-reported certainty.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ParseConfidence converts a string from a storage or engine boundary
// into a Confidence. Unknown values produce an error listing the valid set.
func ParseConfidence(s string) (Confidence, error) {
	switch Confidence(s) {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return Confidence(s), nil
	}
	return "", fmt.Errorf("unknown confidence %q (valid: low, medium, high)", s)
}

// Diagnosis is a reasoning engine's root-cause hypothesis. It is
// immutable and owned by exactly one Signature; a re-diagnosis replaces
// the whole value.
type Diagnosis struct {
	RootCause    string     `json:"root_cause"`
	Evidence     []string   `json:"evidence"`
	SuggestedFix string     `json:"suggested_fix"`
	Confidence   Confidence `json:"confidence"`
	Engine       string     `json:"engine"`
	Cost         float64    `json:"cost_usd"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewDiagnosis validates and builds a Diagnosis. The evidence slice is
// copied; it must be non-empty and ordered by the caller.
func NewDiagnosis(rootCause string, evidence []string, suggestedFix string, confidence Confidence, engine string, cost float64, createdAt time.Time) (*Diagnosis, error) {
	switch {
	case rootCause == "":
		return nil, fmt.Errorf("diagnosis: empty root cause")
	case len(evidence) == 0:
		return nil, fmt.Errorf("diagnosis: empty evidence list")
	case engine == "":
		return nil, fmt.Errorf("diagnosis: empty engine identifier")
	case cost < 0:
		return nil, fmt.Errorf("diagnosis: negative cost %f", cost)
	}
	if _, err := ParseConfidence(string(confidence)); err != nil {
		return nil, fmt.Errorf("diagnosis: %w", err)
	}

	return &Diagnosis{
		RootCause:    rootCause,
		Evidence:     append([]string(nil), evidence...),
		SuggestedFix: suggestedFix,
		Confidence:   confidence,
		Engine:       engine,
		Cost:         cost,
		CreatedAt:    createdAt,
	}, nil
}
