package signature

import "fmt"

// Status tracks where a signature is in its lifecycle.
type Status string

const (
	// StatusNew means seen but not yet investigated
	StatusNew Status = "new"

	// StatusInvestigating means an investigation is in flight
	StatusInvestigating Status = "investigating"

	// StatusDiagnosed means a diagnosis is attached
	StatusDiagnosed Status = "diagnosed"

	// StatusResolved means an operator marked the underlying issue fixed
	StatusResolved Status = "resolved"

	// StatusMuted means an operator suppressed investigation
	StatusMuted Status = "muted"
)

// validTransitions is the complete transition table. Anything absent
// here is rejected with ErrInvalidTransition.
var validTransitions = map[Status][]Status{
	StatusNew:           {StatusInvestigating},
	StatusInvestigating: {StatusDiagnosed, StatusNew},
	StatusDiagnosed:     {StatusResolved, StatusMuted, StatusNew},
	StatusResolved:      {StatusNew},
	StatusMuted:         {StatusNew},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ParseStatus converts a string from a storage or adapter boundary into
// a Status. Unknown values produce an error listing the valid set.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusNew, StatusInvestigating, StatusDiagnosed, StatusResolved, StatusMuted:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q (valid: new, investigating, diagnosed, resolved, muted)", s)
}
