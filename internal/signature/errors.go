package signature

import (
	"errors"
	"fmt"
)

// ErrNotFound is the normal "no such signature" outcome. Stores return
// (nil, false, nil); callers that need an error value use this sentinel.
var ErrNotFound = errors.New("signature not found")

// ErrConflict is returned by Store.Update when a concurrent update to
// the same signature was persisted first. The caller must re-read and
// re-apply rather than overwrite.
var ErrConflict = errors.New("conflicting concurrent update")

// InvalidTransitionError reports a lifecycle move outside the
// transition table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
