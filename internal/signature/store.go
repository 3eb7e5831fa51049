package signature

import (
	"context"
	"time"
)

// StoreStats is the fixed summary shape returned by Store.Stats.
type StoreStats struct {
	Total            int       `json:"total"`
	New              int       `json:"new"`
	Investigating    int       `json:"investigating"`
	Diagnosed        int       `json:"diagnosed"`
	Resolved         int       `json:"resolved"`
	Muted            int       `json:"muted"`
	WithDiagnosis    int       `json:"with_diagnosis"`
	OldestUnresolved time.Time `json:"oldest_unresolved,omitempty"`
}

// Store is the persistence interface for signatures. Absence is a
// normal (nil, false, nil) result, never an error. Update applies
// optimistic concurrency: it returns ErrConflict when the stored
// version no longer matches the one the caller read, so a concurrent
// writer can never be silently overwritten.
type Store interface {
	GetByID(ctx context.Context, id string) (*Signature, bool, error)
	GetByFingerprint(ctx context.Context, fp string) (*Signature, bool, error)
	Save(ctx context.Context, sig *Signature) error
	Update(ctx context.Context, sig *Signature) error
	PendingInvestigation(ctx context.Context) ([]*Signature, error)
	GetSimilar(ctx context.Context, sig *Signature, limit int) ([]*Signature, error)
	Stats(ctx context.Context) (StoreStats, error)
}

// SetVersionForStore stamps the version a store just persisted so the
// in-memory object stays usable by its holder. Not for use outside
// Store implementations.
func SetVersionForStore(s *Signature, v int) { s.version = v }
