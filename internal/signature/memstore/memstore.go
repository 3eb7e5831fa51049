// Package memstore provides an in-memory implementation of
// signature.Store. Suitable for dev/testing and single-run tooling.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/sleuth/internal/signature"
)

// Store holds signature records in memory, guarded by a mutex. Values
// handed out are rehydrated copies; nothing aliases the internal maps.
type Store struct {
	mu   sync.RWMutex
	byID map[string]signature.Record
	byFP map[string]string // fingerprint -> signature ID
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		byID: make(map[string]signature.Record),
		byFP: make(map[string]string),
	}
}

// GetByID retrieves a signature by its ID.
func (s *Store) GetByID(_ context.Context, id string) (*signature.Signature, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, false, nil
	}
	sig, err := signature.Rehydrate(rec)
	if err != nil {
		return nil, false, err
	}
	return sig, true, nil
}

// GetByFingerprint retrieves a signature by fingerprint.
func (s *Store) GetByFingerprint(_ context.Context, fp string) (*signature.Signature, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byFP[fp]
	if !ok {
		return nil, false, nil
	}
	sig, err := signature.Rehydrate(s.byID[id])
	if err != nil {
		return nil, false, err
	}
	return sig, true, nil
}

// Save inserts a new signature. Saving an existing ID is a caller bug.
func (s *Store) Save(_ context.Context, sig *signature.Signature) error {
	rec := sig.Snapshot()
	if rec.ID == "" {
		return fmt.Errorf("memstore: save: empty id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[rec.ID]; exists {
		return fmt.Errorf("memstore: save: signature %s already exists", rec.ID)
	}
	rec.Version = 1
	s.byID[rec.ID] = rec
	s.byFP[rec.Fingerprint] = rec.ID
	signature.SetVersionForStore(sig, 1)
	return nil
}

// Update persists a mutated signature. A version mismatch means a
// concurrent writer won; the caller gets ErrConflict, never a silent
// overwrite.
func (s *Store) Update(_ context.Context, sig *signature.Signature) error {
	rec := sig.Snapshot()
	if rec.ID == "" {
		return fmt.Errorf("memstore: update: empty id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[rec.ID]
	if !ok {
		return fmt.Errorf("memstore: update %s: %w", rec.ID, signature.ErrNotFound)
	}
	if stored.Version != rec.Version {
		return fmt.Errorf("memstore: update %s: %w", rec.ID, signature.ErrConflict)
	}
	rec.Version++
	s.byID[rec.ID] = rec
	s.byFP[rec.Fingerprint] = rec.ID
	signature.SetVersionForStore(sig, rec.Version)
	return nil
}

// PendingInvestigation returns signatures whose status makes them
// investigation candidates (new or still investigating).
func (s *Store) PendingInvestigation(_ context.Context) ([]*signature.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*signature.Signature
	for _, rec := range s.byID {
		switch signature.Status(rec.Status) {
		case signature.StatusNew, signature.StatusInvestigating, signature.StatusMuted:
			sig, err := signature.Rehydrate(rec)
			if err != nil {
				return nil, err
			}
			out = append(out, sig)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// GetSimilar returns signatures sharing the stack hash or the
// service+error type pair, most recently seen first.
func (s *Store) GetSimilar(_ context.Context, sig *signature.Signature, limit int) ([]*signature.Signature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var recs []signature.Record
	for _, rec := range s.byID {
		if rec.ID == sig.ID() {
			continue
		}
		if rec.StackHash == sig.StackHash() || (rec.Service == sig.Service() && rec.ErrorType == sig.ErrorType()) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].LastSeen.After(recs[j].LastSeen) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	out := make([]*signature.Signature, 0, len(recs))
	for _, rec := range recs {
		sim, err := signature.Rehydrate(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, sim)
	}
	return out, nil
}

// Stats summarizes the stored signatures.
func (s *Store) Stats(_ context.Context) (signature.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st signature.StoreStats
	var oldest time.Time
	for _, rec := range s.byID {
		st.Total++
		switch signature.Status(rec.Status) {
		case signature.StatusNew:
			st.New++
		case signature.StatusInvestigating:
			st.Investigating++
		case signature.StatusDiagnosed:
			st.Diagnosed++
		case signature.StatusResolved:
			st.Resolved++
		case signature.StatusMuted:
			st.Muted++
		}
		if rec.Diagnosis != nil {
			st.WithDiagnosis++
		}
		if signature.Status(rec.Status) != signature.StatusResolved {
			if oldest.IsZero() || rec.FirstSeen.Before(oldest) {
				oldest = rec.FirstSeen
			}
		}
	}
	st.OldestUnresolved = oldest
	return st, nil
}
