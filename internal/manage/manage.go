// Package manage exposes the operator-facing signature operations:
// mute, resolve, retriage, and detail lookup. Every mutation goes
// through the signature's own validated transitions; not-found is a
// distinct outcome, never conflated with a storage failure.
package manage

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sleuth/internal/signature"
)

// similarLimit is how many related signatures Details returns.
const similarLimit = 5

// Details bundles a signature with signatures shaped like it.
type Details struct {
	Signature signature.Record   `json:"signature"`
	Similar   []signature.Record `json:"similar,omitempty"`
}

// Service is the management boundary over the signature store.
type Service struct {
	store  signature.Store
	logger log.Logger
	now    func() time.Time
}

// NewService creates a management service. now defaults to time.Now
// when nil.
func NewService(store signature.Store, logger log.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, logger: logger, now: now}
}

// Mute suppresses investigation of a signature. The optional reason is
// recorded on it.
func (s *Service) Mute(ctx context.Context, id, reason string) (*signature.Signature, error) {
	return s.mutate(ctx, id, "mute", func(sig *signature.Signature) error {
		return sig.Mute(reason, s.now())
	})
}

// Resolve marks a signature's underlying issue fixed. The optional fix
// note is recorded on it.
func (s *Service) Resolve(ctx context.Context, id, fixNote string) (*signature.Signature, error) {
	return s.mutate(ctx, id, "resolve", func(sig *signature.Signature) error {
		return sig.Resolve(fixNote, s.now())
	})
}

// Retriage sends a signature back to new, clearing its diagnosis so the
// next investigation starts fresh.
func (s *Service) Retriage(ctx context.Context, id string) (*signature.Signature, error) {
	return s.mutate(ctx, id, "retriage", func(sig *signature.Signature) error {
		return sig.Retriage(s.now())
	})
}

// GetDetails returns a signature and up to five similar ones.
func (s *Service) GetDetails(ctx context.Context, id string) (*Details, error) {
	sig, ok, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get details %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("get details %s: %w", id, signature.ErrNotFound)
	}

	similar, err := s.store.GetSimilar(ctx, sig, similarLimit)
	if err != nil {
		return nil, fmt.Errorf("get details %s: similar: %w", id, err)
	}

	d := &Details{Signature: sig.Snapshot()}
	for _, sim := range similar {
		if sim.ID() == sig.ID() {
			continue
		}
		d.Similar = append(d.Similar, sim.Snapshot())
	}
	return d, nil
}

// Stats returns the store-wide signature summary.
func (s *Service) Stats(ctx context.Context) (signature.StoreStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return signature.StoreStats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

// mutate loads, transitions, and persists one signature. The op name
// tags every error so a failure reads as "mute abc123: ...".
func (s *Service) mutate(ctx context.Context, id, op string, apply func(*signature.Signature) error) (*signature.Signature, error) {
	sig, ok, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", op, id, signature.ErrNotFound)
	}

	if err := apply(sig); err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, id, err)
	}

	if err := s.store.Update(ctx, sig); err != nil {
		return nil, fmt.Errorf("%s %s: persist: %w", op, id, err)
	}

	s.logger.Info(ctx, "signature "+op+"d",
		"signature_id", sig.ID(),
		"status", string(sig.Status()),
	)
	return sig, nil
}
