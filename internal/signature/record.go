package signature

import (
	"fmt"
	"time"
)

// Record is the flat, marshal-friendly shape of a Signature used at
// storage and API boundaries. Mutating a Record never touches the
// Signature it came from; Rehydrate re-validates everything on the way
// back in.
type Record struct {
	ID              string     `json:"id"`
	Fingerprint     string     `json:"fingerprint"`
	ErrorType       string     `json:"error_type"`
	Service         string     `json:"service"`
	MessagePattern  string     `json:"message_pattern"`
	StackHash       string     `json:"stack_hash"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastSeen        time.Time  `json:"last_seen"`
	OccurrenceCount int        `json:"occurrence_count"`
	Status          string     `json:"status"`
	Diagnosis       *Diagnosis `json:"diagnosis,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Note            string     `json:"note,omitempty"`
	StatusChangedAt time.Time  `json:"status_changed_at"`
	LastAttempt     time.Time  `json:"last_attempt,omitempty"`
	Version         int        `json:"-"`
}

// Snapshot flattens the signature into a Record. The diagnosis and tag
// slice are copies.
func (s *Signature) Snapshot() Record {
	return Record{
		ID:              s.id,
		Fingerprint:     s.fingerprint,
		ErrorType:       s.errorType,
		Service:         s.service,
		MessagePattern:  s.messagePattern,
		StackHash:       s.stackHash,
		FirstSeen:       s.firstSeen,
		LastSeen:        s.lastSeen,
		OccurrenceCount: s.occurrenceCount,
		Status:          string(s.status),
		Diagnosis:       s.Diagnosis(),
		Tags:            s.Tags(),
		Note:            s.note,
		StatusChangedAt: s.statusChangedAt,
		LastAttempt:     s.lastAttempt,
		Version:         s.version,
	}
}

// Rehydrate rebuilds a Signature from a stored Record, enforcing the
// same invariants the named operations maintain. A record that violates
// them is corrupt and is reported, not repaired.
func Rehydrate(rec Record) (*Signature, error) {
	status, err := ParseStatus(rec.Status)
	if err != nil {
		return nil, fmt.Errorf("rehydrate signature %s: %w", rec.ID, err)
	}
	switch {
	case rec.ID == "" || rec.Fingerprint == "" || rec.ErrorType == "" || rec.Service == "":
		return nil, fmt.Errorf("rehydrate signature %q: missing identity fields", rec.ID)
	case rec.OccurrenceCount < 1:
		return nil, fmt.Errorf("rehydrate signature %s: occurrence count %d < 1", rec.ID, rec.OccurrenceCount)
	case rec.LastSeen.Before(rec.FirstSeen):
		return nil, fmt.Errorf("rehydrate signature %s: last seen before first seen", rec.ID)
	}
	if rec.Diagnosis != nil {
		switch status {
		case StatusDiagnosed, StatusResolved, StatusMuted:
		default:
			return nil, fmt.Errorf("rehydrate signature %s: diagnosis present with status %s", rec.ID, status)
		}
	}

	s := &Signature{
		id:              rec.ID,
		fingerprint:     rec.Fingerprint,
		errorType:       rec.ErrorType,
		service:         rec.Service,
		messagePattern:  rec.MessagePattern,
		stackHash:       rec.StackHash,
		firstSeen:       rec.FirstSeen,
		lastSeen:        rec.LastSeen,
		occurrenceCount: rec.OccurrenceCount,
		status:          status,
		note:            rec.Note,
		statusChangedAt: rec.StatusChangedAt,
		lastAttempt:     rec.LastAttempt,
		version:         rec.Version,
		tags:            make(map[string]struct{}, len(rec.Tags)),
	}
	if rec.Diagnosis != nil {
		d := *rec.Diagnosis
		d.Evidence = append([]string(nil), rec.Diagnosis.Evidence...)
		s.diagnosis = &d
	}
	for _, t := range rec.Tags {
		if t != "" {
			s.tags[t] = struct{}{}
		}
	}
	return s, nil
}
