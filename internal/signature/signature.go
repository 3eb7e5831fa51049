package signature

import (
	"fmt"
	"sort"
	"time"
)

// Well-known tags the triage engine gives special weight.
const (
	TagCritical  = "critical"
	TagFlakyTest = "flaky-test"
)

// Signature is the deduplicated identity of a recurring failure class.
// Fields are unexported; every mutation path is a named operation that
// checks its own preconditions, so the invariants (last seen >= first
// seen, occurrence count >= 1, diagnosis only ever attached through a
// validated transition) hold after every mutation, not just at
// construction.
type Signature struct {
	id              string
	fingerprint     string
	errorType       string
	service         string
	messagePattern  string
	stackHash       string
	firstSeen       time.Time
	lastSeen        time.Time
	occurrenceCount int
	status          Status
	diagnosis       *Diagnosis
	tags            map[string]struct{}
	note            string
	statusChangedAt time.Time
	lastAttempt     time.Time
	version         int
}

// New creates a signature from its first sighting. Status starts at
// StatusNew with occurrence count 1 and first seen == last seen.
func New(id, fp, errorType, service, messagePattern, stackHash string, seenAt time.Time) (*Signature, error) {
	switch {
	case id == "":
		return nil, fmt.Errorf("signature: empty id")
	case fp == "":
		return nil, fmt.Errorf("signature: empty fingerprint")
	case errorType == "":
		return nil, fmt.Errorf("signature: empty error type")
	case service == "":
		return nil, fmt.Errorf("signature: empty service")
	}
	return &Signature{
		id:              id,
		fingerprint:     fp,
		errorType:       errorType,
		service:         service,
		messagePattern:  messagePattern,
		stackHash:       stackHash,
		firstSeen:       seenAt,
		lastSeen:        seenAt,
		occurrenceCount: 1,
		status:          StatusNew,
		statusChangedAt: seenAt,
		tags:            make(map[string]struct{}),
	}, nil
}

func (s *Signature) ID() string             { return s.id }
func (s *Signature) Fingerprint() string    { return s.fingerprint }
func (s *Signature) ErrorType() string      { return s.errorType }
func (s *Signature) Service() string        { return s.service }
func (s *Signature) MessagePattern() string { return s.messagePattern }
func (s *Signature) StackHash() string      { return s.stackHash }
func (s *Signature) FirstSeen() time.Time   { return s.firstSeen }
func (s *Signature) LastSeen() time.Time    { return s.lastSeen }
func (s *Signature) OccurrenceCount() int   { return s.occurrenceCount }
func (s *Signature) Status() Status         { return s.status }
func (s *Signature) Note() string           { return s.note }

// StatusChangedAt is the time of the last lifecycle transition. For a
// muted signature this is when the mute began.
func (s *Signature) StatusChangedAt() time.Time { return s.statusChangedAt }

// LastAttempt is when the most recent investigation concluded, whether
// it produced a diagnosis or failed. Zero if never investigated.
func (s *Signature) LastAttempt() time.Time { return s.lastAttempt }

// Version is the optimistic-concurrency token maintained by stores.
func (s *Signature) Version() int { return s.version }

// Diagnosis returns a copy of the attached diagnosis, or nil.
func (s *Signature) Diagnosis() *Diagnosis {
	if s.diagnosis == nil {
		return nil
	}
	cp := *s.diagnosis
	cp.Evidence = append([]string(nil), s.diagnosis.Evidence...)
	return &cp
}

// HasTag reports whether the signature carries the given tag.
func (s *Signature) HasTag(tag string) bool {
	_, ok := s.tags[tag]
	return ok
}

// Tags returns the tag set, sorted.
func (s *Signature) Tags() []string {
	out := make([]string, 0, len(s.tags))
	for t := range s.tags {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// AddTag adds a tag to the set. Empty tags are rejected.
func (s *Signature) AddTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("signature %s: empty tag", s.id)
	}
	s.tags[tag] = struct{}{}
	return nil
}

// RecordOccurrence counts one more sighting and advances last seen.
// Timestamps earlier than the current last seen are rejected so the
// last seen watermark never moves backwards.
func (s *Signature) RecordOccurrence(ts time.Time) error {
	if ts.Before(s.lastSeen) {
		return fmt.Errorf("signature %s: occurrence at %s is before last seen %s",
			s.id, ts.Format(time.RFC3339), s.lastSeen.Format(time.RFC3339))
	}
	s.occurrenceCount++
	s.lastSeen = ts
	return nil
}

// BeginInvestigation moves the signature into StatusInvestigating.
// Only legal from StatusNew; a concurrent second attempt fails here.
func (s *Signature) BeginInvestigation(now time.Time) error {
	return s.transition(StatusInvestigating, now)
}

// AttachDiagnosis atomically moves to StatusDiagnosed and sets the
// diagnosis. Only legal from StatusInvestigating; there is no other
// path that yields a non-nil diagnosis.
func (s *Signature) AttachDiagnosis(d *Diagnosis, now time.Time) error {
	if d == nil {
		return fmt.Errorf("signature %s: nil diagnosis", s.id)
	}
	if err := s.transition(StatusDiagnosed, now); err != nil {
		return err
	}
	s.diagnosis = d
	s.lastAttempt = now
	return nil
}

// RevertToNew is the best-effort rollback after a failed diagnosis.
// Only legal from StatusInvestigating.
func (s *Signature) RevertToNew(now time.Time) error {
	if s.status != StatusInvestigating {
		return &InvalidTransitionError{From: s.status, To: StatusNew}
	}
	if err := s.transition(StatusNew, now); err != nil {
		return err
	}
	s.lastAttempt = now
	return nil
}

// Resolve marks the underlying issue fixed. The diagnosis is preserved.
func (s *Signature) Resolve(fixNote string, now time.Time) error {
	if err := s.transition(StatusResolved, now); err != nil {
		return err
	}
	if fixNote != "" {
		s.note = fixNote
	}
	return nil
}

// Mute suppresses investigation. The diagnosis is preserved.
func (s *Signature) Mute(reason string, now time.Time) error {
	if err := s.transition(StatusMuted, now); err != nil {
		return err
	}
	if reason != "" {
		s.note = reason
	}
	return nil
}

// Retriage sends a diagnosed, resolved, or muted signature back to
// StatusNew and clears the diagnosis so the next investigation starts
// from scratch.
func (s *Signature) Retriage(now time.Time) error {
	if s.status == StatusInvestigating {
		// an in-flight investigation must finish or revert first
		return &InvalidTransitionError{From: s.status, To: StatusNew}
	}
	if err := s.transition(StatusNew, now); err != nil {
		return err
	}
	s.diagnosis = nil
	s.note = ""
	return nil
}

func (s *Signature) transition(to Status, now time.Time) error {
	if !CanTransition(s.status, to) {
		return &InvalidTransitionError{From: s.status, To: to}
	}
	s.status = to
	s.statusChangedAt = now
	return nil
}
