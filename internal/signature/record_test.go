package signature

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSnapshotRehydrate_RoundTrip(t *testing.T) {
	t.Parallel()

	sig := newTestSignature(t)
	if err := sig.RecordOccurrence(t0.Add(time.Minute)); err != nil {
		t.Fatalf("RecordOccurrence() = %v", err)
	}
	if err := sig.AddTag(TagCritical); err != nil {
		t.Fatalf("AddTag() = %v", err)
	}
	mustTransitionToDiagnosed(t, sig)

	rec := sig.Snapshot()
	SetVersionForStore(sig, 3)
	rec.Version = 3

	back, err := Rehydrate(rec)
	if err != nil {
		t.Fatalf("Rehydrate() = %v", err)
	}

	if diff := cmp.Diff(rec, back.Snapshot()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if back.Version() != 3 {
		t.Errorf("Version() = %d, want 3", back.Version())
	}
}

func TestSnapshot_Isolated(t *testing.T) {
	t.Parallel()

	sig := newTestSignature(t)
	mustTransitionToDiagnosed(t, sig)

	rec := sig.Snapshot()
	rec.Diagnosis.RootCause = "mutated"
	rec.Tags = append(rec.Tags, "extra")

	if sig.Diagnosis().RootCause != "pool exhausted" {
		t.Error("mutating the record reached the signature's diagnosis")
	}
	if sig.HasTag("extra") {
		t.Error("mutating the record reached the signature's tag set")
	}
}

func TestRehydrate_RejectsCorruptRecords(t *testing.T) {
	t.Parallel()

	valid := func() Record {
		return Record{
			ID: "01A", Fingerprint: "fp", ErrorType: "E", Service: "svc",
			FirstSeen: t0, LastSeen: t0.Add(time.Minute),
			OccurrenceCount: 2, Status: string(StatusNew), StatusChangedAt: t0,
		}
	}

	diag := &Diagnosis{RootCause: "x", Evidence: []string{"e"}, Confidence: ConfidenceLow, Engine: "test", CreatedAt: t0}

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"unknown status", func(r *Record) { r.Status = "weird" }},
		{"missing id", func(r *Record) { r.ID = "" }},
		{"missing fingerprint", func(r *Record) { r.Fingerprint = "" }},
		{"missing error type", func(r *Record) { r.ErrorType = "" }},
		{"missing service", func(r *Record) { r.Service = "" }},
		{"zero occurrences", func(r *Record) { r.OccurrenceCount = 0 }},
		{"last seen before first seen", func(r *Record) { r.LastSeen = t0.Add(-time.Hour) }},
		{"diagnosis on new", func(r *Record) { r.Diagnosis = diag }},
		{"diagnosis on investigating", func(r *Record) {
			r.Status = string(StatusInvestigating)
			r.Diagnosis = diag
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := valid()
			tt.mutate(&rec)
			if _, err := Rehydrate(rec); err == nil {
				t.Error("Rehydrate() = nil, want error")
			}
		})
	}
}

func TestRehydrate_DiagnosisAllowedOnTerminalStatuses(t *testing.T) {
	t.Parallel()

	for _, status := range []Status{StatusDiagnosed, StatusResolved, StatusMuted} {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()
			rec := Record{
				ID: "01A", Fingerprint: "fp", ErrorType: "E", Service: "svc",
				FirstSeen: t0, LastSeen: t0, OccurrenceCount: 1,
				Status: string(status), StatusChangedAt: t0,
				Diagnosis: &Diagnosis{RootCause: "x", Evidence: []string{"e"}, Confidence: ConfidenceLow, Engine: "test", CreatedAt: t0},
			}
			if _, err := Rehydrate(rec); err != nil {
				t.Errorf("Rehydrate() = %v, want nil", err)
			}
		})
	}
}
