package signature

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestSignature(t *testing.T) *Signature {
	t.Helper()
	sig, err := New("01ABC", "fp123", "TimeoutError", "pay", "conn to <*> failed", "sh456", t0)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return sig
}

func testDiagnosis(t *testing.T) *Diagnosis {
	t.Helper()
	d, err := NewDiagnosis("pool exhausted", []string{"30 timeouts in 5m"}, "raise pool size", ConfidenceHigh, "claude:test", 0.02, t0)
	if err != nil {
		t.Fatalf("NewDiagnosis() = %v", err)
	}
	return d
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      string
		fp      string
		errType string
		service string
		wantErr bool
	}{
		{"valid", "01A", "fp", "E", "svc", false},
		{"empty id", "", "fp", "E", "svc", true},
		{"empty fingerprint", "01A", "", "E", "svc", true},
		{"empty error type", "01A", "fp", "", "svc", true},
		{"empty service", "01A", "fp", "E", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sig, err := New(tt.id, tt.fp, tt.errType, tt.service, "", "", t0)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if sig.Status() != StatusNew {
				t.Errorf("Status() = %s, want %s", sig.Status(), StatusNew)
			}
			if sig.OccurrenceCount() != 1 {
				t.Errorf("OccurrenceCount() = %d, want 1", sig.OccurrenceCount())
			}
			if !sig.FirstSeen().Equal(sig.LastSeen()) {
				t.Error("first seen != last seen on a fresh signature")
			}
		})
	}
}

func TestCanTransition_Table(t *testing.T) {
	t.Parallel()

	all := []Status{StatusNew, StatusInvestigating, StatusDiagnosed, StatusResolved, StatusMuted}
	allowed := map[Status]map[Status]bool{
		StatusNew:           {StatusInvestigating: true},
		StatusInvestigating: {StatusDiagnosed: true, StatusNew: true},
		StatusDiagnosed:     {StatusResolved: true, StatusMuted: true, StatusNew: true},
		StatusResolved:      {StatusNew: true},
		StatusMuted:         {StatusNew: true},
	}

	for _, from := range all {
		for _, to := range all {
			if got, want := CanTransition(from, to), allowed[from][to]; got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestRecordOccurrence(t *testing.T) {
	t.Parallel()

	sig := newTestSignature(t)

	if err := sig.RecordOccurrence(t0.Add(time.Minute)); err != nil {
		t.Fatalf("RecordOccurrence() = %v", err)
	}
	if sig.OccurrenceCount() != 2 {
		t.Errorf("OccurrenceCount() = %d, want 2", sig.OccurrenceCount())
	}
	if !sig.LastSeen().Equal(t0.Add(time.Minute)) {
		t.Errorf("LastSeen() = %v, want %v", sig.LastSeen(), t0.Add(time.Minute))
	}

	// same timestamp is allowed, watermark just holds
	if err := sig.RecordOccurrence(t0.Add(time.Minute)); err != nil {
		t.Errorf("RecordOccurrence(same ts) = %v, want nil", err)
	}

	// earlier timestamp is rejected and nothing changes
	err := sig.RecordOccurrence(t0.Add(-time.Hour))
	if err == nil {
		t.Fatal("RecordOccurrence(earlier) = nil, want error")
	}
	if sig.OccurrenceCount() != 3 {
		t.Errorf("OccurrenceCount() after rejection = %d, want 3", sig.OccurrenceCount())
	}
	if !sig.LastSeen().Equal(t0.Add(time.Minute)) {
		t.Error("LastSeen() moved backwards after rejected occurrence")
	}
}

func TestLifecycle_HappyPath(t *testing.T) {
	t.Parallel()

	sig := newTestSignature(t)

	if err := sig.BeginInvestigation(t0.Add(time.Minute)); err != nil {
		t.Fatalf("BeginInvestigation() = %v", err)
	}
	if sig.Status() != StatusInvestigating {
		t.Fatalf("Status() = %s, want %s", sig.Status(), StatusInvestigating)
	}

	d := testDiagnosis(t)
	if err := sig.AttachDiagnosis(d, t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("AttachDiagnosis() = %v", err)
	}
	if sig.Status() != StatusDiagnosed {
		t.Fatalf("Status() = %s, want %s", sig.Status(), StatusDiagnosed)
	}
	if sig.Diagnosis() == nil {
		t.Fatal("Diagnosis() = nil after attach")
	}
	if sig.LastAttempt().IsZero() {
		t.Error("LastAttempt() still zero after attach")
	}

	if err := sig.Resolve("fixed pool size", t0.Add(time.Hour)); err != nil {
		t.Fatalf("Resolve() = %v", err)
	}
	if sig.Status() != StatusResolved {
		t.Errorf("Status() = %s, want %s", sig.Status(), StatusResolved)
	}
	if sig.Diagnosis() == nil {
		t.Error("Resolve() dropped the diagnosis")
	}
	if sig.Note() != "fixed pool size" {
		t.Errorf("Note() = %q, want %q", sig.Note(), "fixed pool size")
	}
}

func TestAttachDiagnosis_OnlyFromInvestigating(t *testing.T) {
	t.Parallel()

	sig := newTestSignature(t)
	err := sig.AttachDiagnosis(testDiagnosis(t), t0)
	if !IsInvalidTransition(err) {
		t.Fatalf("AttachDiagnosis() from new = %v, want invalid transition", err)
	}
	if sig.Diagnosis() != nil {
		t.Error("diagnosis attached despite rejected transition")
	}
}

func TestAttachDiagnosis_NilRejected(t *testing.T) {
	t.Parallel()

	sig := newTestSignature(t)
	if err := sig.BeginInvestigation(t0); err != nil {
		t.Fatalf("BeginInvestigation() = %v", err)
	}
	if err := sig.AttachDiagnosis(nil, t0); err == nil {
		t.Fatal("AttachDiagnosis(nil) = nil, want error")
	}
	if sig.Status() != StatusInvestigating {
		t.Errorf("Status() = %s, want %s", sig.Status(), StatusInvestigating)
	}
}

func TestRevertToNew(t *testing.T) {
	t.Parallel()

	sig := newTestSignature(t)
	if err := sig.BeginInvestigation(t0); err != nil {
		t.Fatalf("BeginInvestigation() = %v", err)
	}
	if err := sig.RevertToNew(t0.Add(time.Minute)); err != nil {
		t.Fatalf("RevertToNew() = %v", err)
	}
	if sig.Status() != StatusNew {
		t.Errorf("Status() = %s, want %s", sig.Status(), StatusNew)
	}
	if sig.LastAttempt().IsZero() {
		t.Error("LastAttempt() not recorded by failed attempt")
	}

	// only legal from investigating
	if err := sig.RevertToNew(t0); !IsInvalidTransition(err) {
		t.Errorf("RevertToNew() from new = %v, want invalid transition", err)
	}
}

func TestRetriage(t *testing.T) {
	t.Parallel()

	sig := newTestSignature(t)
	mustTransitionToDiagnosed(t, sig)

	if err := sig.Mute("known issue", t0.Add(time.Minute)); err != nil {
		t.Fatalf("Mute() = %v", err)
	}
	if sig.Diagnosis() == nil {
		t.Fatal("Mute() dropped the diagnosis")
	}

	if err := sig.Retriage(t0.Add(2 * time.Minute)); err != nil {
		t.Fatalf("Retriage() = %v", err)
	}
	if sig.Status() != StatusNew {
		t.Errorf("Status() = %s, want %s", sig.Status(), StatusNew)
	}
	if sig.Diagnosis() != nil {
		t.Error("Retriage() kept the diagnosis, want cleared")
	}
	if sig.Note() != "" {
		t.Errorf("Note() = %q after retriage, want empty", sig.Note())
	}
}

func TestRetriage_RejectedWhileInvestigating(t *testing.T) {
	t.Parallel()

	sig := newTestSignature(t)
	if err := sig.BeginInvestigation(t0); err != nil {
		t.Fatalf("BeginInvestigation() = %v", err)
	}
	if err := sig.Retriage(t0); !IsInvalidTransition(err) {
		t.Errorf("Retriage() while investigating = %v, want invalid transition", err)
	}
}

func TestBeginInvestigation_SecondAttemptFails(t *testing.T) {
	t.Parallel()

	sig := newTestSignature(t)
	if err := sig.BeginInvestigation(t0); err != nil {
		t.Fatalf("first BeginInvestigation() = %v", err)
	}
	err := sig.BeginInvestigation(t0)
	if !IsInvalidTransition(err) {
		t.Fatalf("second BeginInvestigation() = %v, want invalid transition", err)
	}

	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatal("error is not *InvalidTransitionError")
	}
	if ite.From != StatusInvestigating || ite.To != StatusInvestigating {
		t.Errorf("transition = %s -> %s, want investigating -> investigating", ite.From, ite.To)
	}
}

func TestDiagnosis_ReturnsCopy(t *testing.T) {
	t.Parallel()

	sig := newTestSignature(t)
	mustTransitionToDiagnosed(t, sig)

	d := sig.Diagnosis()
	d.RootCause = "mutated"
	d.Evidence[0] = "mutated"

	fresh := sig.Diagnosis()
	if fresh.RootCause != "pool exhausted" {
		t.Errorf("RootCause = %q, want %q", fresh.RootCause, "pool exhausted")
	}
	if fresh.Evidence[0] != "30 timeouts in 5m" {
		t.Errorf("Evidence[0] = %q, want original", fresh.Evidence[0])
	}
}

func TestTags(t *testing.T) {
	t.Parallel()

	sig := newTestSignature(t)
	if err := sig.AddTag(TagCritical); err != nil {
		t.Fatalf("AddTag() = %v", err)
	}
	if err := sig.AddTag(TagCritical); err != nil {
		t.Fatalf("AddTag(duplicate) = %v", err)
	}
	if err := sig.AddTag(""); err == nil {
		t.Error("AddTag(\"\") = nil, want error")
	}

	if !sig.HasTag(TagCritical) {
		t.Error("HasTag(critical) = false")
	}
	if got := sig.Tags(); len(got) != 1 || got[0] != TagCritical {
		t.Errorf("Tags() = %v, want [critical]", got)
	}
}

func mustTransitionToDiagnosed(t *testing.T, sig *Signature) {
	t.Helper()
	if err := sig.BeginInvestigation(t0); err != nil {
		t.Fatalf("BeginInvestigation() = %v", err)
	}
	if err := sig.AttachDiagnosis(testDiagnosis(t), t0); err != nil {
		t.Fatalf("AttachDiagnosis() = %v", err)
	}
}
