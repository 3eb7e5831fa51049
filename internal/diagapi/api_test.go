package diagapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/sleuth/internal/manage"
	"github.com/linnemanlabs/sleuth/internal/signature"
	"github.com/linnemanlabs/sleuth/internal/signature/memstore"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*httptest.Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	svc := manage.NewService(store, nil, func() time.Time { return t0.Add(time.Hour) })

	r := chi.NewRouter()
	New(nil, svc).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func saveSig(t *testing.T, store *memstore.Store, id string, diagnosed bool) {
	t.Helper()
	sig, err := signature.New(id, "fp-"+id, "TimeoutError", "pay", "conn to <*>", "sh-"+id, t0)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if diagnosed {
		if err := sig.BeginInvestigation(t0.Add(time.Minute)); err != nil {
			t.Fatalf("BeginInvestigation() = %v", err)
		}
		diag, err := signature.NewDiagnosis("pool exhausted", []string{"timeouts"}, "raise pool", signature.ConfidenceHigh, "test", 0.01, t0.Add(2*time.Minute))
		if err != nil {
			t.Fatalf("NewDiagnosis() = %v", err)
		}
		if err := sig.AttachDiagnosis(diag, t0.Add(2*time.Minute)); err != nil {
			t.Fatalf("AttachDiagnosis() = %v", err)
		}
	}
	if err := store.Save(context.Background(), sig); err != nil {
		t.Fatalf("Save() = %v", err)
	}
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, out
}

func TestGetSignature(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	saveSig(t, store, "01SIG", true)
	saveSig(t, store, "01SIM", false)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/signatures/01SIG", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var details manage.Details
	if err := json.Unmarshal(body, &details); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if details.Signature.ID != "01SIG" {
		t.Errorf("ID = %s, want 01SIG", details.Signature.ID)
	}
	if details.Signature.Status != string(signature.StatusDiagnosed) {
		t.Errorf("Status = %s, want diagnosed", details.Signature.Status)
	}
	if details.Signature.Diagnosis == nil {
		t.Error("response missing diagnosis")
	}
	if len(details.Similar) != 1 || details.Similar[0].ID != "01SIM" {
		t.Errorf("Similar = %+v, want 01SIM", details.Similar)
	}
}

func TestGetSignature_NotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/signatures/01NOPE", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMuteEndpoint(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	saveSig(t, store, "01SIG", true)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/signatures/01SIG/mute", `{"reason":"noisy dependency"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var rec signature.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Status != string(signature.StatusMuted) {
		t.Errorf("Status = %s, want muted", rec.Status)
	}
	if rec.Note != "noisy dependency" {
		t.Errorf("Note = %q, want the reason", rec.Note)
	}
}

func TestMuteEndpoint_InvalidTransition(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	saveSig(t, store, "01SIG", false)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/signatures/01SIG/mute", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body = %s", resp.StatusCode, body)
	}

	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] == "" {
		t.Error("conflict body missing the error field")
	}
}

func TestMuteEndpoint_MalformedBody(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	saveSig(t, store, "01SIG", true)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/signatures/01SIG/mute", `{"reason": not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestResolveEndpoint(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	saveSig(t, store, "01SIG", true)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/signatures/01SIG/resolve", `{"fix_note":"raised pool size"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var rec signature.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Status != string(signature.StatusResolved) || rec.Note != "raised pool size" {
		t.Errorf("record = %s/%q, want resolved with the fix note", rec.Status, rec.Note)
	}
}

func TestRetriageEndpoint(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	saveSig(t, store, "01SIG", true)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/signatures/01SIG/retriage", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var rec signature.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Status != string(signature.StatusNew) {
		t.Errorf("Status = %s, want new", rec.Status)
	}
	if rec.Diagnosis != nil {
		t.Error("retriage response kept the diagnosis")
	}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer(t)
	saveSig(t, store, "01AAA", false)
	saveSig(t, store, "01BBB", true)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var stats signature.StoreStats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 2 || stats.Diagnosed != 1 {
		t.Errorf("stats = %+v, want 2 total, 1 diagnosed", stats)
	}
}
