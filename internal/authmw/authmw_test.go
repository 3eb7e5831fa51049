package authmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serve(t *testing.T, token, authHeader string) *httptest.ResponseRecorder {
	t.Helper()

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	h := BearerToken(token)(inner)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/signatures/01SIG/mute", http.NoBody)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		token      string
		header     string
		wantStatus int
	}{
		{"valid token", "s3cr3t", "Bearer s3cr3t", http.StatusOK},
		{"missing header", "s3cr3t", "", http.StatusUnauthorized},
		{"wrong token", "s3cr3t", "Bearer nope", http.StatusUnauthorized},
		{"prefix of token", "s3cr3t", "Bearer s3cr", http.StatusUnauthorized},
		{"token with suffix", "s3cr3t", "Bearer s3cr3t-x", http.StatusUnauthorized},
		{"empty bearer", "s3cr3t", "Bearer ", http.StatusUnauthorized},
		{"lowercase scheme", "s3cr3t", "bearer s3cr3t", http.StatusUnauthorized},
		{"basic auth", "s3cr3t", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := serve(t, tt.token, tt.header)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				return
			}
			if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
				t.Errorf("WWW-Authenticate = %q, want %q", got, "Bearer")
			}
			if body := rec.Body.String(); !strings.Contains(body, `"error"`) {
				t.Errorf("body %q lacks error field", body)
			}
		})
	}
}

func TestBearerToken_RejectsBeforeHandler(t *testing.T) {
	t.Parallel()

	var called bool
	inner := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
	h := BearerToken("tok")(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", http.NoBody)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Error("inner handler ran on rejected request")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
