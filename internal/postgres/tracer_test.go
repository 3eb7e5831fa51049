package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/sleuth/internal/signature/pgstore.(*Store).Update", "(*Store).Update"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pgstore.(*Store).Get", "(*Store).Get"},
		{"single segment", "foo.Bar", "Bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := shortenFuncName(tt.in)
			if got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestQueryOrigin_RoutePattern(t *testing.T) {
	t.Parallel()

	rc := chi.NewRouteContext()
	rc.RoutePatterns = []string{"/api/v1/signatures/{id}"}
	ctx := context.WithValue(context.Background(), chi.RouteCtxKey, rc)

	got := queryOrigin(ctx)
	if got != "/api/v1/signatures/{id}" {
		t.Errorf("queryOrigin = %q, want route pattern", got)
	}
}

func TestQueryOrigin_Background(t *testing.T) {
	t.Parallel()

	got := queryOrigin(context.Background())
	if !strings.HasPrefix(got, originBackground) {
		t.Errorf("queryOrigin = %q, want %q prefix", got, originBackground)
	}
}

func TestSetQueryObserver(t *testing.T) {
	// Save and restore the global to avoid test pollution.
	defer SetQueryObserver(nil)

	called := false
	obs := QueryObserverFunc(func(_ context.Context, _, _, _ string, _ time.Duration) {
		called = true
	})

	SetQueryObserver(obs)
	got := getQueryObserver()
	if got == nil {
		t.Fatal("expected non-nil observer after Set")
	}
	got.ObserveQuery(context.Background(), "SELECT", "background", "ok", time.Millisecond)
	if !called {
		t.Error("observer was not called")
	}

	SetQueryObserver(nil)
	got = getQueryObserver()
	if got != nil {
		t.Errorf("expected nil observer after Set(nil), got %v", got)
	}
}
