// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const scheme = "Bearer "

// BearerToken returns middleware that requires the Authorization header
// to carry a Bearer token matching the expected value. Comparison uses
// constant-time equality to prevent timing side-channel attacks.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := extractToken(r)
			if !ok {
				unauthorized(w, `{"error":"missing or malformed authorization header"}`)
				return
			}

			if subtle.ConstantTimeCompare(got, expected) != 1 {
				unauthorized(w, `{"error":"invalid token"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractToken(r *http.Request) ([]byte, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, scheme) {
		return nil, false
	}
	return []byte(auth[len(scheme):]), true
}

func unauthorized(w http.ResponseWriter, body string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, body, http.StatusUnauthorized)
}
