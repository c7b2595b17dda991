package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CallerHeader names the address a trusted client acts as.
const CallerHeader = "X-Caller-Address"

type ctxKey int

const authenticatedKey ctxKey = iota

// Auth checks the API key in "Authorization: Bearer" or X-API-Key. An empty
// apiKey disables the check. Requests that pass are marked authenticated so
// CallerFrom will honour their caller header.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey != "" {
				token := extractToken(r)
				if token == "" {
					writeJSONError(w, http.StatusUnauthorized, "missing authentication token")
					return
				}
				if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
					writeJSONError(w, http.StatusUnauthorized, "invalid authentication token")
					return
				}
			}
			ctx := context.WithValue(r.Context(), authenticatedKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFrom returns the address in the caller header of an authenticated
// request.
func CallerFrom(r *http.Request) (common.Address, bool) {
	if ok, _ := r.Context().Value(authenticatedKey).(bool); !ok {
		return common.Address{}, false
	}
	v := strings.TrimSpace(r.Header.Get(CallerHeader))
	if !common.IsHexAddress(v) {
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
