package httpserver

import (
	"net/http"

	apierrors "github.com/x402fac/facilitator/internal/errors"
)

// adminMetricsAuth protects /metrics with a bearer API key. An empty
// apiKey disables the check (operator opted out of protection).
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if r.Header.Get("Authorization") != "Bearer "+apiKey {
				apierrors.WriteHTTP(w, apierrors.InvalidPayload, "invalid or missing admin api key", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
