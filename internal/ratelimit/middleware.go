// Package ratelimit provides HTTP-level request throttling for the
// facilitator's public endpoints, plus a standalone per-payer limiter
// used by the NEAR provider to bound storage-deposit spend (see
// PayerLimiter in payer_limiter.go).
package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/x402fac/facilitator/internal/apikey"
	"github.com/x402fac/facilitator/internal/metrics"
)

// Config holds HTTP rate limiting configuration.
type Config struct {
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	PerPayerEnabled bool
	PerPayerLimit   int
	PerPayerWindow  time.Duration

	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	Metrics *metrics.Metrics
}

type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

// DefaultConfig returns generous limits meant to stop obvious abuse of
// /verify and /settle without restricting legitimate integrations.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  time.Minute,

		PerPayerEnabled: true,
		PerPayerLimit:   60,
		PerPayerWindow:  time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   120,
		PerIPWindow:  time.Minute,
	}
}

func createRateLimitHandler(limitType string, windowSeconds int, extractIdentifier func(*http.Request) string, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := "all"
		if extractIdentifier != nil {
			if id := extractIdentifier(r); id != "" {
				identifier = id
			}
		}

		if m != nil {
			m.ObserveRateLimit(limitType, identifier)
		}

		var message string
		switch limitType {
		case "global":
			message = "Global rate limit exceeded. Please try again later."
		case "per_payer":
			message = "Per-payer rate limit exceeded. Please try again later."
		case "per_ip":
			message = "IP rate limit exceeded. Please try again later."
		default:
			message = "Rate limit exceeded. Please try again later."
		}

		response := rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: windowSeconds,
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(response)
	}
}

// GlobalLimiter throttles all traffic regardless of caller.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(createRateLimitHandler("global", int(cfg.GlobalWindow.Seconds()), nil, cfg.Metrics)),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.ShouldBypassGlobalLimit(r) {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

// PayerLimiter throttles /verify and /settle per payer address, extracted
// from the X-Payer header a well-behaved client sets so the facilitator
// doesn't have to decode the payment payload just to rate-limit.
func PayerLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerPayerEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := httprate.Limit(
		cfg.PerPayerLimit,
		cfg.PerPayerWindow,
		httprate.WithKeyFuncs(payerKeyExtractor),
		httprate.WithLimitHandler(createRateLimitHandler("per_payer", int(cfg.PerPayerWindow.Seconds()), extractPayerFromRequest, cfg.Metrics)),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.IsExemptFromRateLimits(r) {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

// IPLimiter throttles by remote address, the fallback for requests with
// no identifiable payer.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(createRateLimitHandler("per_ip", int(cfg.PerIPWindow.Seconds()), func(r *http.Request) string { return r.RemoteAddr }, cfg.Metrics)),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.IsExemptFromRateLimits(r) {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

func payerKeyExtractor(r *http.Request) (string, error) {
	payer := extractPayerFromRequest(r)
	if payer == "" {
		return httprate.KeyByIP(r)
	}
	return "payer:" + payer, nil
}

func extractPayerFromRequest(r *http.Request) string {
	if payer := r.Header.Get("X-Payer"); payer != "" {
		return payer
	}
	return ""
}
