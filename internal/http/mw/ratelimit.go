package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitByIP returns a middleware that rate limits by IP address.
// Used on the management API as a blanket per-client limit; per-webhook
// ingest limits are enforced separately by the security evaluator.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitGlobal returns a middleware that applies a global rate limit
// to prevent overall system overload. Uses a sliding window.
func RateLimitGlobal(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "global", nil
		}),
	)
}
