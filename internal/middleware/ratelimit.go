package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits requests per tenant and client IP.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(windowLength.Seconds()))
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(
			func(r *http.Request) (string, error) {
				return "tenant:" + GetTenantID(r.Context()), nil
			},
			httprate.KeyByIP,
		),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"error":"rate limit exceeded","retry_after":` + retryAfter + `}`))
		}),
	)
}

// AdminRateLimit limits admin and billing requests per client IP.
func AdminRateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"error":"rate limit exceeded"}`))
		}),
	)
}
