package middleware

import (
	"net/http"
)

// MaxBodyBytes caps request bodies for JSON endpoints.
const MaxBodyBytes = 64 << 10

// LimitBody rejects request bodies larger than n bytes once they are read.
func LimitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
