package middleware

import (
	"net/http"

	"github.com/capitalize-ai/chat-widget/internal/tenant"
)

// EmbedPath is the only path that may be framed, and only by the tenant's
// allowed domains.
const EmbedPath = "/embed"

const cspBase = "default-src 'self'; img-src 'self' data:; style-src 'self' 'unsafe-inline'; " +
	"script-src 'self'; connect-src 'self'; frame-ancestors "

// ConfigResolver resolves a tenant id to its effective configuration.
type ConfigResolver interface {
	Resolve(id string) (tenant.Config, error)
}

// SecurityHeaders sets the hardening headers on every response. Framing is
// denied everywhere except EmbedPath, whose frame-ancestors come from the
// tenant named by the client (or c) query parameter.
func SecurityHeaders(tenants ConfigResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Cache-Control", "no-store")

			ancestors := "'none'"
			if r.URL.Path == EmbedPath {
				ancestors = "'self'"
				if cfg, err := tenants.Resolve(tenant.ParseID(TenantParam(r))); err == nil {
					ancestors = tenant.FrameAncestors(cfg)
				}
			} else {
				h.Set("X-Frame-Options", "DENY")
			}
			h.Set("Content-Security-Policy", cspBase+ancestors+";")

			next.ServeHTTP(w, r)
		})
	}
}
