package middleware

import (
	"net/http"

	"github.com/go-chi/cors"

	"github.com/capitalize-ai/chat-widget/internal/tenant"
)

// CORS returns tenant-aware CORS middleware for the widget API. An origin
// is allowed when it passes the host allow-list of the tenant named by the
// client (or c) query parameter; tenants without an allow-list accept any origin.
func CORS(tenants ConfigResolver) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			cfg, err := tenants.Resolve(tenant.ParseID(TenantParam(r)))
			if err != nil {
				return false
			}
			return tenant.HostAllowed(cfg, origin)
		},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", "X-Widget-Key", CorrelationHeader},
		ExposedHeaders:   []string{CorrelationHeader},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
