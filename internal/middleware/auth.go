// Package middleware provides HTTP middleware for the widget server.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/capitalize-ai/chat-widget/internal/tenant"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// TenantIDKey is the context key for the requested tenant id.
	TenantIDKey ContextKey = "tenant_id"
	// AdminUserKey is the context key for the authenticated admin user.
	AdminUserKey ContextKey = "admin_user"
)

// AdminRealm is sent in the Basic auth challenge.
const AdminRealm = "Widget Admin"

// AdminAuth gates a route behind HTTP Basic auth with one configured
// user. Credentials are compared in constant time.
func AdminAuth(user, pass string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(p), []byte(pass)) == 1
			if !ok || !userOK || !passOK || user == "" || pass == "" {
				w.Header().Set("WWW-Authenticate", `Basic realm="`+AdminRealm+`"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), AdminUserKey, u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Tenant stores the tenant id named by the client (or c) query parameter in
// the request context. Malformed or missing ids become the default tenant.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithTenantID(r.Context(), tenant.ParseID(TenantParam(r)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantParam returns the raw client query parameter, falling back to c.
func TenantParam(r *http.Request) string {
	q := r.URL.Query()
	if id := q.Get("client"); id != "" {
		return id
	}
	return q.Get("c")
}

// WithTenantID returns a context carrying tenantID.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	if meta, ok := ctx.Value(requestMetaKey).(*requestMeta); ok {
		meta.tenantID = tenantID
	}
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// GetTenantID gets tenant ID from context.
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(TenantIDKey).(string); ok {
		return v
	}
	return ""
}

// GetAdminUser gets the authenticated admin user from context.
func GetAdminUser(ctx context.Context) string {
	if v, ok := ctx.Value(AdminUserKey).(string); ok {
		return v
	}
	return ""
}
