package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/capitalize-ai/chat-widget/internal/middleware"
	"github.com/capitalize-ai/chat-widget/internal/tenant"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"ok":    false,
		"error": message,
	})
}

// decodeJSON decodes a request body. An empty body decodes to the zero value.
func decodeJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// widgetKey returns the key supplied by the widget, preferring the query
// string, then the body, then the X-Widget-Key header.
func widgetKey(r *http.Request, fromBody string) string {
	if k := strings.TrimSpace(r.URL.Query().Get("k")); k != "" {
		return k
	}
	if k := strings.TrimSpace(fromBody); k != "" {
		return k
	}
	return strings.TrimSpace(r.Header.Get("X-Widget-Key"))
}

// requestTenant returns the tenant the request is for. The query string wins;
// a client id in the body is used only when the query names none.
func requestTenant(r *http.Request, fromBody string) string {
	if middleware.TenantParam(r) == "" && strings.TrimSpace(fromBody) != "" {
		return tenant.ParseID(fromBody)
	}
	if id := middleware.GetTenantID(r.Context()); id != "" {
		return id
	}
	return tenant.ParseID(middleware.TenantParam(r))
}

func bodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
