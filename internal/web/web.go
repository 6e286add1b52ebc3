// Package web holds the embedded HTML pages and browser assets.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Page template names.
const (
	PageIndex   = "index.html"
	PageEmbed   = "embed.html"
	PageAdmin   = "admin.html"
	PageOnboard = "onboard.html"
)

// IndexPage is the data for the preview page.
type IndexPage struct {
	ClientID string
}

// EmbedPage is the data for the framed chat page.
type EmbedPage struct {
	ClientID string
}

// OnboardPage is the data for the post-checkout onboarding form.
type OnboardPage struct {
	SessionID string
	Email     string
	Plan      string
	Token     string
}

// Renderer executes the embedded page templates.
type Renderer struct {
	templates *template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	t, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &Renderer{templates: t}, nil
}

// Render writes the named page. The page is executed into a buffer first so
// a template error never produces a half-written response.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, data any) error {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// Static serves the embedded assets; mount it under /static/.
func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

// WidgetScript returns the loader script tenants embed on their sites.
func WidgetScript() []byte {
	b, err := staticFS.ReadFile("static/widget.js")
	if err != nil {
		panic(err)
	}
	return b
}
