package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-widget/internal/middleware"
	"github.com/capitalize-ai/chat-widget/internal/service"
	"github.com/capitalize-ai/chat-widget/internal/tenant"
	"github.com/capitalize-ai/chat-widget/internal/web"
	"github.com/capitalize-ai/chat-widget/pkg/logger"
)

// WidgetHandler serves the public widget surface: config, loader script and pages.
type WidgetHandler struct {
	tenants   service.ConfigResolver
	pages     *web.Renderer
	script    []byte
	modelName string
	logger    *logger.Logger
}

// NewWidgetHandler creates a new widget handler. modelName is reported in the
// config metadata.
func NewWidgetHandler(tenants service.ConfigResolver, pages *web.Renderer, modelName string, log *logger.Logger) *WidgetHandler {
	return &WidgetHandler{
		tenants:   tenants,
		pages:     pages,
		script:    web.WidgetScript(),
		modelName: modelName,
		logger:    log,
	}
}

// Config handles GET /config
func (h *WidgetHandler) Config(w http.ResponseWriter, r *http.Request) {
	tenantID := requestTenant(r, "")
	cfg, err := h.tenants.Resolve(tenantID)
	if err != nil {
		middleware.RequestLogger(r.Context(), h.logger).Error("failed to resolve config", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "config unavailable")
		return
	}

	public := cfg.Public()
	public["meta"] = map[string]any{
		"clientId": tenantID,
		"model":    h.modelName,
	}
	writeJSON(w, http.StatusOK, public)
}

// Script handles GET /widget.js
func (h *WidgetHandler) Script(w http.ResponseWriter, r *http.Request) {
	tenantID := requestTenant(r, "")
	cfg, err := h.tenants.Resolve(tenantID)
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	if err != nil {
		middleware.RequestLogger(r.Context(), h.logger).Error("failed to resolve config", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("/* unavailable */"))
		return
	}
	if !tenant.HostAllowed(cfg, r.Referer()) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("/* not allowed */"))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write(h.script)
}

// Embed handles GET /embed
func (h *WidgetHandler) Embed(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, web.PageEmbed, web.EmbedPage{ClientID: requestTenant(r, "")})
}

// Index handles GET /
func (h *WidgetHandler) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, web.PageIndex, web.IndexPage{ClientID: requestTenant(r, "")})
}

func (h *WidgetHandler) render(w http.ResponseWriter, r *http.Request, page string, data any) {
	if err := h.pages.Render(w, http.StatusOK, page, data); err != nil {
		middleware.RequestLogger(r.Context(), h.logger).Error("failed to render page",
			zap.String("page", page), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "page unavailable")
	}
}
