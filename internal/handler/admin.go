package handler

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-widget/internal/middleware"
	"github.com/capitalize-ai/chat-widget/internal/model"
	"github.com/capitalize-ai/chat-widget/internal/service"
	"github.com/capitalize-ai/chat-widget/internal/tenant"
	"github.com/capitalize-ai/chat-widget/internal/web"
	"github.com/capitalize-ai/chat-widget/pkg/logger"
)

// AdminHandler handles the admin dashboard and tenant management endpoints.
type AdminHandler struct {
	tenantService *service.TenantService
	reportService *service.ReportService
	pages         *web.Renderer
	baseURL       string
	logger        *logger.Logger
}

// NewAdminHandler creates a new admin handler. baseURL is the public origin
// used in generated embed snippets.
func NewAdminHandler(
	tenantSvc *service.TenantService,
	reportSvc *service.ReportService,
	pages *web.Renderer,
	baseURL string,
	log *logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		tenantService: tenantSvc,
		reportService: reportSvc,
		pages:         pages,
		baseURL:       baseURL,
		logger:        log,
	}
}

// Dashboard handles GET /admin
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if err := h.pages.Render(w, http.StatusOK, web.PageAdmin, nil); err != nil {
		middleware.RequestLogger(r.Context(), h.logger).Error("failed to render admin", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "page unavailable")
	}
}

// Clients handles GET /admin/clients
func (h *AdminHandler) Clients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.tenantService.List()
	if err != nil {
		h.internalError(w, r, "failed to list clients", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clients": clients,
	})
}

// Create handles POST /admin/create-client
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTenantRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.tenantService.Create(req, h.baseURL)
	if err != nil {
		h.tenantError(w, r, "failed to create client", err)
		return
	}
	h.audit(r, "client created", created.ClientID)
	writeJSON(w, http.StatusOK, created)
}

// Update handles POST /admin/update-client
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateTenantRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.tenantService.Update(req); err != nil {
		h.tenantError(w, r, "failed to update client", err)
		return
	}
	h.audit(r, "client updated", req.ClientID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"client_id": strings.TrimSpace(req.ClientID),
	})
}

// RotateKey handles POST /admin/rotate-key
func (h *AdminHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	var req model.RotateKeyRequest
	if !h.decode(w, r, &req) {
		return
	}

	rotated, err := h.tenantService.RotateKey(req)
	if err != nil {
		h.tenantError(w, r, "failed to rotate key", err)
		return
	}
	h.audit(r, "widget key rotated", rotated.ClientID)
	writeJSON(w, http.StatusOK, rotated)
}

// Data handles GET /admin/data
func (h *AdminHandler) Data(w http.ResponseWriter, r *http.Request) {
	dash, err := h.reportService.Dashboard(r.Context(), reportTenant(r))
	if err != nil {
		h.internalError(w, r, "failed to load dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

// Export handles GET /admin/export.csv
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	tenantID := reportTenant(r)
	filename := "leads.csv"
	if tenantID != "" {
		filename = "leads-" + tenantID + ".csv"
	}

	data, err := h.reportService.Export(r.Context(), tenantID)
	if err != nil {
		middleware.RequestLogger(r.Context(), h.logger).Error("failed to export leads", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not export leads")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// reportTenant returns the filter for admin reports. No client means every tenant.
func reportTenant(r *http.Request) string {
	if strings.TrimSpace(middleware.TenantParam(r)) == "" {
		return ""
	}
	return tenant.ParseID(middleware.TenantParam(r))
}

// audit records which admin changed which tenant.
func (h *AdminHandler) audit(r *http.Request, msg, clientID string) {
	middleware.RequestLogger(r.Context(), h.logger).Info(msg,
		zap.String("admin", middleware.GetAdminUser(r.Context())),
		zap.String("client_id", strings.TrimSpace(clientID)),
	)
}

func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := decodeJSON(r, v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, model.ErrDomainsNotList):
		writeError(w, http.StatusBadRequest, model.ErrDomainsNotList.Error())
	case bodyTooLarge(err):
		writeError(w, http.StatusRequestEntityTooLarge, "Request too large")
	default:
		writeError(w, http.StatusBadRequest, "Invalid JSON")
	}
	return false
}

func (h *AdminHandler) tenantError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if status, text, ok := tenantErrorStatus(err); ok {
		writeError(w, status, text)
		return
	}
	h.internalError(w, r, msg, err)
}

func (h *AdminHandler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	middleware.RequestLogger(r.Context(), h.logger).Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

// tenantErrorStatus maps tenant validation failures to client errors.
func tenantErrorStatus(err error) (int, string, bool) {
	switch {
	case errors.Is(err, tenant.ErrInvalidID):
		return http.StatusBadRequest, tenant.ErrInvalidID.Error(), true
	case errors.Is(err, tenant.ErrTenantExists):
		return http.StatusBadRequest, "Client already exists", true
	case errors.Is(err, tenant.ErrTenantNotFound):
		return http.StatusBadRequest, "Client not found", true
	case errors.Is(err, model.ErrDomainsNotList):
		return http.StatusBadRequest, model.ErrDomainsNotList.Error(), true
	}
	return 0, "", false
}
