package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-widget/internal/middleware"
	"github.com/capitalize-ai/chat-widget/internal/model"
	"github.com/capitalize-ai/chat-widget/internal/service"
	"github.com/capitalize-ai/chat-widget/pkg/logger"
)

// LeadHandler handles lead capture.
type LeadHandler struct {
	leadService *service.LeadService
	logger      *logger.Logger
}

// NewLeadHandler creates a new lead handler.
func NewLeadHandler(leadSvc *service.LeadService, log *logger.Logger) *LeadHandler {
	return &LeadHandler{
		leadService: leadSvc,
		logger:      log,
	}
}

// Create handles POST /lead
func (h *LeadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.LeadRequest
	if err := decodeJSON(r, &req); err != nil {
		if bodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	tenantID := requestTenant(r, req.Client)
	ctx := middleware.WithTenantID(r.Context(), tenantID)

	_, err := h.leadService.Capture(ctx, service.LeadInput{
		TenantID:     tenantID,
		Key:          widgetKey(r, req.Key),
		Email:        req.Email,
		Service:      req.Service,
		Timing:       req.Timing,
		Budget:       req.Budget,
		Source:       req.Source,
		Conversation: req.Conversation,
	})
	switch {
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "Not allowed")
	case errors.Is(err, service.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, "Invalid email")
	case err != nil:
		middleware.RequestLogger(ctx, h.logger).Error("failed to capture lead", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not save lead")
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
