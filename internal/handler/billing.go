package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-widget/internal/billing"
	"github.com/capitalize-ai/chat-widget/internal/middleware"
	"github.com/capitalize-ai/chat-widget/internal/model"
	"github.com/capitalize-ai/chat-widget/internal/service"
	"github.com/capitalize-ai/chat-widget/internal/web"
	"github.com/capitalize-ai/chat-widget/pkg/logger"
)

// BillingHandler handles checkout, onboarding and payment processor webhooks.
type BillingHandler struct {
	billingService *service.BillingService
	pages          *web.Renderer
	logger         *logger.Logger
}

// NewBillingHandler creates a new billing handler.
func NewBillingHandler(billingSvc *service.BillingService, pages *web.Renderer, log *logger.Logger) *BillingHandler {
	return &BillingHandler{
		billingService: billingSvc,
		pages:          pages,
		logger:         log,
	}
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

type portalRequest struct {
	CustomerID string `json:"stripe_customer_id"`
}

// Checkout handles POST /billing/checkout
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	url, err := h.billingService.Checkout(r.Context(), req.Plan)
	if err != nil {
		h.billingError(w, r, "checkout failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "url": url})
}

// AfterCheckout handles GET /after-checkout
func (h *BillingHandler) AfterCheckout(w http.ResponseWriter, r *http.Request) {
	form, err := h.billingService.AfterCheckout(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		h.billingError(w, r, "after-checkout failed", err)
		return
	}

	page := web.OnboardPage{
		SessionID: form.SessionID,
		Email:     form.Email,
		Plan:      form.Plan,
		Token:     form.Token,
	}
	if err := h.pages.Render(w, http.StatusOK, web.PageOnboard, page); err != nil {
		h.billingError(w, r, "failed to render onboarding", err)
	}
}

// Onboard handles POST /onboard
func (h *BillingHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	var req model.OnboardRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, model.ErrDomainsNotList) {
			writeError(w, http.StatusBadRequest, model.ErrDomainsNotList.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	created, err := h.billingService.Onboard(r.Context(), req)
	if err != nil {
		h.billingError(w, r, "onboarding failed", err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

// Webhook handles POST /stripe/webhook
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := h.billingService.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.billingError(w, r, "webhook failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Portal handles POST /billing/portal
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	url, err := h.billingService.Portal(r.Context(), req.CustomerID)
	if err != nil {
		h.billingError(w, r, "portal failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "url": url})
}

func (h *BillingHandler) billingError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if status, text, ok := tenantErrorStatus(err); ok {
		writeError(w, status, text)
		return
	}

	log := middleware.RequestLogger(r.Context(), h.logger)
	switch {
	case errors.Is(err, service.ErrInvalidPlan):
		writeError(w, http.StatusBadRequest, "Invalid plan")
	case errors.Is(err, service.ErrMissingSession):
		writeError(w, http.StatusBadRequest, "Missing session_id")
	case errors.Is(err, service.ErrMissingCustomer):
		writeError(w, http.StatusBadRequest, "Missing stripe_customer_id")
	case errors.Is(err, billing.ErrBadSignature):
		writeError(w, http.StatusBadRequest, "Bad signature")
	case errors.Is(err, billing.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "Invalid or expired onboarding token")
	case errors.Is(err, service.ErrNotPaid):
		writeError(w, http.StatusPaymentRequired, "Not paid")
	case errors.Is(err, service.ErrAlreadyProvisioned):
		writeError(w, http.StatusConflict, "Already provisioned")
	case errors.Is(err, service.ErrGateway):
		log.Error(msg, zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		log.Error(msg, zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
