package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-widget/internal/billing"
	"github.com/capitalize-ai/chat-widget/internal/model"
	"github.com/capitalize-ai/chat-widget/internal/store"
	"github.com/capitalize-ai/chat-widget/internal/tenant"
	"github.com/capitalize-ai/chat-widget/pkg/logger"
	"github.com/capitalize-ai/chat-widget/pkg/metrics"
)

const defaultPlan = "starter"

// BillingStore persists billing accounts.
type BillingStore interface {
	CreatePending(ctx context.Context, sessionID, plan string) error
	UpsertFromSession(ctx context.Context, info store.SessionInfo) error
	ActivateSession(ctx context.Context, info store.SessionInfo) error
	GetBySession(ctx context.Context, sessionID string) (*model.BillingAccount, error)
	SetStatusBySubscription(ctx context.Context, subscriptionID string, status model.BillingStatus) (int64, error)
	AttachTenant(ctx context.Context, sessionID, tenantID string) error
	DetachTenant(ctx context.Context, sessionID, tenantID string) error
}

// OnboardingForm is what the after-checkout page needs to render.
type OnboardingForm struct {
	SessionID string
	Email     string
	Plan      string
	Token     string
}

// BillingService runs self-serve checkout and onboarding.
type BillingService struct {
	gateway billing.Gateway
	store   BillingStore
	tokens  *billing.TokenIssuer
	tenants *TenantService
	prices  map[string]string
	baseURL string
	logger  *logger.Logger
}

// NewBillingService creates a new billing service. prices maps plan names to
// processor price ids; baseURL is the public origin used in redirect URLs.
func NewBillingService(
	gateway billing.Gateway,
	accounts BillingStore,
	tokens *billing.TokenIssuer,
	tenants *TenantService,
	prices map[string]string,
	baseURL string,
	log *logger.Logger,
) *BillingService {
	return &BillingService{
		gateway: gateway,
		store:   accounts,
		tokens:  tokens,
		tenants: tenants,
		prices:  prices,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  log,
	}
}

// Checkout starts a subscription checkout for plan and returns the hosted
// payment page URL.
func (s *BillingService) Checkout(ctx context.Context, plan string) (string, error) {
	plan = strings.TrimSpace(plan)
	if plan == "" {
		plan = defaultPlan
	}
	price := s.prices[plan]
	if price == "" {
		return "", ErrInvalidPlan
	}

	sess, err := s.gateway.CreateCheckout(ctx, billing.CheckoutRequest{
		PriceID:           price,
		Plan:              plan,
		SuccessURL:        s.baseURL + "/after-checkout?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:         s.baseURL + "/pricing?canceled=1",
		ClientReferenceID: "cw_" + uuid.NewString(),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGateway, err)
	}

	if err := s.store.CreatePending(ctx, sess.ID, plan); err != nil {
		return "", err
	}

	s.logger.Info("checkout started", zap.String("session_id", sess.ID), zap.String("plan", plan))
	return sess.URL, nil
}

// AfterCheckout records the finished checkout and issues the token the
// onboarding form must send back.
func (s *BillingService) AfterCheckout(ctx context.Context, sessionID string) (*OnboardingForm, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrMissingSession
	}

	sess, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	plan := sess.Plan
	if plan == "" {
		plan = defaultPlan
	}

	if err := s.store.UpsertFromSession(ctx, store.SessionInfo{
		SessionID:      sess.ID,
		Email:          sess.Email,
		CustomerID:     sess.CustomerID,
		SubscriptionID: sess.SubscriptionID,
		Plan:           plan,
	}); err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(sess.ID, sess.Email, plan)
	if err != nil {
		return nil, err
	}
	return &OnboardingForm{SessionID: sess.ID, Email: sess.Email, Plan: plan, Token: token}, nil
}

// Onboard provisions the tenant for a paid checkout. Each checkout session
// provisions at most one tenant.
func (s *BillingService) Onboard(ctx context.Context, req model.OnboardRequest) (*model.TenantCreated, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return nil, ErrMissingSession
	}
	claims, err := s.tokens.Verify(req.Token, sessionID)
	if err != nil {
		return nil, err
	}

	sess, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	if !sess.Paid() {
		return nil, ErrNotPaid
	}

	acct, err := s.store.GetBySession(ctx, sessionID)
	switch {
	case err == nil && acct.Provisioned():
		return nil, ErrAlreadyProvisioned
	case err == nil && acct.Status == model.BillingCanceled:
		return nil, ErrNotPaid
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(sess.Email))
	if email == "" {
		email = claims.Email
	}
	leadEmail := strings.TrimSpace(req.LeadEmailTo)
	if leadEmail == "" {
		leadEmail = email
	}
	createReq := model.CreateTenantRequest{
		ClientID:       req.ClientID,
		BrandName:      req.BrandName,
		DemoLink:       req.DemoLink,
		AllowedDomains: req.AllowedDomains,
		Theme:          req.Theme,
		LeadEmailTo:    leadEmail,
	}
	id, err := tenant.ValidateNewID(createReq.ClientID)
	if err != nil {
		return nil, err
	}

	if err := s.store.ActivateSession(ctx, store.SessionInfo{
		SessionID:      sessionID,
		Email:          email,
		CustomerID:     sess.CustomerID,
		SubscriptionID: sess.SubscriptionID,
		Plan:           claims.Plan,
	}); err != nil {
		return nil, err
	}
	if err := s.store.AttachTenant(ctx, sessionID, id); err != nil {
		if errors.Is(err, store.ErrAlreadyAttached) {
			return nil, ErrAlreadyProvisioned
		}
		return nil, err
	}

	created, err := s.tenants.Create(createReq, s.baseURL)
	if err != nil {
		if derr := s.store.DetachTenant(ctx, sessionID, id); derr != nil {
			s.logger.Error("failed to release billing account", zap.String("session_id", sessionID), zap.Error(derr))
		}
		return nil, err
	}
	created.PreviewURL = ""

	s.logger.Info("tenant onboarded",
		zap.String("tenant_id", created.ClientID),
		zap.String("session_id", sessionID),
		zap.String("plan", claims.Plan),
	)
	return created, nil
}

// HandleWebhook verifies and applies a payment processor event. Unknown
// event types are accepted and ignored.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	evt, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	metrics.BillingWebhookEvents.WithLabelValues(evt.Type).Inc()

	log := s.logger.With(zap.String("event_id", evt.ID), zap.String("event_type", evt.Type))

	switch evt.Type {
	case billing.EventCheckoutCompleted:
		if evt.Session == nil || evt.Session.ID == "" {
			return nil
		}
		if err := s.store.ActivateSession(ctx, store.SessionInfo{
			SessionID:      evt.Session.ID,
			Email:          evt.Session.Email,
			CustomerID:     evt.Session.CustomerID,
			SubscriptionID: evt.Session.SubscriptionID,
			Plan:           evt.Session.Plan,
		}); err != nil {
			return err
		}
		log.Info("billing account activated", zap.String("session_id", evt.Session.ID))

	case billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		if evt.Subscription == nil || evt.Subscription.ID == "" {
			return nil
		}
		status, ok := model.BillingCanceled, true
		if evt.Type == billing.EventSubscriptionUpdated {
			status, ok = SubscriptionStatus(evt.Subscription.Status)
		}
		if !ok {
			return nil
		}
		n, err := s.store.SetStatusBySubscription(ctx, evt.Subscription.ID, status)
		if err != nil {
			return err
		}
		log.Info("billing status updated",
			zap.String("subscription_id", evt.Subscription.ID),
			zap.String("status", string(status)),
			zap.Int64("accounts", n),
		)
	}
	return nil
}

// Portal opens a billing portal session for the customer.
func (s *BillingService) Portal(ctx context.Context, customerID string) (string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", ErrMissingCustomer
	}
	url, err := s.gateway.CreatePortal(ctx, customerID, s.baseURL+"/account")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGateway, err)
	}
	return url, nil
}

// SubscriptionStatus maps a processor subscription status to an account
// status. ok is false for statuses that leave the account unchanged.
func SubscriptionStatus(status string) (model.BillingStatus, bool) {
	switch status {
	case "active", "trialing":
		return model.BillingActive, true
	case "canceled", "unpaid", "incomplete_expired":
		return model.BillingCanceled, true
	default:
		return "", false
	}
}
