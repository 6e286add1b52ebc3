// Package billing talks to the payment processor and signs onboarding tokens.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	portalsession "github.com/stripe/stripe-go/v81/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"
)

// ErrBadSignature is returned when a webhook payload fails verification.
var ErrBadSignature = errors.New("bad signature")

// Webhook event types the server reacts to.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Session is the subset of a checkout session the server uses.
type Session struct {
	ID             string
	URL            string
	Email          string
	CustomerID     string
	SubscriptionID string
	Plan           string
	PaymentStatus  string
}

// Paid reports whether the session may be provisioned.
func (s *Session) Paid() bool {
	return s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid) ||
		s.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusNoPaymentRequired)
}

// Subscription is the subset of a subscription the server uses.
type Subscription struct {
	ID         string
	Status     string
	CustomerID string
}

// Event is a verified webhook event. Session or Subscription is set
// depending on Type.
type Event struct {
	ID           string
	Type         string
	Session      *Session
	Subscription *Subscription
}

// CheckoutRequest describes a subscription checkout.
type CheckoutRequest struct {
	PriceID           string
	Plan              string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
}

// Gateway is the payment processor.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	CreatePortal(ctx context.Context, customerID, returnURL string) (string, error)
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

// StripeGateway implements Gateway with the Stripe API.
type StripeGateway struct {
	checkout      checkoutsession.Client
	portal        portalsession.Client
	webhookSecret string
}

// NewStripeGateway creates a gateway using secretKey for API calls and
// webhookSecret for signature verification.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	backend := stripe.GetBackend(stripe.APIBackend)
	return &StripeGateway{
		checkout:      checkoutsession.Client{B: backend, Key: secretKey},
		portal:        portalsession.Client{B: backend, Key: secretKey},
		webhookSecret: webhookSecret,
	}
}

// CreateCheckout starts a subscription checkout for one seat of PriceID.
func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:          stripe.String(req.SuccessURL),
		CancelURL:           stripe.String(req.CancelURL),
		AllowPromotionCodes: stripe.Bool(true),
		ClientReferenceID:   stripe.String(req.ClientReferenceID),
	}
	params.Context = ctx
	params.AddMetadata("plan", req.Plan)

	s, err := g.checkout.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return fromCheckout(s), nil
}

// GetSession retrieves a checkout session with customer and subscription expanded.
func (g *StripeGateway) GetSession(ctx context.Context, id string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("customer")
	params.AddExpand("subscription")

	s, err := g.checkout.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	return fromCheckout(s), nil
}

// CreatePortal opens a customer billing portal session and returns its URL.
func (g *StripeGateway) CreatePortal(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	ps, err := g.portal.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return ps.URL, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, ErrBadSignature
	}

	out := &Event{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		out.Session = fromCheckout(&s)
	case EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		out.Subscription = &Subscription{ID: sub.ID, Status: string(sub.Status)}
		if sub.Customer != nil {
			out.Subscription.CustomerID = sub.Customer.ID
		}
	}
	return out, nil
}

func fromCheckout(s *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: string(s.PaymentStatus),
		Plan:          s.Metadata["plan"],
	}
	if s.CustomerDetails != nil {
		out.Email = s.CustomerDetails.Email
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
		if out.Email == "" {
			out.Email = s.Customer.Email
		}
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	return out
}
