package model

import (
	"time"
)

// BillingStatus is the lifecycle state of a billing account.
type BillingStatus string

const (
	BillingPending  BillingStatus = "pending"
	BillingActive   BillingStatus = "active"
	BillingCanceled BillingStatus = "canceled"
)

// BillingAccount links a Stripe checkout to a provisioned tenant.
type BillingAccount struct {
	ID                   int64         `json:"id"`
	Timestamp            time.Time     `json:"ts"`
	Email                string        `json:"email"`
	StripeCustomerID     string        `json:"stripe_customer_id"`
	StripeSubscriptionID string        `json:"stripe_subscription_id"`
	StripeSessionID      string        `json:"stripe_session_id"`
	Plan                 string        `json:"plan"`
	Status               BillingStatus `json:"status"`
	TenantID             string        `json:"client_id"`
}

// Provisioned reports whether a tenant has already been created for the account.
func (a *BillingAccount) Provisioned() bool {
	return a.TenantID != ""
}
