package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/capitalize-ai/chat-widget/internal/model"
)

// ErrAlreadyAttached is returned when a billing account already has a tenant.
var ErrAlreadyAttached = errors.New("billing account already has a tenant")

// SessionInfo carries the fields of a checkout session worth persisting.
// Empty fields never overwrite stored values.
type SessionInfo struct {
	SessionID      string
	Email          string
	CustomerID     string
	SubscriptionID string
	Plan           string
}

const billingCols = `SELECT id, ts, email, stripe_customer_id, stripe_subscription_id,
	stripe_session_id, plan, status, client_id FROM billing_accounts`

// CreatePending inserts a pending account for a freshly created checkout
// session. A second call for the same session is a no-op.
func (s *Store) CreatePending(ctx context.Context, sessionID, plan string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO billing_accounts (ts, email, stripe_session_id, plan, status)
		 VALUES (?, '', ?, ?, 'pending')
		 ON CONFLICT(stripe_session_id) DO NOTHING`,
		s.now().Unix(), sessionID, plan,
	)
	if err != nil {
		return fmt.Errorf("failed to insert billing account: %w", err)
	}
	return nil
}

// UpsertFromSession records what the payment processor reports about a
// session without changing the account status.
func (s *Store) UpsertFromSession(ctx context.Context, info SessionInfo) error {
	return s.upsertSession(ctx, info, model.BillingPending, false)
}

// ActivateSession marks the account for a completed checkout active,
// creating it when the checkout never passed through this server. A
// canceled account stays canceled.
func (s *Store) ActivateSession(ctx context.Context, info SessionInfo) error {
	return s.upsertSession(ctx, info, model.BillingActive, true)
}

func (s *Store) upsertSession(ctx context.Context, info SessionInfo, status model.BillingStatus, forceStatus bool) error {
	statusUpdate := `billing_accounts.status`
	if forceStatus {
		statusUpdate = `CASE WHEN billing_accounts.status = '` + string(model.BillingCanceled) +
			`' THEN billing_accounts.status ELSE excluded.status END`
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO billing_accounts
		   (ts, email, stripe_customer_id, stripe_subscription_id, stripe_session_id, plan, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(stripe_session_id) DO UPDATE SET
		   email = CASE WHEN excluded.email <> '' THEN excluded.email ELSE billing_accounts.email END,
		   stripe_customer_id = COALESCE(excluded.stripe_customer_id, billing_accounts.stripe_customer_id),
		   stripe_subscription_id = COALESCE(excluded.stripe_subscription_id, billing_accounts.stripe_subscription_id),
		   plan = COALESCE(excluded.plan, billing_accounts.plan),
		   status = `+statusUpdate,
		s.now().Unix(), info.Email, nullString(info.CustomerID), nullString(info.SubscriptionID),
		info.SessionID, nullString(info.Plan), string(status),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert billing account: %w", err)
	}
	return nil
}

// GetBySession returns the account for a checkout session.
func (s *Store) GetBySession(ctx context.Context, sessionID string) (*model.BillingAccount, error) {
	row := s.db.QueryRowContext(ctx, billingCols+` WHERE stripe_session_id = ?`, sessionID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing account: %w", err)
	}
	return a, nil
}

// SetStatusBySubscription updates every account tied to a subscription and
// returns the number of rows changed.
func (s *Store) SetStatusBySubscription(ctx context.Context, subscriptionID string, status model.BillingStatus) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE billing_accounts SET status = ? WHERE stripe_subscription_id = ?`,
		string(status), subscriptionID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update billing status: %w", err)
	}
	return res.RowsAffected()
}

// AttachTenant binds a tenant to the session's account and activates it.
// It fails with ErrAlreadyAttached when a tenant is already bound, so two
// concurrent onboardings cannot both succeed.
func (s *Store) AttachTenant(ctx context.Context, sessionID, tenantID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE billing_accounts SET client_id = ?, status = 'active'
		 WHERE stripe_session_id = ? AND (client_id IS NULL OR client_id = '')`,
		tenantID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to attach tenant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to attach tenant: %w", err)
	}
	if n == 0 {
		if _, err := s.GetBySession(ctx, sessionID); err != nil {
			return err
		}
		return ErrAlreadyAttached
	}
	return nil
}

// DetachTenant releases a binding made by AttachTenant when provisioning the
// tenant failed afterwards.
func (s *Store) DetachTenant(ctx context.Context, sessionID, tenantID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE billing_accounts SET client_id = NULL WHERE stripe_session_id = ? AND client_id = ?`,
		sessionID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to detach tenant: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.BillingAccount, error) {
	var (
		a                            model.BillingAccount
		ts                           int64
		customer, sub, session, plan sql.NullString
		status                       string
		tenantID                     sql.NullString
	)
	if err := row.Scan(&a.ID, &ts, &a.Email, &customer, &sub, &session, &plan, &status, &tenantID); err != nil {
		return nil, err
	}
	a.Timestamp = time.Unix(ts, 0).UTC()
	a.StripeCustomerID = customer.String
	a.StripeSubscriptionID = sub.String
	a.StripeSessionID = session.String
	a.Plan = plan.String
	a.Status = model.BillingStatus(status)
	a.TenantID = tenantID.String
	return &a, nil
}
