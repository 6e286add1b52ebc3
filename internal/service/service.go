// Package service provides business logic for the chat widget backend.
package service

import (
	"context"
	"errors"
	"sync"

	"github.com/capitalize-ai/chat-widget/internal/model"
	"github.com/capitalize-ai/chat-widget/internal/tenant"
)

var (
	// ErrForbidden is returned when the widget key does not match.
	ErrForbidden = errors.New("not allowed")
	// ErrInvalidEmail is returned for a missing or malformed lead e-mail.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrCompletion is returned when the model call or its parsing fails.
	ErrCompletion = errors.New("completion failed")
	// ErrInvalidPlan is returned for an unknown or unpriced plan.
	ErrInvalidPlan = errors.New("invalid plan")
	// ErrMissingSession is returned when no checkout session id is supplied.
	ErrMissingSession = errors.New("missing session_id")
	// ErrMissingCustomer is returned when no customer id is supplied.
	ErrMissingCustomer = errors.New("missing customer")
	// ErrNotPaid is returned when onboarding an unpaid checkout session.
	ErrNotPaid = errors.New("not paid")
	// ErrAlreadyProvisioned is returned when a checkout already has a tenant.
	ErrAlreadyProvisioned = errors.New("already provisioned")
	// ErrGateway wraps payment processor failures.
	ErrGateway = errors.New("payment processor error")
)

// ConfigResolver resolves a tenant id to its effective configuration.
type ConfigResolver interface {
	Resolve(id string) (tenant.Config, error)
}

// Publisher mirrors leads and funnel events to a message stream.
type Publisher interface {
	PublishLead(ctx context.Context, lead model.Lead) error
	PublishEvent(ctx context.Context, event model.Event) error
}

// LeadStore persists leads.
type LeadStore interface {
	InsertLead(ctx context.Context, l *model.Lead) error
}

// EventStore persists funnel events.
type EventStore interface {
	InsertEvent(ctx context.Context, tenantID string, event model.EventType) (model.Event, error)
}

// background runs best-effort side effects detached from the request.
type background struct {
	wg sync.WaitGroup
}

// Go runs fn in a goroutine with a context that outlives the request but
// keeps its values.
func (b *background) Go(ctx context.Context, fn func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(ctx)
	}()
}

// Wait blocks until every side effect started so far has finished.
func (b *background) Wait() {
	b.wg.Wait()
}
