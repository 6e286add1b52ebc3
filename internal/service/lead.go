package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-widget/internal/model"
	"github.com/capitalize-ai/chat-widget/internal/notify"
	"github.com/capitalize-ai/chat-widget/internal/tenant"
	"github.com/capitalize-ai/chat-widget/pkg/logger"
	"github.com/capitalize-ai/chat-widget/pkg/metrics"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const (
	maxEmailChars        = 180
	maxFieldChars        = 120
	maxSourceChars       = 40
	maxConversationChars = 2000
	defaultLeadSource    = "chat"
)

// WebhookPoster delivers lead events to tenant webhooks.
type WebhookPoster interface {
	PostLead(ctx context.Context, url string, l model.Lead) error
}

// LeadOptions configures lead side channels. Nil channels are skipped.
type LeadOptions struct {
	Mailer        notify.Mailer
	Webhooks      WebhookPoster
	Publisher     Publisher
	EmailFallback string
	EmailSubject  string
}

// LeadInput is one lead as received from the widget.
type LeadInput struct {
	TenantID     string
	Key          string
	Email        string
	Service      string
	Timing       string
	Budget       string
	Source       string
	Conversation string
}

// LeadService captures leads.
type LeadService struct {
	tenants ConfigResolver
	leads   LeadStore
	opts    LeadOptions
	logger  *logger.Logger
	bg      background
}

// NewLeadService creates a new lead service.
func NewLeadService(tenants ConfigResolver, leads LeadStore, opts LeadOptions, log *logger.Logger) *LeadService {
	return &LeadService{
		tenants: tenants,
		leads:   leads,
		opts:    opts,
		logger:  log,
	}
}

// NormalizeEmail trims and lower-cases an address and validates it.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len([]rune(email)) > maxEmailChars || !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Capture validates and stores a lead, then notifies the tenant in the
// background. The lead is committed before Capture returns.
func (s *LeadService) Capture(ctx context.Context, in LeadInput) (*model.Lead, error) {
	cfg, err := s.tenants.Resolve(in.TenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	if !tenant.KeyValid(cfg, in.Key) {
		return nil, ErrForbidden
	}

	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}

	source := in.Source
	if source == "" {
		source = defaultLeadSource
	}

	lead := &model.Lead{
		TenantID:     in.TenantID,
		Email:        email,
		Service:      truncate(in.Service, maxFieldChars),
		Timing:       truncate(in.Timing, maxFieldChars),
		Budget:       truncate(in.Budget, maxFieldChars),
		Source:       truncate(source, maxSourceChars),
		Conversation: truncate(in.Conversation, maxConversationChars),
	}
	if err := s.leads.InsertLead(ctx, lead); err != nil {
		return nil, fmt.Errorf("failed to store lead: %w", err)
	}
	metrics.LeadsTotal.WithLabelValues(lead.TenantID, lead.Source).Inc()

	s.logger.Info("lead captured",
		zap.String("tenant_id", lead.TenantID),
		zap.Int64("lead_id", lead.ID),
		zap.String("source", lead.Source),
	)

	s.notify(ctx, cfg, *lead)
	return lead, nil
}

// Wait blocks until all lead side effects have finished.
func (s *LeadService) Wait() {
	s.bg.Wait()
}

func (s *LeadService) notify(ctx context.Context, cfg tenant.Config, lead model.Lead) {
	log := s.logger.With(zap.String("tenant_id", lead.TenantID), zap.Int64("lead_id", lead.ID))

	to := strings.TrimSpace(cfg.LeadEmailTo())
	if to == "" {
		to = strings.TrimSpace(s.opts.EmailFallback)
	}
	if to != "" && s.opts.Mailer != nil {
		subject, body := notify.LeadEmail(s.opts.EmailSubject, lead)
		s.bg.Go(ctx, func(ctx context.Context) {
			if err := s.opts.Mailer.Send(ctx, to, subject, body); err != nil {
				metrics.RecordSideEffectFailure("email")
				log.Warn("lead email failed", zap.Error(err))
			}
		})
	}

	if url := strings.TrimSpace(cfg.WebhookURL()); url != "" && s.opts.Webhooks != nil {
		s.bg.Go(ctx, func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(ctx, notify.WebhookTimeout)
			defer cancel()
			if err := s.opts.Webhooks.PostLead(ctx, url, lead); err != nil {
				metrics.RecordSideEffectFailure("webhook")
				log.Warn("lead webhook failed", zap.Error(err))
			}
		})
	}

	if s.opts.Publisher != nil {
		s.bg.Go(ctx, func(ctx context.Context) {
			if err := s.opts.Publisher.PublishLead(ctx, lead); err != nil {
				metrics.RecordSideEffectFailure("nats")
				log.Warn("lead publish failed", zap.Error(err))
			}
		})
	}
}
