// Package notify delivers lead notifications by e-mail and webhook.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/capitalize-ai/chat-widget/internal/model"
)

const smtpTimeout = 6 * time.Second

// Mailer sends a plain-text e-mail.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends mail over STARTTLS.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates a mailer. Callers check configuration before use.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send delivers one message, dialing a fresh connection per call.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(smtpTimeout),
	}
	if m.cfg.Username != "" && m.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, smtpTimeout)
	defer cancel()

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

// LeadEmail renders the subject and body of a lead notification.
// subjectTemplate may contain {client_id}.
func LeadEmail(subjectTemplate string, l model.Lead) (string, string) {
	subject := strings.ReplaceAll(subjectTemplate, "{client_id}", l.TenantID)

	var b strings.Builder
	fmt.Fprintf(&b, "Client: %s\n", l.TenantID)
	fmt.Fprintf(&b, "Email: %s\n", l.Email)
	fmt.Fprintf(&b, "Service: %s\n", l.Service)
	fmt.Fprintf(&b, "Timing: %s\n", l.Timing)
	fmt.Fprintf(&b, "Budget: %s\n", l.Budget)
	fmt.Fprintf(&b, "Source: %s\n", l.Source)
	fmt.Fprintf(&b, "Time: %s\n\n", l.Timestamp.Format("2006-01-02 15:04:05"))
	b.WriteString("Conversation:\n")
	b.WriteString(l.Conversation)
	b.WriteString("\n")

	return subject, b.String()
}
