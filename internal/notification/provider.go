package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"

	"github.com/oncoportal/platform/internal/shared/config"
)

// Email is one outbound message.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Provider delivers email. Implementations: SMTP for production, mock for
// tests and development.
type Provider interface {
	Send(ctx context.Context, email Email) error
}

// SMTPProvider sends mail through a plain SMTP relay.
type SMTPProvider struct {
	cfg config.SMTPConfig
}

// NewSMTPProvider creates an SMTP provider
func NewSMTPProvider(cfg config.SMTPConfig) *SMTPProvider {
	return &SMTPProvider{cfg: cfg}
}

// Send delivers the email via SMTP
func (p *SMTPProvider) Send(_ context.Context, email Email) error {
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}

	msg := buildMessage(p.cfg.From, email)
	if err := smtp.SendMail(addr, auth, p.cfg.From, []string{email.To}, msg); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", email.To, err)
	}
	return nil
}

func buildMessage(from string, email Email) []byte {
	var sb strings.Builder
	sb.WriteString("From: " + from + "\r\n")
	sb.WriteString("To: " + email.To + "\r\n")
	sb.WriteString("Subject: " + email.Subject + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(email.Body)
	return []byte(sb.String())
}

// MockProvider records sent emails in memory. Used in tests and when SMTP
// is disabled.
type MockProvider struct {
	mu       sync.Mutex
	sent     []Email
	failures int
}

// NewMockProvider creates a mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Send records the email, failing first for as many calls as FailNext armed.
func (p *MockProvider) Send(_ context.Context, email Email) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failures > 0 {
		p.failures--
		return fmt.Errorf("mock send failure")
	}
	p.sent = append(p.sent, email)
	return nil
}

// FailNext makes the next n sends fail
func (p *MockProvider) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
}

// Sent returns a copy of all delivered emails
func (p *MockProvider) Sent() []Email {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Email, len(p.sent))
	copy(out, p.sent)
	return out
}
