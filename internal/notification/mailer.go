package notification

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"text/template"
	"time"

	"github.com/oncoportal/platform/internal/shared/config"
)

const (
	sendAttempts = 2
	sendTimeout  = 30 * time.Second
)

var verificationTemplate = template.Must(template.New("verification").Parse(
	`Hello {{.Name}},

Welcome to the oncology patient portal. Please confirm your email address
by opening the link below:

{{.Link}}

The link is valid for 48 hours. If you did not create this account, you can
ignore this message.
`))

var passwordResetTemplate = template.Must(template.New("reset").Parse(
	`Hello {{.Name}},

A password reset was requested for your account. Open the link below to
choose a new password:

{{.Link}}

The link is valid for 24 hours and can be used once. If you did not request
a reset, no action is needed.
`))

// Mailer composes and sends account lifecycle emails. Delivery is
// asynchronous with retry; failures are logged, not surfaced to the caller.
type Mailer struct {
	provider   Provider
	cfg        config.SMTPConfig
	retryDelay time.Duration
	wg         sync.WaitGroup
}

// NewMailer creates a mailer on the given provider
func NewMailer(provider Provider, cfg config.SMTPConfig) *Mailer {
	return &Mailer{provider: provider, cfg: cfg, retryDelay: 5 * time.Second}
}

// SendVerificationEmail mails the signup confirmation link
func (m *Mailer) SendVerificationEmail(_ context.Context, to, name, token string) error {
	email, err := render(verificationTemplate, "Confirm your email address", to, name,
		m.cfg.BaseURL+"/verify-email/"+token)
	if err != nil {
		return err
	}
	m.dispatch(email)
	return nil
}

// SendPasswordResetEmail mails the password reset link
func (m *Mailer) SendPasswordResetEmail(_ context.Context, to, name, token string) error {
	email, err := render(passwordResetTemplate, "Reset your password", to, name,
		m.cfg.BaseURL+"/reset-password/"+token)
	if err != nil {
		return err
	}
	m.dispatch(email)
	return nil
}

// Wait blocks until all in-flight sends complete. Used on shutdown.
func (m *Mailer) Wait() {
	m.wg.Wait()
}

func render(tmpl *template.Template, subject, to, name, link string) (Email, error) {
	var body bytes.Buffer
	err := tmpl.Execute(&body, struct {
		Name string
		Link string
	}{Name: name, Link: link})
	if err != nil {
		return Email{}, fmt.Errorf("failed to render email: %w", err)
	}
	return Email{To: to, Subject: subject, Body: body.String()}, nil
}

func (m *Mailer) dispatch(email Email) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := m.deliver(ctx, email); err != nil {
			log.Printf("Failed to send email to %s: %v", email.To, err)
		}
	}()
}

// deliver tries the provider up to sendAttempts times
func (m *Mailer) deliver(ctx context.Context, email Email) error {
	var lastErr error
	for attempt := 0; attempt < sendAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.retryDelay):
			}
		}
		if err := m.provider.Send(ctx, email); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
