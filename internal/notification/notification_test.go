package notification

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/oncoportal/platform/internal/shared/config"
)

func testMailer(provider Provider) *Mailer {
	m := NewMailer(provider, config.SMTPConfig{
		From:    "no-reply@portal.test",
		BaseURL: "https://portal.test",
	})
	m.retryDelay = time.Millisecond
	return m
}

func TestSendVerificationEmail(t *testing.T) {
	provider := NewMockProvider()
	m := testMailer(provider)

	if err := m.SendVerificationEmail(context.Background(), "pat@example.com", "Maria", "tok123"); err != nil {
		t.Fatalf("SendVerificationEmail: %v", err)
	}
	m.Wait()

	sent := provider.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sent))
	}
	if sent[0].To != "pat@example.com" {
		t.Errorf("to = %q", sent[0].To)
	}
	if !strings.Contains(sent[0].Body, "https://portal.test/verify-email/tok123") {
		t.Errorf("body missing verification link: %q", sent[0].Body)
	}
	if !strings.Contains(sent[0].Body, "Maria") {
		t.Error("body should address the recipient by name")
	}
}

func TestSendPasswordResetEmail(t *testing.T) {
	provider := NewMockProvider()
	m := testMailer(provider)

	if err := m.SendPasswordResetEmail(context.Background(), "pat@example.com", "Maria", "tok456"); err != nil {
		t.Fatalf("SendPasswordResetEmail: %v", err)
	}
	m.Wait()

	sent := provider.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sent))
	}
	if !strings.Contains(sent[0].Body, "https://portal.test/reset-password/tok456") {
		t.Errorf("body missing reset link: %q", sent[0].Body)
	}
}

func TestDeliverRetriesOnce(t *testing.T) {
	provider := NewMockProvider()
	provider.FailNext(1)
	m := testMailer(provider)

	err := m.deliver(context.Background(), Email{To: "pat@example.com", Subject: "s", Body: "b"})
	if err != nil {
		t.Fatalf("deliver should succeed on the second attempt: %v", err)
	}
	if len(provider.Sent()) != 1 {
		t.Errorf("sent %d emails, want 1", len(provider.Sent()))
	}
}

func TestDeliverGivesUpAfterRetry(t *testing.T) {
	provider := NewMockProvider()
	provider.FailNext(sendAttempts)
	m := testMailer(provider)

	err := m.deliver(context.Background(), Email{To: "pat@example.com"})
	if err == nil {
		t.Fatal("deliver should fail when all attempts fail")
	}
	if len(provider.Sent()) != 0 {
		t.Error("no email should be recorded as sent")
	}
}

func TestBuildMessageHeaders(t *testing.T) {
	msg := string(buildMessage("no-reply@portal.test", Email{
		To:      "pat@example.com",
		Subject: "Confirm your email address",
		Body:    "Hello",
	}))

	for _, want := range []string{
		"From: no-reply@portal.test\r\n",
		"To: pat@example.com\r\n",
		"Subject: Confirm your email address\r\n",
		"\r\n\r\nHello",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}
