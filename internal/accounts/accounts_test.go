package accounts

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/oncoportal/platform/internal/shared/auth"
	"github.com/oncoportal/platform/internal/shared/types"
)

func TestDummyHashIsWellFormed(t *testing.T) {
	if len(dummyHash) == 0 {
		t.Fatal("dummy hash was not generated")
	}
	// A malformed hash would fail with a format error before doing any key
	// derivation work, which defeats the timing equalization in Login.
	err := bcrypt.CompareHashAndPassword(dummyHash, []byte("wrong password"))
	if err != bcrypt.ErrMismatchedHashAndPassword {
		t.Errorf("comparison error = %v, want ErrMismatchedHashAndPassword", err)
	}
	if _, err := bcrypt.Cost(dummyHash); err != nil {
		t.Errorf("cost: %v", err)
	}
}

func TestNewUser(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		username string
		wantErr  bool
		wantUser string
	}{
		{"valid", "Jane.Doe@Example.com", "jane", false, "jane"},
		{"username derived from email", "jane.doe@example.com", "", false, "jane.doe"},
		{"missing email", "", "jane", true, ""},
		{"not an email", "jane.doe", "jane", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := NewUser(tt.email, tt.username, "hash", "Jane", "Doe")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if u.Email != strings.ToLower(tt.email) {
				t.Errorf("email = %q, want lowercased %q", u.Email, tt.email)
			}
			if u.Username != tt.wantUser {
				t.Errorf("username = %q, want %q", u.Username, tt.wantUser)
			}
			if u.Role != auth.RolePatient {
				t.Errorf("role = %q, want patient default", u.Role)
			}
			if u.Language != LanguageEnglish {
				t.Errorf("language = %q, want en default", u.Language)
			}
			if !u.IsActive {
				t.Error("new user should be active")
			}
			if u.EmailVerified {
				t.Error("new user should not be verified")
			}
		})
	}
}

func TestUserFullName(t *testing.T) {
	tests := []struct {
		first, last, username, want string
	}{
		{"Jane", "Doe", "jdoe", "Jane Doe"},
		{"Jane", "", "jdoe", "Jane"},
		{"", "", "jdoe", "jdoe"},
	}

	for _, tt := range tests {
		u := &User{FirstName: tt.first, LastName: tt.last, Username: tt.username}
		if got := u.FullName(); got != tt.want {
			t.Errorf("FullName() = %q, want %q", got, tt.want)
		}
	}
}

func TestSupportedLanguage(t *testing.T) {
	for _, lang := range []string{"en", "es", "fr", "ar", "hi"} {
		if !SupportedLanguage(lang) {
			t.Errorf("language %q should be supported", lang)
		}
	}
	for _, lang := range []string{"", "de", "EN", "english"} {
		if SupportedLanguage(lang) {
			t.Errorf("language %q should not be supported", lang)
		}
	}
}

func TestGenerateToken(t *testing.T) {
	a := generateToken()
	b := generateToken()

	if len(a) != 64 {
		t.Errorf("token length = %d, want 64", len(a))
	}
	if a == b {
		t.Error("consecutive tokens should differ")
	}
	for _, c := range a {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("token contains non-hex character %q", c)
		}
	}
}

func TestEmailVerificationExpiry(t *testing.T) {
	userID := types.NewID()

	fresh := NewEmailVerification(userID, 48*time.Hour)
	if fresh.IsExpired() {
		t.Error("fresh verification should not be expired")
	}
	if fresh.VerifiedAt != nil {
		t.Error("fresh verification should not be verified")
	}

	stale := NewEmailVerification(userID, -time.Minute)
	if !stale.IsExpired() {
		t.Error("verification past its TTL should be expired")
	}
}

func TestPasswordResetExpiry(t *testing.T) {
	userID := types.NewID()

	fresh := NewPasswordReset(userID, 24*time.Hour)
	if fresh.IsExpired() {
		t.Error("fresh reset should not be expired")
	}
	if fresh.Used {
		t.Error("fresh reset should not be used")
	}

	stale := NewPasswordReset(userID, -time.Minute)
	if !stale.IsExpired() {
		t.Error("reset past its TTL should be expired")
	}
}
