package accounts

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/oncoportal/platform/internal/shared/auth"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/types"
)

// Supported interface languages. The assistant answers in the user's
// preferred language.
const (
	LanguageEnglish = "en"
	LanguageSpanish = "es"
	LanguageFrench  = "fr"
	LanguageArabic  = "ar"
	LanguageHindi   = "hi"
)

var supportedLanguages = map[string]bool{
	LanguageEnglish: true,
	LanguageSpanish: true,
	LanguageFrench:  true,
	LanguageArabic:  true,
	LanguageHindi:   true,
}

// SupportedLanguage reports whether lang is a supported interface language.
func SupportedLanguage(lang string) bool {
	return supportedLanguages[lang]
}

// User is a portal account: a patient, a clinician, or an administrator.
type User struct {
	ID           types.ID `json:"id"`
	Email        string   `json:"email"`
	Username     string   `json:"username"`
	PasswordHash string   `json:"-"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Gender    string `json:"gender,omitempty"`
	Phone     string `json:"phone,omitempty"`

	Role     string `json:"role"`
	Language string `json:"language"`

	// Specialty is set for clinicians only.
	Specialty string `json:"specialty,omitempty"`
	// AssignedDoctorID is set for patients with an assigned clinician.
	AssignedDoctorID *types.ID `json:"assigned_doctor_id,omitempty"`

	EmailVerified bool `json:"email_verified"`
	IsActive      bool `json:"is_active"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// FullName returns the display name for the user.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// NewUser creates a user with the patient role and sane defaults.
// The password hash must already be computed by the service layer.
func NewUser(email, username, passwordHash, firstName, lastName string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.BadRequest("a valid email address is required")
	}
	if username == "" {
		username = email[:strings.Index(email, "@")]
	}

	now := time.Now().UTC()
	return &User{
		ID:           types.NewID(),
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		FirstName:    firstName,
		LastName:     lastName,
		Role:         auth.RolePatient,
		Language:     LanguageEnglish,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// EmailVerification is a single-use token mailed to a new account.
type EmailVerification struct {
	ID         types.ID   `json:"id"`
	UserID     types.ID   `json:"user_id"`
	Token      string     `json:"-"`
	ExpiresAt  time.Time  `json:"expires_at"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// IsExpired reports whether the verification window has passed.
func (v *EmailVerification) IsExpired() bool {
	return time.Now().After(v.ExpiresAt)
}

// NewEmailVerification issues a verification token for the user.
func NewEmailVerification(userID types.ID, ttl time.Duration) *EmailVerification {
	now := time.Now().UTC()
	return &EmailVerification{
		ID:        types.NewID(),
		UserID:    userID,
		Token:     generateToken(),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// PasswordReset is a single-use token for recovering account access.
type PasswordReset struct {
	ID        types.ID  `json:"id"`
	UserID    types.ID  `json:"user_id"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the reset window has passed.
func (p *PasswordReset) IsExpired() bool {
	return time.Now().After(p.ExpiresAt)
}

// NewPasswordReset issues a reset token for the user.
func NewPasswordReset(userID types.ID, ttl time.Duration) *PasswordReset {
	now := time.Now().UTC()
	return &PasswordReset{
		ID:        types.NewID(),
		UserID:    userID,
		Token:     generateToken(),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

// LoginAttempt records every login try, successful or not. Failed attempts
// feed the lockout check.
type LoginAttempt struct {
	ID         types.ID  `json:"id"`
	Email      string    `json:"email"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
	Successful bool      `json:"successful"`
	CreatedAt  time.Time `json:"created_at"`
}

// Doctor assignment request status values.
const (
	AssignmentPending  = "pending"
	AssignmentApproved = "approved"
	AssignmentRejected = "rejected"
)

// DoctorAssignmentRequest is a patient's request to be assigned to a
// clinician, reviewed by an administrator.
type DoctorAssignmentRequest struct {
	ID         types.ID   `json:"id"`
	PatientID  types.ID   `json:"patient_id"`
	DoctorID   types.ID   `json:"doctor_id"`
	Status     string     `json:"status"`
	Notes      string     `json:"notes,omitempty"`
	ReviewedBy *types.ID  `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// generateToken returns a 64-character hex token from 32 random bytes.
func generateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// SignupRequest is the payload for account creation.
type SignupRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Gender    string `json:"gender"`
	Phone     string `json:"phone"`
	Language  string `json:"language"`
}

// LoginRequest is the payload for authentication.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateProfileRequest is the payload for profile edits.
type UpdateProfileRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Gender    *string `json:"gender"`
	Phone     *string `json:"phone"`
	Language  *string `json:"language"`
}

// AdminUpdateUserRequest is the payload for administrator user edits.
type AdminUpdateUserRequest struct {
	Role      *string `json:"role"`
	IsActive  *bool   `json:"is_active"`
	Specialty *string `json:"specialty"`
}

// ListUsersFilter narrows the admin user listing.
type ListUsersFilter struct {
	Search string
	Role   string
	Page   int
}
