package accounts

import (
	"context"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/oncoportal/platform/internal/shared/auth"
	"github.com/oncoportal/platform/internal/shared/config"
	"github.com/oncoportal/platform/internal/shared/errors"
	"github.com/oncoportal/platform/internal/shared/events"
	"github.com/oncoportal/platform/internal/shared/metrics"
	"github.com/oncoportal/platform/internal/shared/types"
)

// dummyHash is a real bcrypt hash of a throwaway value. Login compares
// against it when no account matches the email, so the rejection takes as
// long as a genuine password check.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("timing-equalization"), bcrypt.DefaultCost)

// Mailer sends account lifecycle emails. Implemented by the notification
// service.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, to, name, token string) error
	SendPasswordResetEmail(ctx context.Context, to, name, token string) error
}

// Service implements account lifecycle operations: signup, verification,
// login with lockout, password recovery.
type Service struct {
	repo   *Repository
	issuer *auth.TokenIssuer
	mailer Mailer
	bus    events.EventBus
	cfg    config.AuthConfig
}

// NewService creates an accounts service
func NewService(repo *Repository, issuer *auth.TokenIssuer, mailer Mailer, bus events.EventBus, cfg config.AuthConfig) *Service {
	return &Service{repo: repo, issuer: issuer, mailer: mailer, bus: bus, cfg: cfg}
}

// Signup creates a patient account and mails a verification token.
func (s *Service) Signup(ctx context.Context, req SignupRequest, ip string) (*User, error) {
	if len(req.Password) < 8 {
		return nil, errors.Validation("password too short", map[string]string{
			"password": "must be at least 8 characters",
		})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash password")
	}

	user, err := NewUser(req.Email, req.Username, string(hash), req.FirstName, req.LastName)
	if err != nil {
		return nil, err
	}
	user.Gender = req.Gender
	user.Phone = req.Phone
	if req.Language != "" {
		if !SupportedLanguage(req.Language) {
			return nil, errors.BadRequest("unsupported language")
		}
		user.Language = req.Language
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	verification := NewEmailVerification(user.ID, s.cfg.VerifyTokenTTL)
	if err := s.repo.CreateVerification(ctx, verification); err != nil {
		return nil, err
	}

	if err := s.mailer.SendVerificationEmail(ctx, user.Email, user.FullName(), verification.Token); err != nil {
		// The account exists; the user can request a fresh token later.
		log.Printf("Failed to send verification email to %s: %v", user.Email, err)
	}

	s.publish(ctx, events.NewEvent("accounts.user.created", "accounts", map[string]any{
		"user_id": user.ID,
		"role":    user.Role,
	}).WithActor(user.ID, user.Role).WithActorIP(ip))

	return user, nil
}

// VerifyEmail consumes a verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*User, error) {
	v, err := s.repo.FindVerificationByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if v.VerifiedAt != nil {
		return nil, errors.Conflict("verification token already used")
	}
	if v.IsExpired() {
		return nil, errors.Conflict("verification token expired")
	}

	if err := s.repo.MarkVerified(ctx, v); err != nil {
		return nil, err
	}

	user, err := s.repo.FindUserByID(ctx, v.UserID)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.NewEvent("accounts.user.verified", "accounts", map[string]any{
		"user_id": user.ID,
	}).WithActor(user.ID, user.Role))

	return user, nil
}

// LoginResult carries the outcome of a successful authentication.
type LoginResult struct {
	User      *User         `json:"user"`
	Token     string        `json:"token"`
	SessionID string        `json:"session_id"`
	ExpiresIn time.Duration `json:"expires_in"`
}

// Login authenticates a user. Every attempt is recorded; five failures from
// the same email and IP inside the lockout window reject further attempts.
// Responses never reveal whether the email exists.
func (s *Service) Login(ctx context.Context, req LoginRequest, ip, userAgent string) (*LoginResult, error) {
	failures, err := s.repo.CountRecentFailures(ctx, req.Email, ip, s.cfg.LockoutWindow)
	if err != nil {
		return nil, err
	}
	if failures >= s.cfg.LockoutAttempts {
		s.recordAttempt(ctx, req.Email, ip, userAgent, false)
		return nil, errors.TooManyRequests("too many failed login attempts, try again later")
	}

	user, err := s.repo.FindUserByEmail(ctx, req.Email)
	if err != nil {
		// Burn a comparison so missing and existing accounts take
		// similar time.
		bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
		s.recordAttempt(ctx, req.Email, ip, userAgent, false)
		return nil, errors.Unauthorized("invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordAttempt(ctx, req.Email, ip, userAgent, false)
		return nil, errors.Unauthorized("invalid email or password")
	}

	if !user.IsActive {
		s.recordAttempt(ctx, req.Email, ip, userAgent, false)
		return nil, errors.Forbidden("account is deactivated")
	}
	if !user.EmailVerified {
		s.recordAttempt(ctx, req.Email, ip, userAgent, false)
		return nil, errors.Forbidden("email address not verified")
	}

	token, sessionID, err := s.issuer.Issue(user.ID, user.Email, user.Role, user.EmailVerified)
	if err != nil {
		return nil, errors.Wrap(err, "failed to issue token")
	}

	now := time.Now().UTC()
	user.LastLoginAt = &now
	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	s.recordAttempt(ctx, req.Email, ip, userAgent, true)
	s.publish(ctx, events.NewEvent("accounts.user.login", "accounts", map[string]any{
		"user_id":    user.ID,
		"session_id": sessionID,
	}).WithActor(user.ID, user.Role).WithActorIP(ip))

	return &LoginResult{
		User:      user,
		Token:     token,
		SessionID: sessionID,
		ExpiresIn: s.issuer.TTL(),
	}, nil
}

// Logout publishes the logout event; the stateless JWT expires on its own.
func (s *Service) Logout(ctx context.Context, user *auth.User, ip string) {
	s.publish(ctx, events.NewEvent("accounts.user.logout", "accounts", map[string]any{
		"user_id":    user.ID,
		"session_id": user.SessionID,
	}).WithActor(user.ID, user.Role).WithActorIP(ip))
}

// RequestPasswordReset issues a reset token if the account exists. It never
// reports whether it does.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) {
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return
	}

	reset := NewPasswordReset(user.ID, s.cfg.ResetTokenTTL)
	if err := s.repo.CreatePasswordReset(ctx, reset); err != nil {
		log.Printf("Failed to store password reset for %s: %v", email, err)
		return
	}

	if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, user.FullName(), reset.Token); err != nil {
		log.Printf("Failed to send password reset email to %s: %v", email, err)
	}

	s.publish(ctx, events.NewEvent("accounts.password.reset_requested", "accounts", map[string]any{
		"user_id": user.ID,
	}).WithActor(user.ID, user.Role))
}

// CompletePasswordReset consumes a reset token and sets the new password.
func (s *Service) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < 8 {
		return errors.Validation("password too short", map[string]string{
			"password": "must be at least 8 characters",
		})
	}

	reset, err := s.repo.FindResetByToken(ctx, token)
	if err != nil {
		return err
	}
	if reset.Used {
		return errors.Conflict("reset token already used")
	}
	if reset.IsExpired() {
		return errors.Conflict("reset token expired")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "failed to hash password")
	}

	if err := s.repo.CompletePasswordReset(ctx, reset, string(hash)); err != nil {
		return err
	}

	s.publish(ctx, events.NewEvent("accounts.password.reset_completed", "accounts", map[string]any{
		"user_id": reset.UserID,
	}).WithActor(reset.UserID, ""))

	return nil
}

// UpdateProfile applies profile edits for the authenticated user.
func (s *Service) UpdateProfile(ctx context.Context, userID types.ID, req UpdateProfileRequest) (*User, error) {
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.FirstName != nil {
		user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		user.LastName = *req.LastName
	}
	if req.Gender != nil {
		user.Gender = *req.Gender
	}
	if req.Phone != nil {
		user.Phone = *req.Phone
	}
	if req.Language != nil {
		if !SupportedLanguage(*req.Language) {
			return nil, errors.BadRequest("unsupported language")
		}
		user.Language = *req.Language
	}

	if err := s.repo.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	s.publish(ctx, events.NewEvent("accounts.user.updated", "accounts", map[string]any{
		"user_id": user.ID,
	}).WithActor(user.ID, user.Role))

	return user, nil
}

func (s *Service) recordAttempt(ctx context.Context, email, ip, userAgent string, successful bool) {
	attempt := &LoginAttempt{
		ID:         types.NewID(),
		Email:      email,
		IP:         ip,
		UserAgent:  userAgent,
		Successful: successful,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.RecordLoginAttempt(ctx, attempt); err != nil {
		log.Printf("Failed to record login attempt: %v", err)
	}
	metrics.RecordLoginAttempt(successful)
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish %s: %v", event.Type, err)
	}
}
