package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oncoportal/platform/internal/shared/config"
	"github.com/oncoportal/platform/internal/shared/types"
)

// TokenIssuer signs access tokens for authenticated portal users.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a token issuer from auth config.
func NewTokenIssuer(cfg config.AuthConfig) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.AccessTokenTTL,
	}
}

// Issue creates a signed access token for the user. Each login gets a fresh
// session ID so audit entries from one browser session can be correlated.
func (t *TokenIssuer) Issue(userID types.ID, email, role string, emailVerified bool) (string, string, error) {
	sessionID := types.NewID().String()
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    "oncoportal",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		Email:         email,
		Role:          role,
		EmailVerified: emailVerified,
		SessionID:     sessionID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", "", err
	}

	return signed, sessionID, nil
}

// TTL returns the configured access token lifetime.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}
