package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for onboarding tokens that fail verification.
var ErrInvalidToken = errors.New("invalid onboarding token")

const tokenIssuer = "chat-widget/after-checkout"

// OnboardingClaims bind an onboarding form to the checkout session that
// rendered it.
type OnboardingClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Email     string `json:"email"`
	Plan      string `json:"plan"`
}

// TokenIssuer signs and verifies HS256 onboarding tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. An empty secret makes every token invalid.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for the given session.
func (t *TokenIssuer) Issue(sessionID, email, plan string) (string, error) {
	if len(t.secret) == 0 {
		return "", errors.New("onboarding token secret is not configured")
	}

	now := t.now()
	claims := OnboardingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		SessionID: sessionID,
		Email:     email,
		Plan:      plan,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign onboarding token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry and issuer and that the token was
// issued for sessionID.
func (t *TokenIssuer) Verify(token, sessionID string) (*OnboardingClaims, error) {
	if len(t.secret) == 0 || token == "" {
		return nil, ErrInvalidToken
	}

	claims := &OnboardingClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.SessionID != sessionID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
