// Package auth provides session tokens, cookies, the officials roster and
// role-checking middleware for evidence-engine.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// TokenIssuerName is the iss claim of every session token.
const TokenIssuerName = "evidence-engine"

// Claims is the payload of a session token. The token only points at a
// server-side session; role and expiry are re-checked against the session store.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer. The secret must be non-empty.
func NewTokenIssuer(secret []byte) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("session secret must not be empty")
	}
	return &TokenIssuer{secret: secret, now: time.Now}, nil
}

// Issue returns a signed token for session that expires with it.
func (i *TokenIssuer) Issue(session *models.AuthSession) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuerName,
			Subject:   session.OfficialID,
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			ID:        session.ID,
		},
		SessionID: session.ID,
		Email:     session.Email,
		Role:      session.Role.String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token's signature, algorithm, issuer and expiry.
// Expired tokens return apperrors.ErrSessionExpired together with their
// otherwise valid claims, so the caller can drop the session; anything else
// invalid returns apperrors.ErrUnauthorized and nil claims.
func (i *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	claims, err := i.parse(tokenString)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			// Only hand back claims whose signature checks out.
			if expired, verr := i.parse(tokenString, jwt.WithoutClaimsValidation()); verr == nil {
				return expired, fmt.Errorf("%w: token expired", apperrors.ErrSessionExpired)
			}
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: token has no session id", apperrors.ErrUnauthorized)
	}
	return claims, nil
}

func (i *TokenIssuer) parse(tokenString string, extra ...jwt.ParserOption) (*Claims, error) {
	opts := append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}, extra...)

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil }, opts...); err != nil {
		return nil, err
	}
	return claims, nil
}
