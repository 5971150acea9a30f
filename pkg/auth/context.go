package auth

import (
	"context"

	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// SessionKey is the context key for the authenticated official's session.
	SessionKey contextKey = "session"
	// TokenKey is the context key for the raw session token.
	TokenKey contextKey = "token"
)

// WithSession returns ctx carrying session and its token.
func WithSession(ctx context.Context, session *models.AuthSession, token string) context.Context {
	ctx = context.WithValue(ctx, SessionKey, session)
	return context.WithValue(ctx, TokenKey, token)
}

// GetSession retrieves the authenticated session from the context.
// Returns nil and false if the request is anonymous.
func GetSession(ctx context.Context) (*models.AuthSession, bool) {
	session, ok := ctx.Value(SessionKey).(*models.AuthSession)
	return session, ok && session != nil
}

// GetToken retrieves the raw session token from the context.
func GetToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(TokenKey).(string)
	return token, ok && token != ""
}

// GetOfficialIDFromContext returns the official id of the session in ctx,
// or "" for anonymous requests.
func GetOfficialIDFromContext(ctx context.Context) string {
	session, ok := GetSession(ctx)
	if !ok {
		return ""
	}
	return session.OfficialID
}
