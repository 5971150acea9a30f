package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// Denial reasons recorded in audit metadata.
const (
	ReasonDomainNotAllowed   = "domain_not_allowed"
	ReasonUnknownOfficial    = "unknown_official"
	ReasonInvalidPassword    = "invalid_password"
	ReasonMissingCredentials = "missing_credentials"
	ReasonInvalidToken       = "invalid_token"
	ReasonSessionExpired     = "session_expired"
	ReasonInsufficientRole   = "insufficient_role"
	ReasonScreening          = "screening"
)

// LoginResult is an opened session and the token that refers to it.
type LoginResult struct {
	Session *models.AuthSession
	Token   string
}

// AuthService authenticates officials and gates role-restricted actions.
// Every login, logout and denial is audited exactly once.
type AuthService interface {
	// Login checks the email domain allow-list before any password
	// comparison, then the roster password hash.
	Login(ctx context.Context, email, password string) (*LoginResult, error)

	// Logout ends the session behind token.
	Logout(ctx context.Context, token string) error

	// Verify resolves a token to its live session without auditing.
	Verify(ctx context.Context, token string) (*models.AuthSession, error)

	// AuthorizeToken verifies token and requires role >= required for action.
	AuthorizeToken(ctx context.Context, token string, required models.Role, action models.AuditAction) (*models.AuthSession, error)

	auth.Authorizer
}

// AuthServiceDeps bundles AuthService collaborators.
type AuthServiceDeps struct {
	Roster    *auth.Roster
	AllowList *auth.DomainAllowList
	Sessions  *auth.SessionStore
	Tokens    *auth.TokenIssuer
	Cookies   *auth.CookieManager
	Passwords auth.PasswordChecker
	Audit     AuditService
}

type authService struct {
	roster    *auth.Roster
	allowList *auth.DomainAllowList
	sessions  *auth.SessionStore
	tokens    *auth.TokenIssuer
	cookies   *auth.CookieManager
	passwords auth.PasswordChecker
	audit     AuditService
	logger    *zap.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(deps AuthServiceDeps, logger *zap.Logger) AuthService {
	passwords := deps.Passwords
	if passwords == nil {
		passwords = auth.BcryptChecker{}
	}
	return &authService{
		roster:    deps.Roster,
		allowList: deps.AllowList,
		sessions:  deps.Sessions,
		tokens:    deps.Tokens,
		cookies:   deps.Cookies,
		passwords: passwords,
		audit:     deps.Audit,
		logger:    logger.Named("auth-service"),
	}
}

var _ AuthService = (*authService)(nil)

func (s *authService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if !s.allowList.Allows(email) {
		s.recordDenial(ctx, nil, email, models.AuditActionLogin, ReasonDomainNotAllowed, nil)
		return nil, fmt.Errorf("%w: %s", apperrors.ErrDomainNotAllowed, auth.EmailDomain(email))
	}

	official, ok := s.roster.Lookup(email)
	if !ok {
		s.recordDenial(ctx, nil, email, models.AuditActionLogin, ReasonUnknownOfficial, nil)
		return nil, apperrors.ErrInvalidCredentials
	}

	if err := s.passwords.Compare(official.PasswordHash, password); err != nil {
		s.recordDenial(ctx, nil, official.Email, models.AuditActionLogin, ReasonInvalidPassword,
			map[string]any{"officialId": official.ID})
		return nil, apperrors.ErrInvalidCredentials
	}

	session := s.sessions.Create(official)
	token, err := s.tokens.Issue(session)
	if err != nil {
		s.sessions.Delete(session.ID)
		return nil, err
	}

	entry := withResource(newAuditEntry(session, models.AuditActionLogin, models.AuditOutcomeSuccess),
		models.AuditResourceSession, session.ID)
	entry.Metadata["role"] = session.Role.String()
	if err := s.audit.Record(ctx, entry); err != nil {
		s.sessions.Delete(session.ID)
		return nil, err
	}

	s.logger.Info("Official logged in",
		zap.String("official_id", session.OfficialID),
		zap.String("role", session.Role.String()))
	return &LoginResult{Session: session, Token: token}, nil
}

func (s *authService) Logout(ctx context.Context, token string) error {
	session, err := s.resolve(token)
	if err != nil {
		s.recordDenial(ctx, nil, "", models.AuditActionLogout, denialReason(err), nil)
		return err
	}

	s.sessions.Delete(session.ID)
	entry := withResource(newAuditEntry(session, models.AuditActionLogout, models.AuditOutcomeSuccess),
		models.AuditResourceSession, session.ID)
	return s.audit.Record(ctx, entry)
}

func (s *authService) Verify(_ context.Context, token string) (*models.AuthSession, error) {
	return s.resolve(token)
}

func (s *authService) AuthorizeToken(ctx context.Context, token string, required models.Role, action models.AuditAction) (*models.AuthSession, error) {
	session, err := s.resolve(token)
	if err != nil {
		s.recordDenial(ctx, nil, "", action, denialReason(err), map[string]any{"requiredRole": required.String()})
		return nil, err
	}

	if !session.Role.AtLeast(required) {
		s.recordDenial(ctx, session, session.Email, action, ReasonInsufficientRole, map[string]any{
			"requiredRole": required.String(),
			"role":         session.Role.String(),
		})
		return nil, fmt.Errorf("%w: %s requires %s", apperrors.ErrForbidden, action, required)
	}
	return session, nil
}

func (s *authService) Authorize(r *http.Request, required models.Role, action models.AuditAction) (*models.AuthSession, string, error) {
	ctx := r.Context()
	token, _, err := auth.RequestToken(r, s.cookies)
	if err != nil {
		s.recordDenial(ctx, nil, "", action, ReasonMissingCredentials, map[string]any{
			"requiredRole": required.String(),
			"path":         r.URL.Path,
		})
		return nil, "", err
	}

	session, err := s.AuthorizeToken(ctx, token, required, action)
	if err != nil {
		return nil, "", err
	}
	return session, token, nil
}

// resolve parses token and loads its live session.
func (s *authService) resolve(token string) (*models.AuthSession, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", apperrors.ErrUnauthorized)
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		if claims != nil && errors.Is(err, apperrors.ErrSessionExpired) {
			s.sessions.Delete(claims.SessionID)
		}
		return nil, err
	}
	session, err := s.sessions.Verify(claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session.OfficialID != claims.Subject {
		return nil, fmt.Errorf("%w: token does not match session", apperrors.ErrUnauthorized)
	}
	return session, nil
}

// recordDenial audits a denied attempt. A failed write is logged; the
// caller still sees the denial.
func (s *authService) recordDenial(ctx context.Context, session *models.AuthSession, email string, action models.AuditAction, reason string, extra map[string]any) {
	entry := newAuditEntry(session, action, models.AuditOutcomeDenied)
	if entry.OfficialEmail == "" {
		entry.OfficialEmail = email
	}
	entry.Metadata["reason"] = reason
	for k, v := range extra {
		entry.Metadata[k] = v
	}
	if officialID, ok := extra["officialId"].(string); ok && entry.OfficialID == "" {
		entry.OfficialID = officialID
		delete(entry.Metadata, "officialId")
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("Failed to audit denied attempt",
			zap.String("action", string(action)),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

func denialReason(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrSessionExpired):
		return ReasonSessionExpired
	case errors.Is(err, apperrors.ErrForbidden):
		return ReasonInsufficientRole
	default:
		return ReasonInvalidToken
	}
}
