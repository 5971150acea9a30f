package auth

import (
	"crypto/sha256"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/sessions"

	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// CookieName is the name of the HTTP-only session cookie.
const CookieName = "evidence_session"

// cookieKeyToken is the value key holding the session token inside the cookie.
const cookieKeyToken = "token"

// CookieSettings contains cookie security settings derived from base URL.
type CookieSettings struct {
	// Secure indicates whether the cookie should only be sent over HTTPS.
	Secure bool
	// Domain is the cookie domain scope. Empty means host-only.
	Domain string
}

// DeriveCookieSettings determines cookie security settings from base URL.
//   - http://localhost:3443 → Secure: false, Domain: ""
//   - https://evidence.example.gov → Secure: true, Domain: ""
//
// The configCookieDomain parameter allows explicit override if needed.
func DeriveCookieSettings(baseURL string, configCookieDomain string) CookieSettings {
	if configCookieDomain != "" {
		return CookieSettings{
			Secure: isHTTPS(baseURL),
			Domain: configCookieDomain,
		}
	}
	return CookieSettings{Secure: isHTTPS(baseURL)}
}

// isHTTPS determines if the given base URL uses HTTPS protocol.
// Returns true for HTTPS, false for HTTP, true for empty/invalid URLs (safe default).
func isHTTPS(baseURL string) bool {
	if baseURL == "" {
		return true
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return true
	}

	return parsedURL.Scheme != "http"
}

// CookieManager carries session tokens in a signed, HTTP-only cookie.
type CookieManager struct {
	store *sessions.CookieStore
}

// NewCookieManager creates a cookie manager.
//
// The secret parameter is used to sign session cookies. It can be any
// passphrase - it will be SHA-256 hashed to derive a 32-byte key.
// The secret must be consistent across server restarts and multiple
// servers in a load-balanced deployment.
//
// Security settings:
// - HttpOnly: true (inaccessible to JavaScript)
// - Secure: from settings (HTTPS only in production)
// - SameSite: Strict (prevents CSRF)
// - MaxAge: the fixed session lifetime
func NewCookieManager(secret string, settings CookieSettings) *CookieManager {
	key := sha256.Sum256([]byte(secret))

	store := sessions.NewCookieStore(key[:])
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   settings.Domain,
		MaxAge:   int(models.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   settings.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	return &CookieManager{store: store}
}

// SetToken writes token into the session cookie.
func (m *CookieManager) SetToken(w http.ResponseWriter, r *http.Request, token string) error {
	session, _ := m.store.Get(r, CookieName) // a bad cookie yields a fresh session
	session.Values[cookieKeyToken] = token
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session cookie: %w", err)
	}
	return nil
}

// Token returns the token stored in the request's session cookie, if any.
func (m *CookieManager) Token(r *http.Request) (string, bool) {
	if _, err := r.Cookie(CookieName); err != nil {
		return "", false
	}
	session, err := m.store.Get(r, CookieName)
	if err != nil {
		return "", false
	}
	token, ok := session.Values[cookieKeyToken].(string)
	return token, ok && token != ""
}

// Clear expires the session cookie.
func (m *CookieManager) Clear(w http.ResponseWriter, r *http.Request) error {
	session, _ := m.store.Get(r, CookieName)
	delete(session.Values, cookieKeyToken)
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to clear session cookie: %w", err)
	}
	return nil
}
