package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/services"
)

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse describes the caller's session. Token is only returned by
// login, for clients that authenticate with a Bearer header.
type SessionResponse struct {
	OfficialID string    `json:"officialId"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Department string    `json:"department"`
	Role       string    `json:"role"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Token      string    `json:"token,omitempty"`
}

func toSessionResponse(s *models.AuthSession) SessionResponse {
	return SessionResponse{
		OfficialID: s.OfficialID,
		Email:      s.Email,
		Name:       s.Name,
		Department: s.Department,
		Role:       s.Role.String(),
		ExpiresAt:  s.ExpiresAt,
	}
}

// AuthHandler handles official login, logout and session lookup.
type AuthHandler struct {
	authService services.AuthService
	cookies     *auth.CookieManager
	logger      *zap.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService services.AuthService, cookies *auth.CookieManager, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cookies:     cookies,
		logger:      logger,
	}
}

// RegisterRoutes registers the auth handler's routes on the given mux.
func (h *AuthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("POST /logout", h.Logout)
	mux.HandleFunc("GET /session", h.Session)
}

// Login handles POST /login. On success the session token is set in an
// HTTP-only cookie and also returned in the body.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_parameters", "Email and password are required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, h.logger, "login", err)
		return
	}

	if err := h.cookies.SetToken(w, r, result.Token); err != nil {
		h.logger.Error("Failed to set session cookie", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	resp := toSessionResponse(result.Session)
	resp.Token = result.Token
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: resp}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Logout handles POST /logout. The cookie is cleared even when the session
// had already ended.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, _, err := auth.RequestToken(r, h.cookies)
	if err == nil {
		err = h.authService.Logout(r.Context(), token)
	}
	if clearErr := h.cookies.Clear(w, r); clearErr != nil {
		h.logger.Warn("Failed to clear session cookie", zap.Error(clearErr))
	}
	if err != nil {
		writeServiceError(w, h.logger, "logout", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Logged out"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Session handles GET /session.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	token, _, err := auth.RequestToken(r, h.cookies)
	if err != nil {
		writeServiceError(w, h.logger, "session", err)
		return
	}
	session, err := h.authService.Verify(r.Context(), token)
	if err != nil {
		writeServiceError(w, h.logger, "session", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: toSessionResponse(session)}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
