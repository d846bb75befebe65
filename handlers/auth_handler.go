package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/windfire/security-auth/keycloak"
	"github.com/windfire/security-auth/middleware"
	"github.com/windfire/security-auth/services"
	"github.com/windfire/security-auth/utils"
	"go.uber.org/zap"
)

// AuthService is the subset of services.AuthService used by the handlers
type AuthService interface {
	Authenticate(ctx context.Context, service, username, password string) (*keycloak.TokenResponse, error)
	ServiceToken(ctx context.Context, service string) (*keycloak.TokenResponse, error)
	Refresh(ctx context.Context, service, refreshToken string) (*keycloak.TokenResponse, error)
	Logout(ctx context.Context, service, refreshToken string) error
	UserInfo(ctx context.Context, service, accessToken string) (keycloak.Claims, error)
	Verify(ctx context.Context, service, token, method string) (*services.VerifyResult, error)
	Introspect(ctx context.Context, service, token string) (*keycloak.IntrospectionResult, error)
}

// AuthRequest is the body of POST /v1/security/auth
type AuthRequest struct {
	Username string `json:"username" validate:"required,notblank"`
	Password string `json:"password" validate:"required"`
	Service  string `json:"service" validate:"required,notblank"`
}

// ServiceRequest names the service a bearer token belongs to
type ServiceRequest struct {
	Service string `json:"service" validate:"required,notblank"`
}

// VerifyRequest is the body of POST /v1/security/verify
type VerifyRequest struct {
	Service string `json:"service" validate:"required,notblank"`
	Method  string `json:"method,omitempty" validate:"omitempty,oneof=local introspect"`
}

// RefreshRequest carries a refresh token for refresh and logout
type RefreshRequest struct {
	Service      string `json:"service" validate:"required,notblank"`
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// TokenResponse is the token set returned to clients
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	Scope            string `json:"scope,omitempty"`
}

// VerifyResponse is returned for a valid token
type VerifyResponse struct {
	Status string `json:"status"`
}

func newTokenResponse(t *keycloak.TokenResponse) TokenResponse {
	return TokenResponse{
		AccessToken:      t.AccessToken,
		TokenType:        "Bearer",
		ExpiresIn:        t.ExpiresIn,
		RefreshToken:     t.RefreshToken,
		RefreshExpiresIn: t.RefreshExpiresIn,
		Scope:            t.Scope,
	}
}

// AuthHandler serves the /v1/security endpoints
type AuthHandler struct {
	service AuthService
	logger  *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		logger:  logger,
	}
}

// HandleAuthenticate handles POST /v1/security/auth
func (h *AuthHandler) HandleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthRequest
	if !h.decode(w, r, &req) {
		return
	}

	tokens, err := h.service.Authenticate(r.Context(), req.Service, req.Username, req.Password)
	if err != nil {
		switch {
		case services.IsUnauthorizedError(err):
			w.Header().Set("WWW-Authenticate", "Bearer")
			_ = utils.WriteUnauthorized(w, r, "Invalid username or password")
		case services.IsExternalError(err), services.IsNotFoundError(err):
			HandleServiceError(w, r, err, h.logger)
		default:
			h.logger.Error("authentication error", zap.Error(err))
			_ = utils.WriteInternalServerError(w, r, "Authentication error")
		}
		return
	}

	h.writeTokens(w, tokens)
}

// HandleVerify handles POST /v1/security/verify
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	token := middleware.GetBearerTokenFromContext(r.Context())
	if _, err := h.service.Verify(r.Context(), req.Service, token, req.Method); err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, VerifyResponse{Status: "valid"}); err != nil {
		h.logger.Error("failed to write verify response", zap.Error(err))
	}
}

// HandleIntrospect handles POST /v1/security/introspect
func (h *AuthHandler) HandleIntrospect(w http.ResponseWriter, r *http.Request) {
	var req ServiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	token := middleware.GetBearerTokenFromContext(r.Context())
	result, err := h.service.Introspect(r.Context(), req.Service, token)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("failed to write introspection response", zap.Error(err))
	}
}

// HandleRefresh handles POST /v1/security/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.Service, req.RefreshToken)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	h.writeTokens(w, tokens)
}

// HandleLogout handles POST /v1/security/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.service.Logout(r.Context(), req.Service, req.RefreshToken); err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	utils.WriteNoContent(w)
}

// HandleServiceToken handles POST /v1/security/service-token
func (h *AuthHandler) HandleServiceToken(w http.ResponseWriter, r *http.Request) {
	var req ServiceRequest
	if !h.decode(w, r, &req) {
		return
	}

	tokens, err := h.service.ServiceToken(r.Context(), req.Service)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	h.writeTokens(w, tokens)
}

// HandleUserInfo handles GET /v1/security/userinfo?service=
func (h *AuthHandler) HandleUserInfo(w http.ResponseWriter, r *http.Request) {
	req := ServiceRequest{Service: strings.TrimSpace(r.URL.Query().Get("service"))}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, r, err, h.logger)
		return
	}

	token := middleware.GetBearerTokenFromContext(r.Context())
	claims, err := h.service.UserInfo(r.Context(), req.Service, token)
	if err != nil {
		HandleServiceError(w, r, err, h.logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, claims); err != nil {
		h.logger.Error("failed to write userinfo response", zap.Error(err))
	}
}

// decode reads and validates the request body, writing a 400 on failure
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := utils.DecodeJSON(r, v); err != nil {
		h.logger.Debug("invalid request body", zap.String("path", r.URL.Path), zap.Error(err))
		HandleValidationError(w, r, err, h.logger)
		return false
	}
	if err := utils.ValidateStruct(v); err != nil {
		HandleValidationError(w, r, err, h.logger)
		return false
	}
	return true
}

func (h *AuthHandler) writeTokens(w http.ResponseWriter, tokens *keycloak.TokenResponse) {
	if err := utils.WriteJSON(w, http.StatusOK, newTokenResponse(tokens)); err != nil {
		h.logger.Error("failed to write token response", zap.Error(err))
	}
}
