package services

import (
	"context"
	"time"

	"github.com/windfire/security-auth/config"
	"github.com/windfire/security-auth/internal/observability"
	"github.com/windfire/security-auth/keycloak"
	"github.com/windfire/security-auth/middleware"
	"github.com/windfire/security-auth/models"
	"github.com/windfire/security-auth/registry"
	"github.com/windfire/security-auth/services/audit"
	"go.uber.org/zap"
)

// VerifyResult describes a verified access token
type VerifyResult struct {
	Service string          `json:"service"`
	Method  string          `json:"method"`
	Active  bool            `json:"active"`
	Claims  keycloak.Claims `json:"claims"`
}

// AuthService resolves services in the registry and runs the identity
// provider operations for them. Every call looks the service up again and
// builds a fresh token client, so concurrent requests share no token state.
type AuthService struct {
	registry      *registry.Registry
	keycloak      keycloak.Config
	verifier      *keycloak.Verifier
	introspector  *keycloak.Introspector
	defaultMethod string
	metrics       *observability.Metrics
	recorder      *audit.Recorder
	logger        *zap.Logger
}

// NewAuthService creates an AuthService. reg is required; metrics and
// recorder may be nil.
func NewAuthService(
	reg *registry.Registry,
	kc keycloak.Config,
	defaultMethod string,
	metrics *observability.Metrics,
	recorder *audit.Recorder,
	logger *zap.Logger,
) *AuthService {
	if reg == nil {
		panic("services: NewAuthService requires a registry")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if kc.Logger == nil {
		kc.Logger = logger
	}
	if defaultMethod == "" {
		defaultMethod = config.VerifyMethodLocal
	}
	metrics.SetRegisteredServices(reg.Len())

	return &AuthService{
		registry:      reg,
		keycloak:      kc,
		verifier:      keycloak.NewVerifier(kc),
		introspector:  keycloak.NewIntrospector(kc),
		defaultMethod: defaultMethod,
		metrics:       metrics,
		recorder:      recorder,
		logger:        logger,
	}
}

// Services returns the configured service names
func (s *AuthService) Services() []string {
	return s.registry.List()
}

// Authenticate runs the password grant for a user of the named service
func (s *AuthService) Authenticate(ctx context.Context, service, username, password string) (*keycloak.TokenResponse, error) {
	start := time.Now()
	svc, client, err := s.client(service)
	if err == nil {
		var tokens *keycloak.TokenResponse
		tokens, err = client.AuthenticateWithPassword(ctx, username, password)
		if err == nil {
			s.logger.Info("user authenticated",
				zap.String("username", username),
				zap.String("service", svc.Name))
			s.observe(ctx, models.AuthActionPasswordGrant, service, username, start, nil)
			return tokens, nil
		}
	}

	s.logger.Warn("user authentication failed",
		zap.String("username", username),
		zap.String("service", service),
		zap.Error(err))
	return nil, s.fail(ctx, models.AuthActionPasswordGrant, service, username, start, err)
}

// ServiceToken runs the client credentials grant for the named service
func (s *AuthService) ServiceToken(ctx context.Context, service string) (*keycloak.TokenResponse, error) {
	start := time.Now()
	svc, client, err := s.client(service)
	if err == nil {
		var tokens *keycloak.TokenResponse
		tokens, err = client.AuthenticateAsService(ctx)
		if err == nil {
			s.observe(ctx, models.AuthActionServiceGrant, service, svc.ClientID, start, nil)
			return tokens, nil
		}
	}
	return nil, s.fail(ctx, models.AuthActionServiceGrant, service, svc.ClientID, start, err)
}

// Refresh exchanges a refresh token for a new token pair
func (s *AuthService) Refresh(ctx context.Context, service, refreshToken string) (*keycloak.TokenResponse, error) {
	start := time.Now()
	_, client, err := s.client(service)
	if err == nil {
		var tokens *keycloak.TokenResponse
		tokens, err = client.Refresh(ctx, refreshToken)
		if err == nil {
			s.observe(ctx, models.AuthActionRefresh, service, "", start, nil)
			return tokens, nil
		}
	}
	return nil, s.fail(ctx, models.AuthActionRefresh, service, "", start, err)
}

// Logout revokes a refresh token. An empty token is a no-op.
func (s *AuthService) Logout(ctx context.Context, service, refreshToken string) error {
	start := time.Now()
	_, client, err := s.client(service)
	if err == nil {
		if err = client.Logout(ctx, refreshToken); err == nil {
			s.observe(ctx, models.AuthActionLogout, service, "", start, nil)
			return nil
		}
	}
	return s.fail(ctx, models.AuthActionLogout, service, "", start, err)
}

// UserInfo returns the provider's userinfo claims for an access token
func (s *AuthService) UserInfo(ctx context.Context, service, accessToken string) (keycloak.Claims, error) {
	start := time.Now()
	_, client, err := s.client(service)
	if err == nil {
		var claims keycloak.Claims
		claims, err = client.UserInfo(ctx, accessToken)
		if err == nil {
			s.observe(ctx, models.AuthActionUserInfo, service, subjectOf(claims), start, nil)
			return claims, nil
		}
	}
	return nil, s.fail(ctx, models.AuthActionUserInfo, service, "", start, err)
}

// Verify checks an access token for the named service. method is "local"
// (signature check against the realm keys) or "introspect" (ask the
// provider); empty selects the configured default.
func (s *AuthService) Verify(ctx context.Context, service, token, method string) (*VerifyResult, error) {
	if method == "" {
		method = s.defaultMethod
	}

	switch method {
	case config.VerifyMethodLocal:
		return s.verifyLocal(ctx, service, token)
	case config.VerifyMethodIntrospect:
		return s.verifyRemote(ctx, service, token)
	default:
		return nil, NewDomainError(ErrorTypeValidation, "unsupported verification method: "+method, nil).
			WithDetail("method", "method must be one of: local introspect")
	}
}

func (s *AuthService) verifyLocal(ctx context.Context, service, token string) (*VerifyResult, error) {
	start := time.Now()
	svc, err := s.registry.Get(service)
	if err == nil {
		var claims keycloak.Claims
		claims, err = s.verifier.VerifyLocal(ctx, token, svc)
		if err == nil {
			s.observe(ctx, models.AuthActionVerifyLocal, service, subjectOf(claims), start, nil)
			return &VerifyResult{Service: service, Method: config.VerifyMethodLocal, Active: true, Claims: claims}, nil
		}
	}

	s.logger.Info("token verification failed",
		zap.String("service", service),
		zap.Error(err))
	return nil, s.fail(ctx, models.AuthActionVerifyLocal, service, "", start, err)
}

// verifyRemote accepts a token only when the provider reports it active.
// An inactive verdict is recorded as a failed verification.
func (s *AuthService) verifyRemote(ctx context.Context, service, token string) (*VerifyResult, error) {
	start := time.Now()
	svc, err := s.registry.Get(service)
	if err == nil {
		var result *keycloak.IntrospectionResult
		result, err = s.introspector.Introspect(ctx, token, svc)
		if err == nil && result.Active {
			s.observe(ctx, models.AuthActionVerifyIntrospect, service, subjectOf(result.Claims), start, nil)
			return &VerifyResult{Service: service, Method: config.VerifyMethodIntrospect, Active: true, Claims: result.Claims}, nil
		}
		if err == nil {
			err = NewDomainError(ErrorTypeUnauthorized, "token is not active", nil).
				WithDetail("reason", "inactive_token")
		}
	}

	s.logger.Info("token verification failed",
		zap.String("service", service),
		zap.Error(err))
	return nil, s.fail(ctx, models.AuthActionVerifyIntrospect, service, "", start, err)
}

// Introspect asks the provider about a token. Inactive tokens are not an
// error here; callers inspect Active.
func (s *AuthService) Introspect(ctx context.Context, service, token string) (*keycloak.IntrospectionResult, error) {
	start := time.Now()
	svc, err := s.registry.Get(service)
	if err == nil {
		var result *keycloak.IntrospectionResult
		result, err = s.introspector.Introspect(ctx, token, svc)
		if err == nil {
			s.observe(ctx, models.AuthActionIntrospect, service, subjectOf(result.Claims), start, nil)
			return result, nil
		}
	}
	return nil, s.fail(ctx, models.AuthActionIntrospect, service, "", start, err)
}

// Reload re-reads the service definition file. On failure the previous
// services stay active.
func (s *AuthService) Reload(ctx context.Context) ([]string, error) {
	start := time.Now()
	if err := s.registry.Reload(); err != nil {
		return nil, s.fail(ctx, models.AuthActionReload, "", "", start, err)
	}
	s.metrics.SetRegisteredServices(s.registry.Len())
	s.keycloak.JWKSCache.Invalidate()
	s.observe(ctx, models.AuthActionReload, "", "", start, nil)
	return s.registry.List(), nil
}

// RecentEvents returns the newest audit events, optionally for one service
func (s *AuthService) RecentEvents(ctx context.Context, service string, limit int) ([]*models.AuthEvent, error) {
	events, err := s.recorder.Recent(ctx, service, limit)
	if err != nil {
		return nil, WrapInternal("failed to read audit events", err)
	}
	return events, nil
}

func (s *AuthService) client(service string) (registry.ServiceConfig, *keycloak.Client, error) {
	svc, err := s.registry.Get(service)
	if err != nil {
		return svc, nil, err
	}
	client, err := keycloak.NewClient(s.keycloak, svc)
	return svc, client, err
}

func (s *AuthService) observe(ctx context.Context, action models.AuthAction, service, subject string, start time.Time, err error) {
	label := service
	if service != "" && !s.registry.Exists(service) {
		label = "unknown"
	}
	s.metrics.ObserveOperation(string(action), label, err, time.Since(start))

	event := models.NewAuthEvent(action, service).
		WithSubject(subject).
		WithRequest(middleware.GetRequestIDFromContext(ctx))
	if err != nil {
		event.WithFailure(Reason(err))
	}
	if recErr := s.recorder.Record(event); recErr != nil {
		s.logger.Debug("audit event not recorded", zap.Error(recErr))
	}
}

func (s *AuthService) fail(ctx context.Context, action models.AuthAction, service, subject string, start time.Time, err error) error {
	s.observe(ctx, action, service, subject, start, err)
	return FromAuthError(err)
}

func subjectOf(claims keycloak.Claims) string {
	if name := claims.PreferredUsername(); name != "" {
		return name
	}
	return claims.Subject()
}
