package keycloak

import (
	"context"
	"net/http"
	"net/url"

	"github.com/windfire/security-auth/registry"
	"go.uber.org/zap"
)

// IntrospectionResult is the provider's verdict on a token. Active is
// authoritative; Claims holds the full response either way.
type IntrospectionResult struct {
	Active bool   `json:"active"`
	Claims Claims `json:"claims"`
}

// Introspector asks the provider whether a token is active.
type Introspector struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewIntrospector creates a remote token verifier
func NewIntrospector(cfg Config) *Introspector {
	cfg = cfg.withDefaults()
	return &Introspector{
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// Introspect posts the token to the realm's introspection endpoint,
// authenticating as the service's client with HTTP Basic auth.
func (i *Introspector) Introspect(ctx context.Context, token string, svc registry.ServiceConfig) (*IntrospectionResult, error) {
	if i.baseURL == "" || svc.Realm == "" || svc.ClientID == "" {
		return nil, ErrInvalidConfig
	}
	if svc.IsPublic() {
		return nil, newAuthError(KindClientSecretRequired, nil, "client secret is required for token introspection")
	}

	logger := i.logger.With(zap.String("service", svc.Name), zap.String("realm", svc.Realm))
	logger.Debug("introspecting token")

	const op = "token introspection"
	resp, err := send(ctx, i.httpClient, logger, providerCall{
		op:     op,
		method: http.MethodPost,
		url:    ResolveEndpoints(i.baseURL, svc.Realm).Introspect,
		form: url.Values{
			"token":           {token},
			"token_type_hint": {"access_token"},
		},
		basicUser: svc.ClientID,
		basicPass: svc.ClientSecret,
	})
	if err != nil {
		return nil, err
	}

	if resp.status == http.StatusForbidden {
		logger.Error("client not allowed to introspect tokens, check the service account roles",
			zap.String("client_id", svc.ClientID))
		return nil, ErrIntrospectionForbidden
	}
	if !resp.ok() {
		return nil, statusError(op, KindAuthFailed, resp)
	}

	var claims Claims
	if err := decodeJSON(op, resp, &claims); err != nil {
		return nil, err
	}

	result := &IntrospectionResult{Active: claims.Active(), Claims: claims}
	logger.Info("token introspected", zap.Bool("active", result.Active))
	return result, nil
}
