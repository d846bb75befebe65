package keycloak

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/windfire/security-auth/registry"
	"go.uber.org/zap"
)

// TokenState is the token set held by one Client.
type TokenState struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the access token is past its expiry at now.
// A state that was never filled counts as expired.
func (s TokenState) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(s.ExpiresAt)
}

// TokenResponse is the provider's answer to a grant request.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	IDToken          string `json:"id_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	Scope            string `json:"scope,omitempty"`
	SessionState     string `json:"session_state,omitempty"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	NotBeforePolicy  int64  `json:"not-before-policy,omitempty"`
}

// Client runs the OAuth2 grant flows for one service. It keeps the tokens of
// the last successful grant and is meant to be used by a single caller; create
// a new Client per request or session.
type Client struct {
	service    registry.ServiceConfig
	endpoints  ProviderEndpoints
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time

	state TokenState
}

// NewClient creates a token client for the given service.
func NewClient(cfg Config, svc registry.ServiceConfig) (*Client, error) {
	if cfg.BaseURL == "" || svc.Realm == "" || svc.ClientID == "" {
		return nil, ErrInvalidConfig
	}
	cfg = cfg.withDefaults()

	c := &Client{
		service:    svc,
		endpoints:  ResolveEndpoints(cfg.BaseURL, svc.Realm),
		httpClient: cfg.HTTPClient,
		logger: cfg.Logger.With(
			zap.String("service", svc.Name),
			zap.String("realm", svc.Realm),
			zap.String("client_id", svc.ClientID)),
		now: cfg.Now,
	}
	c.logger.Debug("keycloak client initialized", zap.String("token_endpoint", c.endpoints.Token))

	return c, nil
}

// Endpoints returns the realm endpoints the client talks to.
func (c *Client) Endpoints() ProviderEndpoints {
	return c.endpoints
}

// State returns a copy of the stored tokens.
func (c *Client) State() TokenState {
	return c.state
}

// AuthenticateWithPassword runs the resource owner password grant.
func (c *Client) AuthenticateWithPassword(ctx context.Context, username, password string) (*TokenResponse, error) {
	c.logger.Info("authenticating user", zap.String("username", username))

	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {c.service.ClientID},
		"username":   {username},
		"password":   {password},
	}
	c.addSecret(form)

	tokens, err := c.grant(ctx, "authentication", form)
	if err != nil {
		c.logger.Warn("user authentication failed", zap.String("username", username), zap.Error(err))
		return nil, err
	}

	c.logger.Info("user authenticated", zap.String("username", username))
	return tokens, nil
}

// AuthenticateAsService runs the client credentials grant. The service must
// have a client secret.
func (c *Client) AuthenticateAsService(ctx context.Context) (*TokenResponse, error) {
	if c.service.IsPublic() {
		return nil, newAuthError(KindClientSecretRequired, nil, "client secret is required for client credentials flow")
	}

	c.logger.Info("authenticating with client credentials")

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.service.ClientID},
		"client_secret": {c.service.ClientSecret},
	}

	tokens, err := c.grant(ctx, "authentication", form)
	if err != nil {
		c.logger.Warn("service account authentication failed", zap.Error(err))
		return nil, err
	}

	c.logger.Info("service account authenticated")
	return tokens, nil
}

// Refresh exchanges a refresh token for a new token set. An empty
// refreshToken uses the stored one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		refreshToken = c.state.RefreshToken
	}
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	c.logger.Info("refreshing access token")

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.service.ClientID},
		"refresh_token": {refreshToken},
	}
	c.addSecret(form)

	tokens, err := c.grant(ctx, "token refresh", form)
	if err != nil {
		c.logger.Warn("token refresh failed", zap.Error(err))
		return nil, err
	}

	c.logger.Info("access token refreshed")
	return tokens, nil
}

// AccessToken returns the stored access token. When it has expired and a
// refresh token is stored, it refreshes exactly once first.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if c.state.Expired(c.now()) {
		if c.state.RefreshToken == "" {
			return "", ErrNoAccessToken
		}
		c.logger.Info("access token expired, refreshing")
		if _, err := c.Refresh(ctx, ""); err != nil {
			return "", err
		}
	}

	if c.state.AccessToken == "" {
		return "", ErrNoAccessToken
	}
	return c.state.AccessToken, nil
}

// Logout revokes a refresh token. An empty refreshToken uses the stored one;
// when there is none Logout logs a warning and does nothing. On success the
// stored tokens are cleared.
func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		refreshToken = c.state.RefreshToken
	}
	if refreshToken == "" {
		c.logger.Warn("no refresh token available for logout")
		return nil
	}

	c.logger.Info("logging out")

	form := url.Values{
		"client_id":       {c.service.ClientID},
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
	}
	c.addSecret(form)

	resp, err := send(ctx, c.httpClient, c.logger, providerCall{
		op:     "logout",
		method: http.MethodPost,
		url:    c.endpoints.Revoke,
		form:   form,
	})
	if err != nil {
		return err
	}
	if !resp.ok() {
		return statusError("logout", KindAuthFailed, resp)
	}

	c.state = TokenState{}
	c.logger.Info("logged out")
	return nil
}

// UserInfo fetches the userinfo claims for an access token. An empty
// accessToken uses the stored one.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (Claims, error) {
	if accessToken == "" {
		accessToken = c.state.AccessToken
	}
	if accessToken == "" {
		return nil, ErrNoAccessToken
	}

	const op = "fetching user info"
	resp, err := send(ctx, c.httpClient, c.logger, providerCall{
		op:     op,
		method: http.MethodGet,
		url:    c.endpoints.Userinfo,
		bearer: accessToken,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, statusError(op, KindAuthFailed, resp)
	}

	var info Claims
	if err := decodeJSON(op, resp, &info); err != nil {
		return nil, err
	}

	c.logger.Info("user info retrieved", zap.String("username", info.PreferredUsername()))
	return info, nil
}

func (c *Client) addSecret(form url.Values) {
	if !c.service.IsPublic() {
		form.Set("client_secret", c.service.ClientSecret)
	}
}

// grant posts form to the token endpoint and stores the result.
func (c *Client) grant(ctx context.Context, op string, form url.Values) (*TokenResponse, error) {
	resp, err := send(ctx, c.httpClient, c.logger, providerCall{
		op:     op,
		method: http.MethodPost,
		url:    c.endpoints.Token,
		form:   form,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, statusError(op, KindAuthFailed, resp)
	}

	tokens := &TokenResponse{ExpiresIn: DefaultExpiresIn}
	if err := decodeJSON(op, resp, tokens); err != nil {
		return nil, err
	}

	c.store(tokens)
	return tokens, nil
}

func (c *Client) store(tokens *TokenResponse) {
	c.state = TokenState{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    c.now().Add(time.Duration(tokens.ExpiresIn) * time.Second),
	}
	c.logger.Debug("tokens stored", zap.Int64("expires_in", tokens.ExpiresIn))
}
