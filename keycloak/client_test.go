package keycloak

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windfire/security-auth/registry"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestResolveEndpoints(t *testing.T) {
	want := ProviderEndpoints{
		Token:      "https://sso.example.com/realms/acme/protocol/openid-connect/token",
		Userinfo:   "https://sso.example.com/realms/acme/protocol/openid-connect/userinfo",
		JWKS:       "https://sso.example.com/realms/acme/protocol/openid-connect/certs",
		Introspect: "https://sso.example.com/realms/acme/protocol/openid-connect/token/introspect",
		Revoke:     "https://sso.example.com/realms/acme/protocol/openid-connect/revoke",
	}

	assert.Equal(t, want, ResolveEndpoints("https://sso.example.com", "acme"))
	assert.Equal(t, want, ResolveEndpoints("https://sso.example.com/", "acme"))
	assert.Equal(t, want, ResolveEndpoints("https://sso.example.com//", "acme"))
}

func TestNewClient_RequiresConfiguration(t *testing.T) {
	_, err := NewClient(Config{}, calendarService)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewClient(Config{BaseURL: "http://sso"}, registry.ServiceConfig{Name: "x", Realm: "acme"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestAuthenticateWithPassword(t *testing.T) {
	t.Run("stores tokens and expiry", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/token", jsonHandler(http.StatusOK, map[string]interface{}{
			"access_token":  "tok1",
			"expires_in":    300,
			"refresh_token": "ref1",
			"token_type":    "Bearer",
		}))

		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		cfg := p.config()
		cfg.Now = func() time.Time { return now }

		client, err := NewClient(cfg, calendarService)
		require.NoError(t, err)

		tokens, err := client.AuthenticateWithPassword(context.Background(), "alice", "secret1")
		require.NoError(t, err)
		assert.Equal(t, "tok1", tokens.AccessToken)
		assert.Equal(t, "Bearer", tokens.TokenType)
		assert.Equal(t, int64(300), tokens.ExpiresIn)

		assert.Equal(t, TokenState{
			AccessToken:  "tok1",
			RefreshToken: "ref1",
			ExpiresAt:    now.Add(300 * time.Second),
		}, client.State())

		calls := p.calls("/token")
		require.Len(t, calls, 1)
		assert.Equal(t, http.MethodPost, calls[0].Method)
		assert.Equal(t, "password", calls[0].Form.Get("grant_type"))
		assert.Equal(t, "calendar-client", calls[0].Form.Get("client_id"))
		assert.Equal(t, "alice", calls[0].Form.Get("username"))
		assert.Equal(t, "secret1", calls[0].Form.Get("password"))
		_, hasSecret := calls[0].Form["client_secret"]
		assert.False(t, hasSecret)
	})

	t.Run("sends the client secret when configured", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/token", jsonHandler(http.StatusOK, map[string]interface{}{"access_token": "tok"}))

		client, err := NewClient(p.config(), confidential(calendarService, "s3cret"))
		require.NoError(t, err)

		_, err = client.AuthenticateWithPassword(context.Background(), "alice", "pw")
		require.NoError(t, err)
		assert.Equal(t, "s3cret", p.calls("/token")[0].Form.Get("client_secret"))
	})

	t.Run("defaults expires_in to 300 seconds", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/token", jsonHandler(http.StatusOK, map[string]interface{}{"access_token": "tok"}))

		now := time.Now()
		cfg := p.config()
		cfg.Now = func() time.Time { return now }
		client, err := NewClient(cfg, calendarService)
		require.NoError(t, err)

		tokens, err := client.AuthenticateWithPassword(context.Background(), "alice", "pw")
		require.NoError(t, err)
		assert.Equal(t, int64(DefaultExpiresIn), tokens.ExpiresIn)
		assert.Equal(t, now.Add(5*time.Minute), client.State().ExpiresAt)
	})

	t.Run("rejected credentials do not leak the provider body", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/token", jsonHandler(http.StatusUnauthorized, map[string]string{
			"error":             "invalid_grant",
			"error_description": "internal-detail-xyz",
		}))

		core, logs := observer.New(zap.WarnLevel)
		cfg := p.config()
		cfg.Logger = zap.New(core)
		client, err := NewClient(cfg, calendarService)
		require.NoError(t, err)

		_, err = client.AuthenticateWithPassword(context.Background(), "alice", "wrong")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuthFailed)
		assert.NotContains(t, err.Error(), "internal-detail-xyz")
		assert.Contains(t, err.Error(), "401")
		assert.Equal(t, TokenState{}, client.State())
		assert.NotZero(t, logs.FilterMessage("provider returned error status").Len())
	})

	t.Run("provider server error is unavailable", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/token", jsonHandler(http.StatusBadGateway, map[string]string{}))

		client, err := NewClient(p.config(), calendarService)
		require.NoError(t, err)

		_, err = client.AuthenticateWithPassword(context.Background(), "alice", "pw")
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	})

	t.Run("unreachable provider", func(t *testing.T) {
		p := newFakeProvider(t)
		cfg := p.config()
		p.Close()

		client, err := NewClient(cfg, calendarService)
		require.NoError(t, err)

		_, err = client.AuthenticateWithPassword(context.Background(), "alice", "pw")
		assert.ErrorIs(t, err, ErrProviderUnavailable)
	})

	t.Run("malformed response", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/token", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		})

		client, err := NewClient(p.config(), calendarService)
		require.NoError(t, err)

		_, err = client.AuthenticateWithPassword(context.Background(), "alice", "pw")
		assert.True(t, IsAuthError(err))
	})
}

func TestAuthenticateAsService(t *testing.T) {
	t.Run("requires a client secret", func(t *testing.T) {
		p := newFakeProvider(t)
		client, err := NewClient(p.config(), calendarService)
		require.NoError(t, err)

		_, err = client.AuthenticateAsService(context.Background())
		assert.ErrorIs(t, err, ErrClientSecretRequired)
		assert.Empty(t, p.calls("/token"))
	})

	t.Run("client credentials grant", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/token", jsonHandler(http.StatusOK, map[string]interface{}{
			"access_token": "svc-token",
			"expires_in":   60,
		}))

		client, err := NewClient(p.config(), confidential(calendarService, "s3cret"))
		require.NoError(t, err)

		tokens, err := client.AuthenticateAsService(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "svc-token", tokens.AccessToken)

		form := p.calls("/token")[0].Form
		assert.Equal(t, "client_credentials", form.Get("grant_type"))
		assert.Equal(t, "calendar-client", form.Get("client_id"))
		assert.Equal(t, "s3cret", form.Get("client_secret"))
	})
}

func TestRefresh(t *testing.T) {
	t.Run("without any refresh token", func(t *testing.T) {
		p := newFakeProvider(t)
		client, err := NewClient(p.config(), calendarService)
		require.NoError(t, err)

		_, err = client.Refresh(context.Background(), "")
		assert.ErrorIs(t, err, ErrNoRefreshToken)
		assert.Empty(t, p.calls("/token"))
	})

	t.Run("explicit token", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/token", jsonHandler(http.StatusOK, map[string]interface{}{
			"access_token":  "tok2",
			"refresh_token": "ref2",
		}))

		client, err := NewClient(p.config(), calendarService)
		require.NoError(t, err)

		tokens, err := client.Refresh(context.Background(), "given-ref")
		require.NoError(t, err)
		assert.Equal(t, "tok2", tokens.AccessToken)
		assert.Equal(t, "ref2", client.State().RefreshToken)

		form := p.calls("/token")[0].Form
		assert.Equal(t, "refresh_token", form.Get("grant_type"))
		assert.Equal(t, "given-ref", form.Get("refresh_token"))
	})
}

func TestAccessToken(t *testing.T) {
	t.Run("no tokens at all", func(t *testing.T) {
		p := newFakeProvider(t)
		client, err := NewClient(p.config(), calendarService)
		require.NoError(t, err)

		token, err := client.AccessToken(context.Background())
		assert.ErrorIs(t, err, ErrNoAccessToken)
		assert.Empty(t, token)
		assert.Empty(t, p.calls("/token"))
	})

	t.Run("valid token is returned without refreshing", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/token", jsonHandler(http.StatusOK, map[string]interface{}{
			"access_token": "tok1", "refresh_token": "ref1", "expires_in": 300,
		}))
		client, err := NewClient(p.config(), calendarService)
		require.NoError(t, err)
		_, err = client.AuthenticateWithPassword(context.Background(), "alice", "secret1")
		require.NoError(t, err)

		token, err := client.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok1", token)
		assert.Len(t, p.calls("/token"), 1)
	})

	t.Run("expired token is refreshed exactly once", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/token", func(w http.ResponseWriter, r *http.Request) {
			if r.PostForm.Get("grant_type") == "refresh_token" {
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"access_token": "tok2", "refresh_token": "ref2", "expires_in": 300,
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token": "tok1", "refresh_token": "ref1", "expires_in": 300,
			})
		})

		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		cfg := p.config()
		cfg.Now = func() time.Time { return now }
		client, err := NewClient(cfg, calendarService)
		require.NoError(t, err)

		_, err = client.AuthenticateWithPassword(context.Background(), "alice", "secret1")
		require.NoError(t, err)

		now = now.Add(301 * time.Second)
		token, err := client.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok2", token)

		calls := p.calls("/token")
		require.Len(t, calls, 2)
		assert.Equal(t, "refresh_token", calls[1].Form.Get("grant_type"))
		assert.Equal(t, "ref1", calls[1].Form.Get("refresh_token"))
	})

	t.Run("failed refresh is returned", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/token", func(w http.ResponseWriter, r *http.Request) {
			if r.PostForm.Get("grant_type") == "refresh_token" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token": "tok1", "refresh_token": "ref1", "expires_in": 0,
			})
		})

		client, err := NewClient(p.config(), calendarService)
		require.NoError(t, err)
		_, err = client.AuthenticateWithPassword(context.Background(), "alice", "secret1")
		require.NoError(t, err)

		_, err = client.AccessToken(context.Background())
		assert.ErrorIs(t, err, ErrAuthFailed)
		assert.Len(t, p.calls("/token"), 2)
	})
}

func TestLogout(t *testing.T) {
	t.Run("without refresh token is a no-op", func(t *testing.T) {
		p := newFakeProvider(t)
		core, logs := observer.New(zap.WarnLevel)
		cfg := p.config()
		cfg.Logger = zap.New(core)
		client, err := NewClient(cfg, calendarService)
		require.NoError(t, err)

		require.NoError(t, client.Logout(context.Background(), ""))
		assert.Empty(t, p.calls("/revoke"))
		assert.Equal(t, 1, logs.FilterMessage("no refresh token available for logout").Len())
	})

	t.Run("revokes and clears stored tokens", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/token", jsonHandler(http.StatusOK, map[string]interface{}{
			"access_token": "tok1", "refresh_token": "ref1",
		}))
		p.handle("/revoke", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		client, err := NewClient(p.config(), confidential(calendarService, "s3cret"))
		require.NoError(t, err)
		_, err = client.AuthenticateWithPassword(context.Background(), "alice", "secret1")
		require.NoError(t, err)

		require.NoError(t, client.Logout(context.Background(), ""))
		assert.Equal(t, TokenState{}, client.State())

		calls := p.calls("/revoke")
		require.Len(t, calls, 1)
		assert.Equal(t, "calendar-client", calls[0].Form.Get("client_id"))
		assert.Equal(t, "ref1", calls[0].Form.Get("token"))
		assert.Equal(t, "refresh_token", calls[0].Form.Get("token_type_hint"))
		assert.Equal(t, "s3cret", calls[0].Form.Get("client_secret"))
	})

	t.Run("failure keeps stored tokens", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/token", jsonHandler(http.StatusOK, map[string]interface{}{
			"access_token": "tok1", "refresh_token": "ref1",
		}))
		p.handle("/revoke", jsonHandler(http.StatusBadRequest, map[string]string{"error": "invalid_token"}))

		client, err := NewClient(p.config(), calendarService)
		require.NoError(t, err)
		_, err = client.AuthenticateWithPassword(context.Background(), "alice", "secret1")
		require.NoError(t, err)

		err = client.Logout(context.Background(), "")
		assert.ErrorIs(t, err, ErrAuthFailed)
		assert.Equal(t, "ref1", client.State().RefreshToken)
	})
}

func TestUserInfo(t *testing.T) {
	t.Run("uses the bearer token", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/userinfo", jsonHandler(http.StatusOK, map[string]interface{}{
			"sub":                "1234",
			"preferred_username": "alice",
		}))

		client, err := NewClient(p.config(), calendarService)
		require.NoError(t, err)

		info, err := client.UserInfo(context.Background(), "tok1")
		require.NoError(t, err)
		assert.Equal(t, "alice", info.PreferredUsername())
		assert.Equal(t, "1234", info.Subject())

		calls := p.calls("/userinfo")
		require.Len(t, calls, 1)
		assert.Equal(t, http.MethodGet, calls[0].Method)
		assert.Equal(t, "Bearer tok1", calls[0].Authorization)
	})

	t.Run("fails without any access token", func(t *testing.T) {
		p := newFakeProvider(t)
		client, err := NewClient(p.config(), calendarService)
		require.NoError(t, err)

		_, err = client.UserInfo(context.Background(), "")
		assert.ErrorIs(t, err, ErrNoAccessToken)
		assert.Empty(t, p.calls("/userinfo"))
	})

	t.Run("rejected token", func(t *testing.T) {
		p := newFakeProvider(t)
		p.handle("/userinfo", jsonHandler(http.StatusUnauthorized, map[string]string{"error": "invalid_token"}))

		client, err := NewClient(p.config(), calendarService)
		require.NoError(t, err)

		_, err = client.UserInfo(context.Background(), "stale")
		assert.ErrorIs(t, err, ErrAuthFailed)
	})
}

func TestTokenState_Expired(t *testing.T) {
	now := time.Now()

	assert.True(t, TokenState{}.Expired(now))
	assert.True(t, TokenState{ExpiresAt: now}.Expired(now))
	assert.False(t, TokenState{ExpiresAt: now.Add(time.Second)}.Expired(now))
}
