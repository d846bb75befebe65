package keycloak

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultHTTPTimeout bounds every outbound call to the provider.
	DefaultHTTPTimeout = 10 * time.Second

	// DefaultExpiresIn is assumed when a token response omits expires_in.
	DefaultExpiresIn = 300

	// maxResponseBytes caps how much of a provider response is read.
	maxResponseBytes = 1 << 20
)

// Config holds the provider settings shared by Client, Verifier and Introspector.
type Config struct {
	// BaseURL is the provider root, e.g. https://sso.example.com
	BaseURL string

	// HTTPTimeout applies when HTTPClient is nil. Defaults to 10s.
	HTTPTimeout time.Duration
	HTTPClient  *http.Client

	Logger *zap.Logger

	// StrictAudience rejects tokens whose aud claim does not name the
	// service's client. When false such tokens are accepted with a warning.
	StrictAudience bool

	// JWKSCache is shared across verifiers. Nil fetches keys on every call.
	JWKSCache *JWKSCache

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.HTTPTimeout}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
