package keycloak

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/windfire/security-auth/registry"
)

const realmPrefix = "/realms/acme/protocol/openid-connect"

var calendarService = registry.ServiceConfig{
	Name:     "calendar-srv",
	Realm:    "acme",
	ClientID: "calendar-client",
}

func confidential(svc registry.ServiceConfig, secret string) registry.ServiceConfig {
	svc.ClientSecret = secret
	return svc
}

// recordedRequest is what the fake provider saw.
type recordedRequest struct {
	Method        string
	Path          string
	Form          url.Values
	Authorization string
	BasicUser     string
	BasicPass     string
}

// fakeProvider is a minimal Keycloak realm served by httptest.
type fakeProvider struct {
	*httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
	handlers map[string]http.HandlerFunc
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	p := &fakeProvider{handlers: make(map[string]http.HandlerFunc)}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		rec := recordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			Form:          r.PostForm,
			Authorization: r.Header.Get("Authorization"),
		}
		rec.BasicUser, rec.BasicPass, _ = r.BasicAuth()

		p.mu.Lock()
		p.requests = append(p.requests, rec)
		h, ok := p.handlers[r.URL.Path]
		p.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(p.Close)
	return p
}

func (p *fakeProvider) handle(suffix string, h http.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[realmPrefix+suffix] = h
}

func (p *fakeProvider) calls(suffix string) []recordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedRequest
	for _, r := range p.requests {
		if r.Path == realmPrefix+suffix {
			out = append(out, r)
		}
	}
	return out
}

func (p *fakeProvider) config() Config {
	return Config{BaseURL: p.URL + "/", HTTPTimeout: 2 * time.Second}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonHandler(status int, v interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, status, v)
	}
}

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func rsaJWK(kid string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kid: kid,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}
