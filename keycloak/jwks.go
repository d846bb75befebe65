package keycloak

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// Find returns the first key whose kid matches.
func (s *JWKS) Find(kid string) (*JWK, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Keys {
		if s.Keys[i].Kid == kid {
			return &s.Keys[i], true
		}
	}
	return nil, false
}

// RSAPublicKey builds an RSA public key from the modulus and exponent.
// Only kty RSA is supported. Padded and unpadded base64url are both accepted.
func (k *JWK) RSAPublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, newAuthError(KindUnsupportedKeyType, nil, "unsupported key type: %s", k.Kty)
	}

	n, err := decodeBase64URLInt(k.N)
	if err != nil {
		return nil, newAuthError(KindInvalidKey, err, "failed to convert JWK to public key: modulus: %v", err)
	}
	e, err := decodeBase64URLInt(k.E)
	if err != nil {
		return nil, newAuthError(KindInvalidKey, err, "failed to convert JWK to public key: exponent: %v", err)
	}
	if !e.IsInt64() || e.Int64() > int64(^uint32(0)>>1) {
		return nil, newAuthError(KindInvalidKey, nil, "failed to convert JWK to public key: exponent too large")
	}

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// decodeBase64URLInt decodes a big-endian unsigned integer.
func decodeBase64URLInt(s string) (*big.Int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("empty value")
	}
	v := new(big.Int).SetBytes(raw)
	if v.Sign() == 0 {
		return nil, errors.New("zero value")
	}
	return v, nil
}

// fetchJWKS downloads the key set at url.
func fetchJWKS(ctx context.Context, client *http.Client, logger *zap.Logger, url string) (*JWKS, error) {
	const op = "fetching public keys"

	logger.Debug("fetching public keys (JWKS)", zap.String("url", url))

	resp, err := send(ctx, client, logger, providerCall{
		op:     op,
		method: http.MethodGet,
		url:    url,
	})
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		// the key set is public, so any failure here is the provider's
		return nil, statusError(op, KindProviderUnavailable, resp)
	}

	var jwks JWKS
	if err := decodeJSON(op, resp, &jwks); err != nil {
		return nil, err
	}

	logger.Debug("retrieved public keys", zap.Int("count", len(jwks.Keys)))
	return &jwks, nil
}

// JWKSCache keeps fetched key sets per JWKS URL for a fixed TTL. A nil
// *JWKSCache is valid and caches nothing.
type JWKSCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]jwksEntry
}

type jwksEntry struct {
	jwks    *JWKS
	expires time.Time
}

// NewJWKSCache returns a cache with the given TTL, or nil when ttl is not positive.
func NewJWKSCache(ttl time.Duration) *JWKSCache {
	if ttl <= 0 {
		return nil
	}
	return &JWKSCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]jwksEntry),
	}
}

// TTL returns how long a key set stays cached
func (c *JWKSCache) TTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.ttl
}

func (c *JWKSCache) get(url string) (*JWKS, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[url]
	if !ok || !c.now().Before(entry.expires) {
		return nil, false
	}
	return entry.jwks, true
}

func (c *JWKSCache) put(url string, jwks *JWKS) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries[url] = jwksEntry{jwks: jwks, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops every cached key set
func (c *JWKSCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]jwksEntry)
	c.mu.Unlock()
}

// Len returns the number of cached key sets
func (c *JWKSCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
