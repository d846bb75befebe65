package keycloak

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/windfire/security-auth/registry"
	"go.uber.org/zap"
)

// Verifier checks bearer tokens locally against the realm's published keys.
// It holds no per-call state and is safe for concurrent use.
type Verifier struct {
	baseURL        string
	httpClient     *http.Client
	logger         *zap.Logger
	strictAudience bool
	cache          *JWKSCache
	now            func() time.Time
}

// NewVerifier creates a local token verifier
func NewVerifier(cfg Config) *Verifier {
	cfg = cfg.withDefaults()
	return &Verifier{
		baseURL:        cfg.BaseURL,
		httpClient:     cfg.HTTPClient,
		logger:         cfg.Logger,
		strictAudience: cfg.StrictAudience,
		cache:          cfg.JWKSCache,
		now:            cfg.Now,
	}
}

// VerifyLocal checks the token's RS256 signature against the key named by
// its kid header and validates exp, nbf and iat. The audience must contain
// the service's client ID unless the verifier is lenient, in which case a
// mismatch is logged and the token accepted. The verified claims are returned.
func (v *Verifier) VerifyLocal(ctx context.Context, tokenString string, svc registry.ServiceConfig) (Claims, error) {
	if v.baseURL == "" || svc.Realm == "" || svc.ClientID == "" {
		return nil, ErrInvalidConfig
	}
	logger := v.logger.With(zap.String("service", svc.Name), zap.String("realm", svc.Realm))
	logger.Debug("verifying token locally")

	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		logger.Warn("token verification failed", zap.Error(err))
		return nil, newAuthError(KindInvalidToken, err, "invalid token: %v", err)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, ErrNoKid
	}

	key, err := v.publicKey(ctx, ResolveEndpoints(v.baseURL, svc.Realm).JWKS, kid)
	if err != nil {
		logger.Warn("no usable public key for token", zap.String("kid", kid), zap.Error(err))
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(v.now),
	)
	claims := jwt.MapClaims{}
	_, err = parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			logger.Warn("token has expired", zap.String("kid", kid))
			return nil, newAuthError(KindTokenExpired, err, "token has expired")
		}
		logger.Warn("token verification failed", zap.String("kid", kid), zap.Error(err))
		return nil, newAuthError(KindInvalidToken, err, "invalid token: %v", err)
	}

	verified := Claims(claims)
	if !verified.HasAudience(svc.ClientID) {
		if v.strictAudience {
			logger.Warn("token audience mismatch",
				zap.String("expected", svc.ClientID),
				zap.Strings("audience", verified.Audience()))
			return nil, newAuthError(KindInvalidToken, jwt.ErrTokenInvalidAudience,
				"invalid token: audience does not include %s", svc.ClientID)
		}
		logger.Warn("token audience mismatch, accepting without audience verification",
			zap.String("expected", svc.ClientID),
			zap.Strings("audience", verified.Audience()))
	}

	logger.Info("token verified", zap.String("username", verified.PreferredUsername()))
	return verified, nil
}

// publicKey returns the RSA key for kid. With a cache, a kid that is missing
// from a cached key set triggers one refetch before giving up.
func (v *Verifier) publicKey(ctx context.Context, jwksURL, kid string) (*rsa.PublicKey, error) {
	jwks, cached := v.cache.get(jwksURL)
	if !cached {
		var err error
		if jwks, err = v.fetch(ctx, jwksURL); err != nil {
			return nil, err
		}
	}

	jwk, found := jwks.Find(kid)
	if !found && cached {
		v.logger.Info("kid not in cached key set, refetching", zap.String("kid", kid))
		fresh, err := v.fetch(ctx, jwksURL)
		if err != nil {
			return nil, err
		}
		jwk, found = fresh.Find(kid)
	}
	if !found {
		return nil, newAuthError(KindKeyNotFound, nil, "public key with kid '%s' not found", kid)
	}

	return jwk.RSAPublicKey()
}

func (v *Verifier) fetch(ctx context.Context, jwksURL string) (*JWKS, error) {
	jwks, err := fetchJWKS(ctx, v.httpClient, v.logger, jwksURL)
	if err != nil {
		return nil, err
	}
	v.cache.put(jwksURL, jwks)
	return jwks, nil
}
