package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/windfire/security-auth/utils"
	"go.uber.org/zap"
)

// RequireBearer rejects requests without an "Authorization: Bearer" header
// and stores the token in the request context. Verification of the token is
// left to the handler, which knows the target service.
func RequireBearer(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token := extractBearerToken(r)
			if token == "" {
				logger.Warn("missing bearer token",
					zap.String("request_id", GetRequestIDFromContext(ctx)),
					zap.String("path", r.URL.Path))
				w.Header().Set("WWW-Authenticate", "Bearer")
				_ = utils.WriteUnauthorized(w, r, "Missing or invalid authorization")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithBearerToken(ctx, token)))
		})
	}
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// RequireToken only admits requests carrying the given bearer token.
func RequireToken(expected string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				logger.Warn("rejected admin request",
					zap.String("request_id", GetRequestIDFromContext(r.Context())),
					zap.String("path", r.URL.Path))
				w.Header().Set("WWW-Authenticate", "Bearer")
				_ = utils.WriteUnauthorized(w, r, "Missing or invalid authorization")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
