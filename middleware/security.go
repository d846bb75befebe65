package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/windfire/security-auth/utils"
	"go.uber.org/zap"
)

// SecurityHeaders adds the standard hardening headers to every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		next.ServeHTTP(w, r)
	})
}

// EnforceHTTPS redirects plain HTTP requests to https with a 307 so the
// method and body are preserved. Requests terminated by a proxy are
// recognised through X-Forwarded-Proto / X-Forwarded-Ssl. Exempt paths
// (load balancer health checks) are always served.
func EnforceHTTPS(logger *zap.Logger, exemptPaths ...string) func(http.Handler) http.Handler {
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exempt[r.URL.Path]; ok || IsHTTPS(r) {
				next.ServeHTTP(w, r)
				return
			}

			target := "https://" + r.Host + r.URL.RequestURI()
			logger.Warn("redirecting HTTP to HTTPS", zap.String("path", r.URL.Path))
			http.Redirect(w, r, target, http.StatusTemporaryRedirect)
		})
	}
}

// IsHTTPS reports whether the request reached us, or the fronting proxy, over TLS
func IsHTTPS(r *http.Request) bool {
	return r.TLS != nil ||
		strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") ||
		strings.EqualFold(r.Header.Get("X-Forwarded-Ssl"), "on")
}

// TrustedHosts rejects requests whose Host header is not in allowed.
// A "*" entry or an empty list allows every host; "*.example.com" matches
// any subdomain of example.com.
func TrustedHosts(allowed []string, logger *zap.Logger) func(http.Handler) http.Handler {
	var hosts []string
	for _, h := range allowed {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "*" {
			hosts = nil
			break
		}
		if h != "" {
			hosts = append(hosts, h)
		}
	}

	return func(next http.Handler) http.Handler {
		if len(hosts) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := strings.ToLower(r.Host)
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			if !hostAllowed(host, hosts) {
				logger.Warn("rejected untrusted host",
					zap.String("host", r.Host),
					zap.String("request_id", GetRequestIDFromContext(r.Context())))
				_ = utils.WriteBadRequest(w, r, "Invalid host header", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hostAllowed(host string, allowed []string) bool {
	for _, pattern := range allowed {
		if strings.HasPrefix(pattern, "*.") {
			if strings.HasSuffix(host, pattern[1:]) {
				return true
			}
			continue
		}
		if host == pattern {
			return true
		}
	}
	return false
}
