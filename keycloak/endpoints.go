// Package keycloak talks to a Keycloak-compatible OpenID Connect provider on
// behalf of a registered service: it runs the OAuth2 grant flows, revokes
// refresh tokens, fetches user info, and verifies bearer tokens either locally
// against the realm's published signing keys or remotely via introspection.
//
// Nothing in this package depends on an HTTP router. Callers resolve a
// registry.ServiceConfig first and hand it to a Client, Verifier or
// Introspector.
package keycloak

import (
	"fmt"
	"strings"
)

// ProviderEndpoints are the OpenID Connect endpoints of one realm.
type ProviderEndpoints struct {
	Token      string
	Userinfo   string
	JWKS       string
	Introspect string
	Revoke     string
}

// ResolveEndpoints builds the realm endpoints under baseURL. Trailing slashes
// on baseURL are dropped. Callers validate that neither argument is empty.
func ResolveEndpoints(baseURL, realm string) ProviderEndpoints {
	prefix := fmt.Sprintf("%s/realms/%s/protocol/openid-connect", strings.TrimRight(baseURL, "/"), realm)
	return ProviderEndpoints{
		Token:      prefix + "/token",
		Userinfo:   prefix + "/userinfo",
		JWKS:       prefix + "/certs",
		Introspect: prefix + "/token/introspect",
		Revoke:     prefix + "/revoke",
	}
}
