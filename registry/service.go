// Package registry resolves logical service names to the Keycloak realm and
// client credentials they authenticate against.
//
// The mapping is loaded from a service definition document
// ({"services": {"<name>": {"realm": "...", "client_id": "..."}}}) and the
// client secret of every entry is looked up out-of-band from the environment
// as "<client_id>_KEYCLOAK_CLIENT_SECRET". A Registry holds an immutable
// snapshot of the mapping behind an atomic pointer; Reload builds a complete
// new snapshot and only swaps it in when the whole document is valid.
package registry

import (
	"fmt"
	"os"
)

// SecretSuffix is appended to a client ID to form the environment key holding its secret.
const SecretSuffix = "_KEYCLOAK_CLIENT_SECRET"

// SecretLookup resolves a secret by key. It returns an empty string when the
// secret is not set.
type SecretLookup func(key string) string

// EnvSecretLookup reads secrets from the process environment.
func EnvSecretLookup(key string) string {
	return os.Getenv(key)
}

// SecretKey returns the environment key that holds the secret for clientID.
func SecretKey(clientID string) string {
	return clientID + SecretSuffix
}

// ServiceConfig is the realm and client credentials of one logical service.
type ServiceConfig struct {
	Name         string
	Realm        string
	ClientID     string
	ClientSecret string
}

// IsPublic reports whether the service has no client secret configured.
func (s ServiceConfig) IsPublic() bool {
	return s.ClientSecret == ""
}

// String renders the config without exposing the client secret.
func (s ServiceConfig) String() string {
	secret := "<none>"
	if s.ClientSecret != "" {
		secret = "***"
	}
	return fmt.Sprintf("ServiceConfig(name=%s, realm=%s, client_id=%s, client_secret=%s)",
		s.Name, s.Realm, s.ClientID, secret)
}

// GoString keeps %#v from leaking the secret as well.
func (s ServiceConfig) GoString() string {
	return s.String()
}
