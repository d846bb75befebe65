package keycloak

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an AuthError.
type ErrorKind string

const (
	KindAuthFailed             ErrorKind = "auth_failed"
	KindProviderUnavailable    ErrorKind = "provider_unavailable"
	KindInvalidConfig          ErrorKind = "invalid_config"
	KindClientSecretRequired   ErrorKind = "client_secret_required"
	KindNoRefreshToken         ErrorKind = "no_refresh_token"
	KindNoAccessToken          ErrorKind = "no_access_token"
	KindNoKid                  ErrorKind = "no_kid"
	KindKeyNotFound            ErrorKind = "key_not_found"
	KindUnsupportedKeyType     ErrorKind = "unsupported_key_type"
	KindInvalidKey             ErrorKind = "invalid_key"
	KindTokenExpired           ErrorKind = "token_expired"
	KindInvalidToken           ErrorKind = "invalid_token"
	KindIntrospectionForbidden ErrorKind = "introspection_forbidden"
)

// Sentinel errors for use with errors.Is. Matching compares kinds only, so
// errors.Is(err, ErrTokenExpired) holds for any expired-token AuthError.
var (
	ErrAuthFailed             = &AuthError{Kind: KindAuthFailed, Message: "authentication failed"}
	ErrProviderUnavailable    = &AuthError{Kind: KindProviderUnavailable, Message: "identity provider unavailable"}
	ErrInvalidConfig          = &AuthError{Kind: KindInvalidConfig, Message: "missing required Keycloak configuration"}
	ErrClientSecretRequired   = &AuthError{Kind: KindClientSecretRequired, Message: "client secret required"}
	ErrNoRefreshToken         = &AuthError{Kind: KindNoRefreshToken, Message: "no refresh token available"}
	ErrNoAccessToken          = &AuthError{Kind: KindNoAccessToken, Message: "no valid access token available"}
	ErrNoKid                  = &AuthError{Kind: KindNoKid, Message: "token has no 'kid' in header"}
	ErrKeyNotFound            = &AuthError{Kind: KindKeyNotFound, Message: "key not found for kid"}
	ErrUnsupportedKeyType     = &AuthError{Kind: KindUnsupportedKeyType, Message: "unsupported key type"}
	ErrInvalidKey             = &AuthError{Kind: KindInvalidKey, Message: "failed to convert JWK to public key"}
	ErrTokenExpired           = &AuthError{Kind: KindTokenExpired, Message: "token has expired"}
	ErrInvalidToken           = &AuthError{Kind: KindInvalidToken, Message: "invalid token"}
	ErrIntrospectionForbidden = &AuthError{Kind: KindIntrospectionForbidden, Message: "client not permitted to introspect tokens"}
)

// AuthError is the single error type returned by the token client and the
// verifiers. Message is safe to show to callers; it never contains the
// provider's response body.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *AuthError) Error() string {
	return e.Message
}

// Unwrap implements errors.Unwrap
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AuthError of the same kind.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newAuthError(kind ErrorKind, err error, format string, args ...interface{}) *AuthError {
	return &AuthError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// KindOf returns the kind of an AuthError in err's chain, or "" when there is none.
func KindOf(err error) ErrorKind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}

// IsAuthError checks if an error is an AuthError
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
