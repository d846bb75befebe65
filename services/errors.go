package services

import (
	"errors"
	"fmt"

	"github.com/windfire/security-auth/keycloak"
	"github.com/windfire/security-auth/registry"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Sentinels match any DomainError of the same type through errors.Is.
var (
	ErrServiceNotFound     = NewDomainError(ErrorTypeNotFound, "service not found", nil)
	ErrInvalidInput        = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrUnauthorized        = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrForbidden           = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)
	ErrInternal            = NewDomainError(ErrorTypeInternal, "internal server error", nil)
	ErrProviderUnavailable = NewDomainError(ErrorTypeExternal, "identity provider unavailable", nil)
)

// FromAuthError classifies registry and identity provider errors.
// The message of the returned error is safe to show to clients.
func FromAuthError(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	if errors.Is(err, registry.ErrServiceNotFound) {
		return NewDomainError(ErrorTypeNotFound, err.Error(), err)
	}
	if registry.IsConfigError(err) {
		return NewDomainError(ErrorTypeInternal, "service configuration error", err)
	}

	var authErr *keycloak.AuthError
	if !errors.As(err, &authErr) {
		return NewDomainError(ErrorTypeInternal, "internal server error", err)
	}

	var domain *DomainError
	switch authErr.Kind {
	case keycloak.KindProviderUnavailable:
		domain = NewDomainError(ErrorTypeExternal, authErr.Message, err)
	case keycloak.KindIntrospectionForbidden:
		domain = NewDomainError(ErrorTypeForbidden, authErr.Message, err)
	case keycloak.KindClientSecretRequired, keycloak.KindInvalidConfig:
		domain = NewDomainError(ErrorTypeInternal, authErr.Message, err)
	default:
		domain = NewDomainError(ErrorTypeUnauthorized, authErr.Message, err)
	}
	return domain.WithDetail("reason", string(authErr.Kind))
}

// PublicMessage returns the client-facing message of err
func PublicMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return "internal server error"
}

// Reason returns the machine-readable failure reason recorded for err
func Reason(err error) string {
	if reason, ok := GetErrorDetails(err)["reason"].(string); ok && reason != "" {
		return reason
	}
	if kind := keycloak.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, registry.ErrServiceNotFound) {
		return "service_not_found"
	}
	if registry.IsConfigError(err) {
		return "invalid_service_config"
	}
	if errType := GetErrorType(err); errType != "" {
		return string(errType)
	}
	return "error"
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrServiceNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return errors.Is(err, ErrInternal)
}

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
