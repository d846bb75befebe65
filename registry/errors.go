package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceNotFound is returned when a service name is not in the registry
	ErrServiceNotFound = errors.New("service not found")

	// ErrInvalidDocument is returned when the service definition document is malformed
	ErrInvalidDocument = errors.New("invalid service definition")
)

// ConfigError reports a problem loading or querying the service registry.
type ConfigError struct {
	Message string
	Err     error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return e.Message
}

// Unwrap implements errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configErrorf(err error, format string, args ...interface{}) *ConfigError {
	return &ConfigError{
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsConfigError checks if an error is a ConfigError
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
